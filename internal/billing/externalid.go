// Package billing keeps local memberships, coupons, relationships and
// invoices consistent with the hosted-checkout provider. The Synchronizer
// pushes plan and coupon definitions outward; the Reconciler applies
// verified webhook events inward.
package billing

import (
	"crypto/md5"
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"
)

// ItemType namespaces derived external ids.
type ItemType string

const (
	ItemPlan   ItemType = "plan"
	ItemCoupon ItemType = "coupon"
	ItemItem   ItemType = "item"
)

// idAlphabet is the digit set of the hash suffix. It carries duplicate
// letters, so the radix is 62 but 'W' and 'w' never appear. Existing remote
// objects were created with these ids; do not correct it.
const idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVXXYZabcdefghijklmnopqrstuvxxyz"

var idRadix = big.NewInt(int64(len(idAlphabet)))

// IDDeriver derives the stable remote id of a local object. Ids embed a
// hash of the site identity so several sites can share one Stripe account.
type IDDeriver struct {
	site string
}

// NewIDDeriver returns a deriver bound to the site identity (its URL).
func NewIDDeriver(site string) *IDDeriver {
	return &IDDeriver{site: site}
}

// Derive returns "ms-<type>-<localID>-<hash>". An empty item type
// derives an "item" id.
func (d *IDDeriver) Derive(localID int64, itemType ItemType) string {
	if itemType == "" {
		itemType = ItemItem
	}
	id := strconv.FormatInt(localID, 10)

	sum := md5.Sum([]byte(d.site + string(itemType) + id))
	return "ms-" + string(itemType) + "-" + id + "-" + rebase(hex.EncodeToString(sum[:]))
}

// rebase converts a lowercase hex string to idAlphabet digits, most
// significant first.
func rebase(hexDigits string) string {
	n, ok := new(big.Int).SetString(hexDigits, 16)
	if !ok || n.Sign() == 0 {
		return idAlphabet[:1]
	}

	var b strings.Builder
	digits := make([]byte, 0, 24)
	mod := new(big.Int)
	for n.Sign() > 0 {
		n.QuoRem(n, idRadix, mod)
		digits = append(digits, idAlphabet[mod.Int64()])
	}
	for i := len(digits) - 1; i >= 0; i-- {
		b.WriteByte(digits[i])
	}
	return b.String()
}
