package checkout

import (
	"encoding/hex"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"memberpay/internal/types"
)

// nonceSize is the MAC length in bytes.
const nonceSize = 16

// NonceSigner tags return URLs with a keyed BLAKE2b MAC of the gateway and
// relationship id. The tag lets the landing page spot hand-edited URLs; it
// never confirms a payment.
type NonceSigner struct {
	key []byte
}

// NewNonceSigner returns a signer for the key. BLAKE2b accepts keys of at
// most 64 bytes, so longer keys are truncated.
func NewNonceSigner(key types.SecretString) *NonceSigner {
	k := []byte(key.Unmask())
	if len(k) > blake2b.Size {
		k = k[:blake2b.Size]
	}
	return &NonceSigner{key: k}
}

// Sign returns the hex nonce for a relationship.
func (s *NonceSigner) Sign(relationshipID int64) string {
	h, err := blake2b.New(nonceSize, s.key)
	if err != nil {
		// Only reachable with an over-long key, which the constructor prevents.
		return ""
	}
	h.Write([]byte(types.GatewayID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(relationshipID, 10)))
	return hex.EncodeToString(h.Sum(nil))
}
