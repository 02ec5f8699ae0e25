package external

import (
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"memberpay/internal/types"
)

// StripeVerifier implements WebhookVerifier with stripe-go's signature
// check (HMAC-SHA256 plus timestamp tolerance). Events signed for a
// different API version are accepted; only the fields memberpay reads are
// decoded.
type StripeVerifier struct{}

// Verify validates payload and returns the parsed envelope.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) (*Event, error) {
	if strings.TrimSpace(header) == "" {
		return nil, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "missing Stripe-Signature header", nil)
	}
	if secret == "" {
		return nil, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "no webhook signing secret configured", nil)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthSignatureInvalid, "webhook signature verification failed", err)
	}
	if ev.ID == "" || ev.Type == "" {
		return nil, types.NewAppError(types.ErrCodeValidationWebhookPayload, "event envelope missing id or type",
			errors.New("incomplete event"))
	}

	out := &Event{
		ID:       ev.ID,
		Type:     string(ev.Type),
		Created:  time.Unix(ev.Created, 0).UTC(),
		LiveMode: ev.Livemode,
	}
	if ev.Data != nil {
		out.Object = ev.Data.Raw
	}
	return out, nil
}
