package config

import (
	"fmt"
	"strings"
	"sync"

	"memberpay/internal/types"
)

// Mode selects which credential triple is in use.
type Mode string

const (
	ModeLive    Mode = "live"
	ModeSandbox Mode = "sandbox"
)

// GatewayConfig is the runtime gateway configuration shared by the
// synchronizer, the checkout initiator, the webhook handler and the Stripe
// client. Updates go through the setters so every holder observes them
// immediately.
type GatewayConfig struct {
	mu       sync.RWMutex
	mode     Mode
	live     StripeKeys
	test     StripeKeys
	currency string
	active   bool
	events   map[string]bool
}

// NewGatewayConfig builds the runtime view from the loaded Stripe settings.
func NewGatewayConfig(c StripeConfig) *GatewayConfig {
	mode := ModeSandbox
	if c.Mode == string(ModeLive) {
		mode = ModeLive
	}
	return &GatewayConfig{
		mode:     mode,
		live:     c.LiveKeys(),
		test:     c.TestKeys(),
		currency: strings.ToLower(c.Currency),
		active:   c.Active,
		events:   acceptedEvents(c.WebhookEvents),
	}
}

// acceptedEvents intersects the configured capability set with the
// whitelist. An empty configuration accepts the whole whitelist.
func acceptedEvents(configured []string) map[string]bool {
	out := make(map[string]bool, len(types.WebhookWhitelist))
	if len(configured) == 0 {
		for _, e := range types.WebhookWhitelist {
			out[e] = true
		}
		return out
	}
	for _, e := range configured {
		e = strings.TrimSpace(e)
		if types.IsWhitelistedEvent(e) {
			out[e] = true
		}
	}
	return out
}

// AcceptsEvent reports whether an event type is dispatched.
func (g *GatewayConfig) AcceptsEvent(eventType string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.events[eventType]
}

// SetAcceptedEvents replaces the capability set.
func (g *GatewayConfig) SetAcceptedEvents(events []string) {
	accepted := acceptedEvents(events)
	g.mu.Lock()
	g.events = accepted
	g.mu.Unlock()
}

// SetMode switches between live and sandbox credentials.
func (g *GatewayConfig) SetMode(m Mode) error {
	if m != ModeLive && m != ModeSandbox {
		return fmt.Errorf("unknown gateway mode %q", m)
	}
	g.mu.Lock()
	g.mode = m
	g.mu.Unlock()
	return nil
}

// SetKeys replaces the credential triple for one mode.
func (g *GatewayConfig) SetKeys(m Mode, keys StripeKeys) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch m {
	case ModeLive:
		g.live = keys
	case ModeSandbox:
		g.test = keys
	default:
		return fmt.Errorf("unknown gateway mode %q", m)
	}
	return nil
}

// SetActive toggles the gateway on or off.
func (g *GatewayConfig) SetActive(active bool) {
	g.mu.Lock()
	g.active = active
	g.mu.Unlock()
}

// SetCurrency sets the site-wide billing currency (ISO 4217, lowercased).
func (g *GatewayConfig) SetCurrency(currency string) {
	g.mu.Lock()
	g.currency = strings.ToLower(currency)
	g.mu.Unlock()
}

// Mode returns the active mode.
func (g *GatewayConfig) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// IsLive reports whether live credentials are in use.
func (g *GatewayConfig) IsLive() bool {
	return g.Mode() == ModeLive
}

func (g *GatewayConfig) keys() StripeKeys {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.mode == ModeLive {
		return g.live
	}
	return g.test
}

// SecretKey returns the active mode's API secret key.
func (g *GatewayConfig) SecretKey() SecretString { return g.keys().SecretKey }

// PublishableKey returns the active mode's publishable key.
func (g *GatewayConfig) PublishableKey() string { return g.keys().PublishableKey }

// SigningSecret returns the active mode's webhook signing secret.
func (g *GatewayConfig) SigningSecret() SecretString { return g.keys().WebhookSecret }

// Currency returns the billing currency.
func (g *GatewayConfig) Currency() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.currency
}

// IsActive reports whether the gateway is switched on.
func (g *GatewayConfig) IsActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

// IsConfigured reports whether both keys of the active mode are present.
func (g *GatewayConfig) IsConfigured() bool {
	k := g.keys()
	return strings.TrimSpace(k.PublishableKey) != "" && strings.TrimSpace(k.SecretKey.Unmask()) != ""
}

// Ready reports whether the gateway may be used at all.
func (g *GatewayConfig) Ready() bool {
	return g.IsActive() && g.IsConfigured()
}
