package cache

import (
	"context"
	"log/slog"
	"time"
)

const (
	// keyNamespace prefixes every fingerprint key.
	keyNamespace = "ms-stripe-"
	// maxKeyLength is the backing store's key ceiling. Truncation collisions
	// only ever cause an extra sync.
	maxKeyLength = 45
	// FingerprintTTL bounds how long a fingerprint suppresses a sync.
	FingerprintTTL = time.Hour
)

// FingerprintCache remembers the last intent serialization pushed for each
// remote object.
type FingerprintCache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewFingerprintCache wraps a Store. A nil logger uses slog.Default().
func NewFingerprintCache(store Store, logger *slog.Logger) *FingerprintCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &FingerprintCache{store: store, ttl: FingerprintTTL, logger: logger}
}

// Key returns the store key for an external id.
func Key(externalID string) string {
	k := keyNamespace + externalID
	if len(k) > maxKeyLength {
		k = k[:maxKeyLength]
	}
	return k
}

// Get returns the cached fingerprint. Store failures read as a miss.
func (c *FingerprintCache) Get(ctx context.Context, externalID string) (string, bool) {
	v, ok, err := c.store.Get(ctx, Key(externalID))
	if err != nil {
		c.logger.WarnContext(ctx, "fingerprint cache read failed",
			"external_id", externalID,
			"error", err,
		)
		return "", false
	}
	return v, ok
}

// Matches reports whether the cached fingerprint equals fingerprint.
func (c *FingerprintCache) Matches(ctx context.Context, externalID, fingerprint string) bool {
	v, ok := c.Get(ctx, externalID)
	return ok && v == fingerprint
}

// Set stores a fingerprint. Store failures are logged and dropped.
func (c *FingerprintCache) Set(ctx context.Context, externalID, fingerprint string) {
	if err := c.store.Set(ctx, Key(externalID), fingerprint, c.ttl); err != nil {
		c.logger.WarnContext(ctx, "fingerprint cache write failed",
			"external_id", externalID,
			"error", err,
		)
	}
}
