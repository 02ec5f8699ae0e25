package types

import "log/slog"

const redactedPlaceholder = "***REDACTED***"

// SecretString holds Stripe keys, webhook signing secrets and the admin API
// key. It formats, marshals and logs as a placeholder; call Unmask where the
// plaintext is needed.
type SecretString string

func (s SecretString) String() string { return redactedPlaceholder }

// GoString keeps %#v from printing the raw value.
func (s SecretString) GoString() string { return redactedPlaceholder }

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redactedPlaceholder + `"`), nil
}

// LogValue implements slog.LogValuer.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(redactedPlaceholder)
}

// Hint identifies a Stripe key without revealing it: the key prefix
// (sk_live, whsec, ...) plus its last four characters.
func (s SecretString) Hint() string {
	v := string(s)
	if len(v) < 12 {
		return redactedPlaceholder
	}
	prefix := v[:2]
	for i := 0; i < len(v)-4 && i < 8; i++ {
		if v[i] == '_' {
			prefix = v[:i]
		}
	}
	return prefix + "_..." + v[len(v)-4:]
}

func (s SecretString) Unmask() string { return string(s) }

func (s SecretString) IsZero() bool { return s == "" }
