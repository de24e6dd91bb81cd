package domain

import "log/slog"

// Secret holds a credential. Its printed and logged forms are redacted.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Reveal returns the raw credential.
func (s Secret) Reveal() string {
	return string(s)
}
