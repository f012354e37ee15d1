package logger

import (
	"log/slog"
	"time"
)

// Attribute helpers use the empty Attr pattern for nil safety, so callers
// never need explicit nil checks.

// Error creates an attribute for a single error under the key "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Domain names the fully qualified domain a record concerns.
func Domain(fqdn string) slog.Attr {
	return slog.String("domain", fqdn)
}

// Zone names the DNS zone a record concerns.
func Zone(name string) slog.Attr {
	return slog.String("zone", name)
}

// Component names the subsystem emitting the record.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Elapsed logs the duration since start.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}
