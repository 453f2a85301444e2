// Package logging defines the minimal structured-logging contract used by
// the vault core. The concrete backend (slog here) stays behind the
// interface so services never import it directly.
package logging

import "context"

// Logger is a context-aware, structured logger. Variadic args are
// interpreted as key-value pairs:
//
//	log.Info(ctx, "capability issued", "record_id", id, "max_uses", n)
//
// Implementations must never be handed key material or decrypted PHI.
type Logger interface {
	// Debug logs diagnostic detail that is safe to drop in production.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}
