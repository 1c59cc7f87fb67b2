package logger

// Logger is a minimal structured logging interface used by the enforcer.
// Implementations should accept alternating key/value pairs as variadic
// arguments. This keeps the interface small and easy to mock in tests.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}
