package logger

// Logger is the minimal structured logging contract used across the engine.
// Implementations accept alternating key/value pairs as variadic arguments.
// This keeps the interface small and easy to mock in tests.
type Logger interface {
	Error(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}
