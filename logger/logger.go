package logger

// Logger is the minimal structured logging surface the engine needs.
// Implementations accept alternating key/value pairs.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}
