package logging

// nopLogger discards everything. Used in tests and as a safe default.
type nopLogger struct{}

// NewNop returns a logger that discards all messages.
func NewNop() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...Field)        {}
func (nopLogger) Info(string, ...Field)         {}
func (nopLogger) Warn(string, ...Field)         {}
func (nopLogger) Error(string, error, ...Field) {}
func (nopLogger) WithFields(...Field) Logger    { return nopLogger{} }
