package slogger

// DevNullLogger discards everything. It is the default so library code can
// log unconditionally without configuring output.
type DevNullLogger struct{}

func NewDevNullLogger() *DevNullLogger { return &DevNullLogger{} }

func (l *DevNullLogger) Debug(msg string, keysAndValues ...any) {}
func (l *DevNullLogger) Info(msg string, keysAndValues ...any)  {}
func (l *DevNullLogger) Warn(msg string, keysAndValues ...any)  {}
func (l *DevNullLogger) Error(msg string, keysAndValues ...any) {}
func (l *DevNullLogger) With(keysAndValues ...any) Logger       { return l }
