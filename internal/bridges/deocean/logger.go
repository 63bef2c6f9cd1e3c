package deocean

import "sync"

// Logger interface for optional logging.
// Satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// logSink holds an optional Logger that may be swapped at runtime.
// A nil logger discards everything.
type logSink struct {
	mu     sync.RWMutex
	logger Logger
}

func (s *logSink) set(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

func (s *logSink) get() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

func (s *logSink) logDebug(msg string, keysAndValues ...any) {
	if logger := s.get(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (s *logSink) logInfo(msg string, keysAndValues ...any) {
	if logger := s.get(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *logSink) logWarn(msg string, keysAndValues ...any) {
	if logger := s.get(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs msg with err attached under the "error" key.
func (s *logSink) logError(msg string, err error, keysAndValues ...any) {
	if logger := s.get(); logger != nil {
		logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
	}
}
