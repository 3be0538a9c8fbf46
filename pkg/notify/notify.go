package notify

import "log/slog"

// Sink receives user-facing notices pushed from the server.
type Sink interface {
	Notice(kind, text string)
}

// LogSink writes notices to structured logs.
type LogSink struct {
	Logger *slog.Logger
}

func (s LogSink) Notice(kind, text string) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("server_notice",
		slog.String("kind", kind),
		slog.String("text", text))
}

// Func adapts a function to the Sink interface.
type Func func(kind, text string)

func (f Func) Notice(kind, text string) { f(kind, text) }
