package worker

import "log/slog"

// ResolveLogger guarantees a non-nil logger for worker and handler code paths.
func ResolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
