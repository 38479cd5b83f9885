package audit

import "log/slog"

// LogAuditor implements Auditor by logging to slog
type LogAuditor struct {
	logger *slog.Logger
}

// NewLogAuditor creates a new LogAuditor
func NewLogAuditor(logger *slog.Logger) *LogAuditor {
	return &LogAuditor{
		logger: logger,
	}
}

// AuditEvent logs the event using structured logging. Failed events and
// parse warnings are logged at warn level, everything else at info.
func (a *LogAuditor) AuditEvent(ev Event) {
	attrs := []any{"kind", string(ev.Kind)}
	if ev.Pid != 0 {
		attrs = append(attrs, "pid", ev.Pid)
	}

	switch ev.Kind {
	case KindChildStarted, KindStatus:
		attrs = append(attrs, "command", ev.Command, "args", ev.Args)
	case KindCommand:
		attrs = append(attrs, "method", ev.Method, "id", ev.ID)
	case KindChildExited:
		attrs = append(attrs, "command", ev.Command, "exit_code", ev.ExitCode)
	}

	if ev.Failed() || ev.Kind == KindParseWarning {
		a.logger.Warn("AUDIT", append(attrs, "error", ev.Error)...)
		return
	}
	a.logger.Info("AUDIT", attrs...)
}
