package audit

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
)

// InstrumentationName is the OpenTelemetry scope audit records are emitted
// under.
const InstrumentationName = "github.com/coder/nslite/audit"

// OTelAuditor implements Auditor by emitting OpenTelemetry log records.
type OTelAuditor struct {
	logger otellog.Logger
}

// NewOTelAuditor creates an OTelAuditor emitting through provider.
func NewOTelAuditor(provider otellog.LoggerProvider) *OTelAuditor {
	return &OTelAuditor{
		logger: provider.Logger(InstrumentationName),
	}
}

// AuditEvent emits the event as a single log record.
func (a *OTelAuditor) AuditEvent(ev Event) {
	a.logger.Emit(context.Background(), eventRecord(ev))
}

func eventRecord(ev Event) otellog.Record {
	var r otellog.Record
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	r.SetTimestamp(ts)
	r.SetObservedTimestamp(time.Now())
	r.SetBody(otellog.StringValue(string(ev.Kind)))

	if ev.Failed() || ev.Kind == KindParseWarning {
		r.SetSeverity(otellog.SeverityWarn)
		r.SetSeverityText("WARN")
	} else {
		r.SetSeverity(otellog.SeverityInfo)
		r.SetSeverityText("INFO")
	}

	attrs := []otellog.KeyValue{
		otellog.String("nslite.event.kind", string(ev.Kind)),
	}
	if ev.Pid != 0 {
		attrs = append(attrs, otellog.Int("process.pid", ev.Pid))
	}
	if ev.Command != "" {
		attrs = append(attrs,
			otellog.String("process.executable.path", ev.Command),
			otellog.String("process.command_args", ev.Args))
	}
	if ev.Method != "" {
		attrs = append(attrs,
			otellog.String("rpc.method", ev.Method),
			otellog.Int64("rpc.id", int64(ev.ID)))
	}
	if ev.Kind == KindChildExited {
		attrs = append(attrs, otellog.Int("process.exit.code", ev.ExitCode))
	}
	if ev.Error != "" {
		attrs = append(attrs, otellog.String("error.message", ev.Error))
	}
	r.AddAttributes(attrs...)
	return r
}
