package audit

// MultiAuditor wraps multiple auditors and sends audit events to all of them.
type MultiAuditor struct {
	auditors []Auditor
}

// NewMultiAuditor creates a new MultiAuditor that sends to all provided auditors.
// Nil auditors are skipped.
func NewMultiAuditor(auditors ...Auditor) *MultiAuditor {
	m := &MultiAuditor{}
	for _, a := range auditors {
		if a != nil {
			m.auditors = append(m.auditors, a)
		}
	}
	return m
}

// AuditEvent sends the event to all wrapped auditors.
func (m *MultiAuditor) AuditEvent(ev Event) {
	for _, a := range m.auditors {
		a.AuditEvent(ev)
	}
}
