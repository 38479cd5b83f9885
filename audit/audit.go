// Package audit records the supervisor's lifecycle events: the child being
// started and reaped, controller commands and parse warnings.
package audit

import (
	"time"
)

// Kind identifies what happened.
type Kind string

const (
	KindChildStarted Kind = "child_started"
	KindCommand      Kind = "command"
	KindParseWarning Kind = "parse_warning"
	KindStatus       Kind = "status"
	KindChildExited  Kind = "child_exited"
)

// Event is one audit record.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`
	Pid  int       `json:"pid,omitempty"`
	// Command is the supervised program, Args its flattened arguments.
	Command string `json:"command,omitempty"`
	Args    string `json:"args,omitempty"`
	// Method and ID are set for controller commands.
	Method string `json:"method,omitempty"`
	ID     uint64 `json:"id,omitempty"`
	// ExitCode is only meaningful for KindChildExited.
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the event carries an error.
func (e Event) Failed() bool {
	return e.Error != ""
}

// Auditor handles audit events for the supervised child.
type Auditor interface {
	AuditEvent(ev Event)
}
