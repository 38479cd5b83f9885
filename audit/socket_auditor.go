package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"time"

	"github.com/coder/nslite/framing"
)

const (
	defaultBatchSize          = 10
	defaultBatchTimerDuration = 5 * time.Second
)

// Batch is the payload of one frame written to the audit socket.
type Batch struct {
	Events []Event `json:"events"`
}

// SocketAuditor implements the Auditor interface. It sends events to a
// collector listening on a unix socket. It queues events and sends them in
// batches using a batch size and timer. The internal queue operates as a
// FIFO i.e., events are sent in the order they are received and dropped if
// the queue is full.
//
// Each batch is a JSON encoded Batch carried in one frame of the same
// length-prefixed framing the controller uses: a 2-byte big-endian length
// followed by the payload.
type SocketAuditor struct {
	socketPath         string
	logger             *slog.Logger
	eventCh            chan Event
	batchSize          int
	batchTimerDuration time.Duration

	// onFlushAttempt is called after each flush attempt (intended for testing).
	onFlushAttempt func()
}

// NewSocketAuditor creates a new SocketAuditor that sends events to the
// collector at socketPath after SocketAuditor.Loop is called.
func NewSocketAuditor(logger *slog.Logger, socketPath string) *SocketAuditor {
	return &SocketAuditor{
		socketPath:         socketPath,
		logger:             logger,
		eventCh:            make(chan Event, 2*defaultBatchSize),
		batchSize:          defaultBatchSize,
		batchTimerDuration: defaultBatchTimerDuration,
	}
}

// AuditEvent implements the Auditor interface. It queues the event to be
// sent to the collector in a batch.
func (s *SocketAuditor) AuditEvent(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	select {
	case s.eventCh <- ev:
	default:
		s.logger.Warn("audit event dropped, channel full", "kind", ev.Kind)
	}
}

// flushErr represents an error from flush, distinguishing between
// permanent errors (bad data) and transient errors (network issues).
type flushErr struct {
	err       error
	permanent bool
}

func (e *flushErr) Error() string { return e.err.Error() }

// flush sends the current batch of events to the given connection.
func flush(conn net.Conn, events []Event) *flushErr {
	if len(events) == 0 {
		return nil
	}

	data, err := json.Marshal(Batch{Events: events})
	if err != nil {
		return &flushErr{err: err, permanent: true}
	}
	if len(data) > framing.MaxPayload {
		return &flushErr{err: framing.ErrPayloadTooLarge, permanent: true}
	}

	if err := framing.WriteFrame(conn, data); err != nil {
		return &flushErr{err: err}
	}
	return nil
}

// Loop handles the I/O to send audit events to the collector.
func (s *SocketAuditor) Loop(ctx context.Context) {
	var conn net.Conn
	batch := make([]Event, 0, s.batchSize)
	t := time.NewTimer(0)
	t.Stop()

	connect := func() {
		if conn != nil {
			return
		}
		var err error
		conn, err = net.Dial("unix", s.socketPath)
		if err != nil {
			s.logger.Warn("failed to connect to audit socket", "path", s.socketPath, "error", err)
			conn = nil
		}
	}

	closeConn := func() {
		if conn != nil {
			_ = conn.Close()
			conn = nil
		}
	}

	// clearBatch resets the length of the batch while preserving the
	// backing array.
	clearBatch := func() {
		clear(batch)
		batch = batch[:0]
	}

	// doFlush flushes the batch and handles errors by reconnecting.
	doFlush := func() {
		t.Stop()
		defer func() {
			if s.onFlushAttempt != nil {
				s.onFlushAttempt()
			}
		}()
		if len(batch) == 0 {
			return
		}
		connect()
		if conn == nil {
			// No connection: events will be retried on next flush.
			return
		}

		if err := flush(conn, batch); err != nil {
			s.logger.Warn("failed to flush audit events", "error", err)
			if err.permanent {
				// Data error: discard batch to avoid infinite retries.
				clearBatch()
			} else {
				// Network error: close connection but keep batch for a future retry.
				closeConn()
			}
			return
		}

		clearBatch()
	}

	connect()

	for {
		select {
		case <-ctx.Done():
			// Drain any pending events before the last flush.
		drain:
			for {
				select {
				case ev := <-s.eventCh:
					batch = append(batch, ev)
				default:
					break drain
				}
			}

			doFlush()
			closeConn()
			return
		case <-t.C:
			doFlush()
		case ev := <-s.eventCh:
			// If batch is at capacity, attempt flushing first and drop the
			// event if the batch is still full.
			if len(batch) >= s.batchSize {
				doFlush()
				if len(batch) >= s.batchSize {
					s.logger.Warn("audit event dropped, batch full", "kind", ev.Kind)
					continue
				}
			}

			batch = append(batch, ev)

			if len(batch) == 1 {
				t.Reset(s.batchTimerDuration)
			}

			if len(batch) >= s.batchSize {
				doFlush()
			}
		}
	}
}
