package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/nslite/framing"
)

func TestSocketAuditor_AuditEvent_QueuesEvent(t *testing.T) {
	t.Parallel()

	auditor := setupSocketAuditor(t)

	auditor.AuditEvent(Event{
		Kind:    KindChildStarted,
		Pid:     1234,
		Command: "/bin/cat",
	})

	select {
	case ev := <-auditor.eventCh:
		if ev.Kind != KindChildStarted {
			t.Errorf("expected Kind=child_started, got %v", ev.Kind)
		}
		if ev.Pid != 1234 {
			t.Errorf("expected Pid=1234, got %d", ev.Pid)
		}
		if ev.Time.IsZero() {
			t.Error("expected the queued event to be timestamped")
		}
	default:
		t.Fatal("expected event in channel, got none")
	}
}

func TestSocketAuditor_AuditEvent_DropsWhenFull(t *testing.T) {
	t.Parallel()

	auditor := setupSocketAuditor(t)

	// Fill the channel (capacity is 2*batchSize = 20)
	for i := 0; i < 2*auditor.batchSize; i++ {
		auditor.AuditEvent(Event{Kind: KindCommand, Method: "status"})
	}

	// This should not block and drop the event
	auditor.AuditEvent(Event{Kind: KindCommand, Method: "dropped"})

	for i := 0; i < 2*auditor.batchSize; i++ {
		ev := <-auditor.eventCh
		if ev.Method != "status" {
			t.Errorf("expected batch to be FIFO, got %s", ev.Method)
		}
	}

	select {
	case ev := <-auditor.eventCh:
		t.Errorf("expected empty channel, got %v", ev)
	default:
	}
}

func TestSocketAuditor_Loop_FlushesOnBatchSize(t *testing.T) {
	t.Parallel()

	auditor := setupSocketAuditor(t)
	auditor.batchTimerDuration = time.Hour // Ensure timer doesn't interfere with the test
	received := make(chan Batch, 1)
	startTestServer(t, auditor.socketPath, received)

	go auditor.Loop(t.Context())

	// Send exactly a full batch of events to trigger a flush
	for i := 0; i < auditor.batchSize; i++ {
		auditor.AuditEvent(Event{Kind: KindCommand, Method: "status", ID: uint64(i)})
	}

	select {
	case batch := <-received:
		if len(batch.Events) != auditor.batchSize {
			t.Errorf("expected %d events, got %d", auditor.batchSize, len(batch.Events))
		}
		for i, ev := range batch.Events {
			if ev.ID != uint64(i) {
				t.Errorf("expected event %d to have id %d, got %d", i, i, ev.ID)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for flush")
	}
}

func TestSocketAuditor_Loop_FlushesOnTimer(t *testing.T) {
	t.Parallel()

	auditor := setupSocketAuditor(t)
	auditor.batchTimerDuration = 3 * time.Second
	received := make(chan Batch, 1)
	startTestServer(t, auditor.socketPath, received)

	go auditor.Loop(t.Context())

	// A single event should start the timer
	auditor.AuditEvent(Event{Kind: KindChildStarted, Pid: 1})

	select {
	case batch := <-received:
		if len(batch.Events) != 1 {
			t.Errorf("expected 1 event, got %d", len(batch.Events))
		}
	case <-time.After(2 * auditor.batchTimerDuration):
		t.Fatal("timeout waiting for timer flush")
	}
}

func TestSocketAuditor_Loop_FlushesOnContextCancel(t *testing.T) {
	t.Parallel()

	received := make(chan Batch, 1)

	auditor := setupSocketAuditor(t)
	// Make the timer long to always exercise the context cancellation case
	auditor.batchTimerDuration = time.Hour
	startTestServer(t, auditor.socketPath, received)

	ctx, cancel := context.WithCancel(t.Context())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		auditor.Loop(ctx)
	}()

	// Send an event but don't fill the batch
	auditor.AuditEvent(Event{Kind: KindChildExited, Pid: 1, ExitCode: 0})

	cancel()

	select {
	case batch := <-received:
		if len(batch.Events) != 1 {
			t.Errorf("expected 1 event, got %d", len(batch.Events))
		}
		if batch.Events[0].Kind != KindChildExited {
			t.Errorf("unexpected kind %v", batch.Events[0].Kind)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for shutdown flush")
	}

	wg.Wait()
}

func TestSocketAuditor_Loop_RetriesOnConnectionFailure(t *testing.T) {
	t.Parallel()

	// Don't start server yet because we want the connection to fail
	auditor := setupSocketAuditor(t)
	auditor.batchTimerDuration = time.Hour // Ensure timer doesn't interfere with the test
	socketPath := auditor.socketPath

	flushed := make(chan struct{}, 1)
	auditor.onFlushAttempt = func() {
		select {
		case flushed <- struct{}{}:
		default:
		}
	}

	go auditor.Loop(t.Context())

	// Send batchSize+1 events so we can verify the last event here gets dropped.
	for i := 0; i < auditor.batchSize+1; i++ {
		auditor.AuditEvent(Event{Kind: KindCommand, Method: "notup" + strconv.Itoa(i)})
	}

	select {
	case <-flushed:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for first flush attempt")
	}

	received := make(chan Batch, 1)
	startTestServer(t, socketPath, received)

	// Batch is at capacity, so this triggers a flush of the retained batch
	// first and then starts a fresh one.
	auditor.AuditEvent(Event{Kind: KindCommand, Method: "up"})

	select {
	case batch := <-received:
		if len(batch.Events) != auditor.batchSize {
			t.Errorf("expected %d events from retry, got %d", auditor.batchSize, len(batch.Events))
		}
		for i, ev := range batch.Events {
			expected := "notup" + strconv.Itoa(i)
			if ev.Method != expected {
				t.Errorf("expected event %d method %s got %v", i, expected, ev.Method)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for retry flush")
	}

	for i := 0; i < auditor.batchSize-1; i++ {
		auditor.AuditEvent(Event{Kind: KindCommand, Method: "second" + strconv.Itoa(i)})
	}

	select {
	case batch := <-received:
		if len(batch.Events) != auditor.batchSize {
			t.Errorf("expected %d events, got %d", auditor.batchSize, len(batch.Events))
		}
		for i, ev := range batch.Events {
			expected := "second" + strconv.Itoa(i-1)
			if i == 0 {
				expected = "up"
			}
			if ev.Method != expected {
				t.Errorf("expected event %d method %s got %v", i, expected, ev.Method)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for flush")
	}
}

func TestFlush_EmptyBatch(t *testing.T) {
	t.Parallel()

	if err := flush(nil, nil); err != nil {
		t.Errorf("expected nil error for empty batch, got %v", err)
	}
	if err := flush(nil, []Event{}); err != nil {
		t.Errorf("expected nil error for empty slice, got %v", err)
	}
}

func TestFlush_TooLargeIsPermanent(t *testing.T) {
	t.Parallel()

	events := []Event{{Kind: KindCommand, Error: strings.Repeat("x", framing.MaxPayload)}}
	err := flush(nil, events)
	if err == nil {
		t.Fatal("expected error for oversized batch")
	}
	if !err.permanent {
		t.Error("expected oversized batch to be a permanent error")
	}
	if !errors.Is(err.err, framing.ErrPayloadTooLarge) {
		t.Errorf("unexpected error %v", err)
	}
}

// tempDirUnixSocket returns a temporary directory that can safely hold unix
// sockets (probably).
//
// During tests on darwin we hit the max path length limit for unix sockets
// pretty easily in the default location, so this function uses /tmp instead to
// get shorter paths.
func tempDirUnixSocket(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "darwin" {
		testName := strings.ReplaceAll(t.Name(), "/", "_")
		dir, err := os.MkdirTemp("/tmp", testName)
		if err != nil {
			t.Errorf("failed to create temp dir: %v", err)
		}

		t.Cleanup(func() {
			err := os.RemoveAll(dir)
			if err != nil {
				t.Fatalf("remove temp dir %s: %v", dir, err)
			}
		})
		return dir
	}

	return t.TempDir()
}

func setupSocketAuditor(t *testing.T) *SocketAuditor {
	socketPath := path.Join(tempDirUnixSocket(t), "server.sock")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSocketAuditor(logger, socketPath)
}

// startTestServer starts a Unix socket server that reads framed JSON batches
// and reports all received batches to the given channel.
func startTestServer(t *testing.T, socketPath string, received chan<- Batch) {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("failed to listen on socket: %v", err)
	}

	var wg sync.WaitGroup
	t.Cleanup(func() {
		_ = listener.Close()
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			wg.Add(1)
			go handleConn(t, conn, &wg, received)
		}
	}()
}

func handleConn(t *testing.T, c net.Conn, wg *sync.WaitGroup, received chan<- Batch) {
	t.Helper()
	defer wg.Done()
	defer func() { _ = c.Close() }()

	for {
		payload, err := framing.ReadFrame(c)
		if err != nil {
			return
		}

		var batch Batch
		if err := json.Unmarshal(payload, &batch); err != nil {
			t.Errorf("failed to unmarshal: %v", err)
			return
		}

		received <- batch
	}
}
