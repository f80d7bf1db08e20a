package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTask(id string) Task {
	return Task{
		ID:        id,
		Kind:      KindPush,
		UserID:    "u1",
		Recipient: "device-token",
		Body:      "hello",
		CreatedAt: time.Now().UTC(),
	}
}

// statusRecorder collects terminal statuses and signals per completion.
type statusRecorder struct {
	mu       sync.Mutex
	statuses map[string]string
	doneCh   chan string
}

func newStatusRecorder() *statusRecorder {
	return &statusRecorder{
		statuses: make(map[string]string),
		doneCh:   make(chan string, 16),
	}
}

func (r *statusRecorder) record(taskID, status string) {
	r.mu.Lock()
	r.statuses[taskID] = status
	r.mu.Unlock()
	r.doneCh <- taskID
}

func (r *statusRecorder) wait(t *testing.T, taskID string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case id := <-r.doneCh:
			if id == taskID {
				r.mu.Lock()
				defer r.mu.Unlock()
				return r.statuses[taskID]
			}
		case <-deadline:
			t.Fatalf("task %s never finished", taskID)
		}
	}
}

// countingSender fails the first failures calls, then succeeds.
type countingSender struct {
	mu       sync.Mutex
	calls    int
	failures int
}

func (s *countingSender) Send(context.Context, Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("provider unavailable")
	}
	return nil
}

func (s *countingSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestWorkerDispatcher_DeliversFirstTry(t *testing.T) {
	t.Parallel()

	sender := &countingSender{}
	rec := newStatusRecorder()
	d := NewWorkerDispatcher(testLogger(), sender, WithStatusFunc(rec.record))
	defer d.Close()

	if err := d.Enqueue(context.Background(), testTask("t1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if status := rec.wait(t, "t1"); status != StatusDelivered {
		t.Fatalf("status=%q want=delivered", status)
	}
	if n := sender.callCount(); n != 1 {
		t.Fatalf("send calls=%d want=1", n)
	}
}

func TestWorkerDispatcher_RetriesOnceThenDelivers(t *testing.T) {
	t.Parallel()

	sender := &countingSender{failures: 1}
	rec := newStatusRecorder()
	d := NewWorkerDispatcher(testLogger(), sender,
		WithStatusFunc(rec.record),
		WithRetryDelay(10*time.Millisecond))
	defer d.Close()

	if err := d.Enqueue(context.Background(), testTask("t1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if status := rec.wait(t, "t1"); status != StatusDelivered {
		t.Fatalf("status=%q want=delivered", status)
	}
	if n := sender.callCount(); n != 2 {
		t.Fatalf("send calls=%d want=2", n)
	}
}

func TestWorkerDispatcher_FailsAfterRetry(t *testing.T) {
	t.Parallel()

	sender := &countingSender{failures: 2}
	rec := newStatusRecorder()
	d := NewWorkerDispatcher(testLogger(), sender,
		WithStatusFunc(rec.record),
		WithRetryDelay(10*time.Millisecond))
	defer d.Close()

	if err := d.Enqueue(context.Background(), testTask("t1")); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if status := rec.wait(t, "t1"); status != StatusFailed {
		t.Fatalf("status=%q want=failed", status)
	}
	if n := sender.callCount(); n != 2 {
		t.Fatalf("send calls=%d want=2", n)
	}
}

func TestWorkerDispatcher_RejectsInvalidTask(t *testing.T) {
	t.Parallel()

	d := NewWorkerDispatcher(testLogger(), SenderFunc(func(context.Context, Task) error { return nil }))
	defer d.Close()

	bad := testTask("t1")
	bad.Kind = "carrier-pigeon"
	if err := d.Enqueue(context.Background(), bad); err == nil {
		t.Fatalf("invalid kind accepted")
	}

	bad = testTask("")
	if err := d.Enqueue(context.Background(), bad); err == nil {
		t.Fatalf("empty id accepted")
	}
}

func TestWorkerDispatcher_BufferFull(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sender := SenderFunc(func(ctx context.Context, _ Task) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})

	d := NewWorkerDispatcher(testLogger(), sender, WithWorkers(1), WithQueueDepth(1))
	defer func() {
		close(block)
		d.Close()
	}()

	ctx := context.Background()
	// First task occupies the single worker, second fills the buffer.
	if err := d.Enqueue(ctx, testTask("t1")); err != nil {
		t.Fatalf("enqueue t1: %v", err)
	}

	// The worker may not have picked up t1 yet; keep feeding until the
	// buffer rejects.
	deadline := time.After(5 * time.Second)
	for i := 2; ; i++ {
		err := d.Enqueue(ctx, testTask("t-overflow"))
		if err != nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("buffer never filled")
		default:
		}
		if i > 64 {
			t.Fatalf("buffer accepted %d tasks at depth 1", i)
		}
	}
}

func TestTask_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Task)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Task) {}},
		{name: "missing id", mutate: func(task *Task) { task.ID = "" }, wantErr: true},
		{name: "unknown kind", mutate: func(task *Task) { task.Kind = "fax" }, wantErr: true},
		{name: "missing user", mutate: func(task *Task) { task.UserID = "" }, wantErr: true},
		{name: "missing recipient", mutate: func(task *Task) { task.Recipient = "" }, wantErr: true},
		{name: "missing body", mutate: func(task *Task) { task.Body = "" }, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			task := testTask("t1")
			tc.mutate(&task)
			err := task.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("Validate() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() = %v, want nil", err)
			}
		})
	}
}
