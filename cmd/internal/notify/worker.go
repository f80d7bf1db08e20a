package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWorkers    = 4
	defaultQueueDepth = 256
	defaultRetryDelay = 5 * time.Second
)

// WorkerDispatcher runs sends in-process on a small worker pool. It is
// the dev and single-node alternative to QueueDispatcher.
//
// Each task gets one retry after a fixed delay. The terminal status is
// reported through the optional StatusFunc.
type WorkerDispatcher struct {
	log    *slog.Logger
	sender Sender
	status StatusFunc

	workers int
	depth   int
	delay   time.Duration

	tasks chan Task

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// WorkerOption configures a WorkerDispatcher.
type WorkerOption func(*WorkerDispatcher)

// WithWorkers sets the pool size.
func WithWorkers(n int) WorkerOption {
	return func(d *WorkerDispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueueDepth bounds the pending task buffer.
func WithQueueDepth(n int) WorkerOption {
	return func(d *WorkerDispatcher) {
		if n > 0 {
			d.depth = n
		}
	}
}

// WithRetryDelay sets the pause before the single retry.
func WithRetryDelay(delay time.Duration) WorkerOption {
	return func(d *WorkerDispatcher) {
		if delay > 0 {
			d.delay = delay
		}
	}
}

// WithStatusFunc installs a callback for terminal task statuses.
func WithStatusFunc(fn StatusFunc) WorkerOption {
	return func(d *WorkerDispatcher) { d.status = fn }
}

// NewWorkerDispatcher builds the pool. Workers start on the first Enqueue.
func NewWorkerDispatcher(log *slog.Logger, sender Sender, opts ...WorkerOption) *WorkerDispatcher {
	d := &WorkerDispatcher{
		log:     log,
		sender:  sender,
		workers: defaultWorkers,
		depth:   defaultQueueDepth,
		delay:   defaultRetryDelay,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.tasks = make(chan Task, d.depth)
	return d
}

// Enqueue accepts a task for asynchronous delivery. It fails fast when
// the buffer is full rather than blocking the caller.
func (d *WorkerDispatcher) Enqueue(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	d.startOnce.Do(d.start)

	select {
	case <-d.done:
		return fmt.Errorf("dispatcher closed")
	case <-ctx.Done():
		return ctx.Err()
	case d.tasks <- task:
		return nil
	default:
		return fmt.Errorf("task buffer full (depth %d)", d.depth)
	}
}

// Close stops the workers. Pending tasks in the buffer are dropped.
func (d *WorkerDispatcher) Close() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}

func (d *WorkerDispatcher) start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
}

func (d *WorkerDispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done:
			return
		case task := <-d.tasks:
			d.deliver(task)
		}
	}
}

func (d *WorkerDispatcher) deliver(task Task) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-d.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := d.sender.Send(ctx, task)
	if err == nil {
		d.finish(task, StatusDelivered, 1)
		return
	}

	d.log.Info("notify.send.retry", "task_id", task.ID, "kind", task.Kind, "err", err)

	select {
	case <-d.done:
		d.finish(task, StatusFailed, 1)
		return
	case <-time.After(d.delay):
	}

	if err := d.sender.Send(ctx, task); err != nil {
		d.log.Error("notify.send.fail", "task_id", task.ID, "kind", task.Kind, "err", err)
		d.finish(task, StatusFailed, 2)
		return
	}
	d.finish(task, StatusDelivered, 2)
}

func (d *WorkerDispatcher) finish(task Task, status string, attempts int) {
	d.log.Debug("notify.task.done", "task_id", task.ID, "status", status, "attempts", attempts)
	if d.status != nil {
		d.status(task.ID, status)
	}
}
