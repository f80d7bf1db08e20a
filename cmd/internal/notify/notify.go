// Package notify dispatches out-of-band notification tasks (push, SMS,
// email) for users the realtime fanout could not reach.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind identifies the delivery channel for a task.
type Kind string

const (
	KindPush  Kind = "push"
	KindSMS   Kind = "sms"
	KindEmail Kind = "email"
)

// ValidKind reports whether k is a known delivery channel.
func ValidKind(k Kind) bool {
	switch k {
	case KindPush, KindSMS, KindEmail:
		return true
	}
	return false
}

// Task is one out-of-band delivery job.
type Task struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	UserID    string `json:"user_id"`
	Recipient string `json:"recipient"`
	Title     string `json:"title,omitempty"`
	Body      string `json:"body"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the fields a dispatcher needs before accepting the task.
func (t Task) Validate() error {
	if t.ID == "" {
		return errors.New("task id is empty")
	}
	if !ValidKind(t.Kind) {
		return fmt.Errorf("unknown task kind: %q", t.Kind)
	}
	if t.UserID == "" {
		return errors.New("task user_id is empty")
	}
	if t.Recipient == "" {
		return errors.New("task recipient is empty")
	}
	if t.Body == "" {
		return errors.New("task body is empty")
	}
	return nil
}

// Task status values as stamped through a StatusFunc.
const (
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// Dispatcher accepts tasks for asynchronous delivery.
//
// Enqueue returns once the task is accepted, not once it is delivered.
type Dispatcher interface {
	Enqueue(ctx context.Context, task Task) error
}

// Sender performs the actual channel send for one task.
type Sender interface {
	Send(ctx context.Context, task Task) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, task Task) error

func (f SenderFunc) Send(ctx context.Context, task Task) error { return f(ctx, task) }

// StatusFunc receives the terminal status of a task ("delivered" or
// "failed"). It runs on a worker goroutine and must not block for long.
type StatusFunc func(taskID, status string)
