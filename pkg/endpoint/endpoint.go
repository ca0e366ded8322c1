// Package endpoint models the typed, named connections of spec.md §6 as
// explicit Go interfaces instead of a global IOManager/NetworkManager
// singleton (design note, spec.md §9: "inject the IO facility into each
// component at construction; tests pass a fake"). Each connection carries
// exactly one message type, is either point-to-point or pub/sub, and every
// send/receive is bounded by a timeout (spec.md §5).
package endpoint

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Send/Receive once the endpoint has been closed.
var ErrClosed = errors.New("endpoint: closed")

// ErrTimeout is returned when a bounded send or receive could not complete
// before its deadline.
var ErrTimeout = errors.New("endpoint: timeout")

// Sender is a point-to-point or pub/sub output connection for messages of
// type T. Send blocks for at most the given timeout.
type Sender[T any] interface {
	Send(ctx context.Context, msg T, timeout time.Duration) error
}

// Receiver is an input connection for messages of type T. Receive blocks
// for at most the given timeout and is the only blocking point a component
// schedulerloop uses besides Send and explicit pacing sleeps (spec.md §5).
type Receiver[T any] interface {
	Receive(ctx context.Context, timeout time.Duration) (T, error)
}

// SenderFunc adapts a plain function to a Sender.
type SenderFunc[T any] func(ctx context.Context, msg T, timeout time.Duration) error

func (f SenderFunc[T]) Send(ctx context.Context, msg T, timeout time.Duration) error {
	return f(ctx, msg, timeout)
}
