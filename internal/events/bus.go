package events

import (
	"context"
	"errors"
)

// Handler handles a delivered event.
type Handler func(context.Context, Event) error

// Publisher emits events onto the bus.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Bus allows event publication and source-filtered subscription.
type Bus interface {
	Publisher
	Subscribe(source Source, handler Handler)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Transports acknowledge such
// deliveries instead of redelivering them.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
