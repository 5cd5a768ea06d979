package destination

import (
	"context"
	"errors"
	"fmt"
)

// Destination persists forwarded message text somewhere outside the bridge.
//
// Deliver reports failure to the caller and never retries on its own.
type Destination interface {
	Deliver(ctx context.Context, text string) error
	String() string
}

// DeliverError wraps a failed write to one destination.
type DeliverError struct {
	Destination string
	Err         error
}

func (e *DeliverError) Error() string {
	if e == nil {
		return ""
	}

	return fmt.Sprintf("deliver to %s: %v", e.Destination, e.Err)
}

func (e *DeliverError) Unwrap() error {
	return e.Err
}

// NewDeliverError tags err with the destination that produced it. A nil err stays nil
// and an existing DeliverError is returned unchanged.
func NewDeliverError(dest string, err error) error {
	if err == nil {
		return nil
	}

	var deliverErr *DeliverError
	if errors.As(err, &deliverErr) {
		return err
	}

	return &DeliverError{Destination: dest, Err: err}
}
