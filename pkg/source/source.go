package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tagbridge/pkg/update"
)

// Source is the long-poll side of the bridge (for example a Telegram bot).
//
// Fetch blocks for up to timeout waiting for updates with id >= cursor and returns an
// empty batch when the timeout elapses.
type Source interface {
	Name() string
	Fetch(ctx context.Context, cursor int, timeout time.Duration) ([]update.Update, error)
}

// FetchErrorKind separates connectivity trouble from errors reported by the source.
type FetchErrorKind int

const (
	// Transport covers connection refused, timeouts, DNS and TLS failures.
	Transport FetchErrorKind = iota + 1
	// Protocol covers well-formed error responses and undecodable replies.
	Protocol
)

func (k FetchErrorKind) String() string {
	switch k {
	case Transport:
		return "transport"
	case Protocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// FetchError is the classified failure of one Fetch call.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}

	return fmt.Sprintf("fetch updates (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewTransportError marks err as a soft, connectivity-level failure.
func NewTransportError(err error) error {
	if err == nil {
		return nil
	}

	return &FetchError{Kind: Transport, Err: err}
}

// NewProtocolError marks err as a hard failure reported by the source.
func NewProtocolError(err error) error {
	if err == nil {
		return nil
	}

	return &FetchError{Kind: Protocol, Err: err}
}

// IsTransport reports whether err is a soft failure. Unclassified errors are hard.
func IsTransport(err error) bool {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Kind == Transport
	}

	return false
}
