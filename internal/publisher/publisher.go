// Package publisher is the outbound boundary to the social network. It
// defines the client contract consumed by the lifecycle manager and the
// transient/fatal error taxonomy the retry loop branches on.
package publisher

import (
	"context"
	"errors"
	"fmt"
)

// Client publishes post content to the social network.
type Client interface {
	// Init validates credentials. A failure here is fatal at startup.
	Init(ctx context.Context) error
	// Publish posts content and returns the external reference (tweet id)
	// on success. Failures are *TransientError or *FatalError.
	Publish(ctx context.Context, content string) (string, error)
}

// TransientError is a publish failure worth retrying: rate limits, server
// errors, network trouble.
type TransientError struct {
	Status int
	Msg    string
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient publish error (status %d): %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("transient publish error: %s", e.Msg)
}

// FatalError is a publish failure that retrying the same request cannot
// cure: bad credentials, duplicate content, policy rejection.
type FatalError struct {
	Status int
	Msg    string
}

func (e *FatalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fatal publish error (status %d): %s", e.Status, e.Msg)
	}
	return fmt.Sprintf("fatal publish error: %s", e.Msg)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFatal reports whether err is (or wraps) a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
