package core

import (
	"errors"
)

var (
	// ErrDecode indicates a corrupt PCM payload: malformed base64 or an odd byte count.
	ErrDecode = errors.New("decode error")
	// ErrValidation indicates a request rejected before any remote call was made.
	ErrValidation = errors.New("validation error")
	// ErrMissingCredential indicates that no API key is configured anywhere.
	ErrMissingCredential = errors.New("no API key configured")
	// ErrProjectNotFound indicates that no project exists for the given id.
	ErrProjectNotFound = errors.New("project not found")
)

// RemoteError is a transport, auth, quota, or malformed-response failure reported by the
// GenerationClient. Error returns Message unchanged so it can be shown to the user as is.
type RemoteError struct {
	Op      string
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// NewRemoteError builds a RemoteError for op, taking the message from err.
func NewRemoteError(op string, err error) *RemoteError {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr
	}

	return &RemoteError{Op: op, Message: err.Error(), Err: err}
}
