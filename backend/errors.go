package backend

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError means no usable bearer token could be obtained. It aborts the
// whole session.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "authentication failed"
	}
	return "authentication failed: " + e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// RemoteError is a non-success answer from the store outside an upload
// session. Status is 0 when the request never got a response.
type RemoteError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *RemoteError) Error() string {
	msg := fmt.Sprintf("%s: remote returned status %d", e.Op, e.Status)
	if e.Status == 0 && e.Err != nil {
		msg = fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *RemoteError) Unwrap() error { return e.Err }

// SessionError is a failure inside a chunked upload session: the store
// refused to open it, rejected a range, or completed at the wrong time.
type SessionError struct {
	Op     string
	Status int
	Msg    string
	Err    error
}

func (e *SessionError) Error() string {
	msg := "upload session " + e.Op
	if e.Status != 0 {
		msg += fmt.Sprintf(": status %d", e.Status)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) Unwrap() error { return e.Err }

// Transient reports whether resending the same range may succeed.
func (e *SessionError) Transient() bool {
	if e.Status == 0 {
		return e.Err != nil
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%q not found", e.Name)
}

func AsRemote(err error) (*RemoteError, bool) {
	var re *RemoteError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func AsSession(err error) (*SessionError, bool) {
	var se *SessionError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
