// Package upload drives a resumable chunked upload session against a store
// that implements backend.SessionUploader.
package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/internal"
	"github.com/joaooservit/oserv-cloud-storage/pkg/util"
)

type State int

const (
	Unopened State = iota
	Open
	Sending
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Open:
		return "open"
	case Sending:
		return "sending"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrSessionClosed = errors.New("upload session is closed")
	ErrNotOpen       = errors.New("upload session has not been opened")
)

// ChunkOutcome is the result of one accepted range.
type ChunkOutcome int

const (
	Accepted ChunkOutcome = iota
	Done
)

// Session tracks one chunked upload. BytesSent only grows by the length of
// ranges the store acknowledged, so it is always the next expected offset.
type Session struct {
	store  backend.SessionUploader
	policy util.RetryPolicy

	UploadURL      string
	TotalSize      int64
	BytesSent      int64
	NextChunkIndex int

	state     State
	result    *backend.RemoteNode
	cancelled bool
}

// cancelTimeout bounds the discard request sent after the caller's context
// may already be done.
const cancelTimeout = 30 * time.Second

type Option func(*Session)

// WithRetry resends a refused range up to retries more times when the
// failure looks transient.
func WithRetry(p util.RetryPolicy) Option {
	return func(s *Session) { s.policy = p }
}

func NewSession(store backend.SessionUploader, opts ...Option) *Session {
	s := &Session{store: store, policy: util.DefaultRetryPolicy(0)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) State() State { return s.state }

// Result is the created node once the session completed.
func (s *Session) Result() *backend.RemoteNode { return s.result }

// Open asks the store for an upload URL for name inside parentID.
func (s *Session) Open(ctx context.Context, parentID, name string, totalSize int64) error {
	if s.state != Unopened {
		return ErrSessionClosed
	}
	if totalSize <= 0 {
		s.state = Failed
		return &backend.SessionError{Op: "open", Msg: "chunked upload needs a non-empty file"}
	}

	url, err := s.store.OpenSession(ctx, parentID, name, totalSize)
	if err != nil {
		s.state = Failed
		if _, ok := backend.AsSession(err); ok || backend.IsAuth(err) {
			return err
		}
		return &backend.SessionError{Op: "open", Err: err}
	}
	if url == "" {
		s.state = Failed
		return &backend.SessionError{Op: "open", Msg: "store returned no upload url"}
	}

	s.UploadURL = url
	s.TotalSize = totalSize
	s.state = Open
	internal.Debug("upload session opened", internal.Fields{
		internal.FieldName:  name,
		internal.FieldTotal: totalSize,
	})
	return nil
}

// SendNextChunk sends data at offset, which must equal BytesSent. The store
// must report completion exactly when the cumulative bytes reach TotalSize.
func (s *Session) SendNextChunk(ctx context.Context, data []byte, offset int64) (ChunkOutcome, error) {
	switch s.state {
	case Unopened:
		return 0, ErrNotOpen
	case Completed, Failed:
		return 0, ErrSessionClosed
	}
	if offset != s.BytesSent {
		s.state = Failed
		return 0, &backend.SessionError{Op: "send", Msg: fmt.Sprintf("offset %d does not follow %d acknowledged bytes", offset, s.BytesSent)}
	}
	length := int64(len(data))
	if length == 0 || offset+length > s.TotalSize {
		s.state = Failed
		return 0, &backend.SessionError{Op: "send", Msg: fmt.Sprintf("range %d+%d outside total %d", offset, length, s.TotalSize)}
	}

	s.state = Sending
	res, err := util.Retry(ctx, s.policy, func(attempt int) (backend.RangeResult, error) {
		if attempt > 1 {
			internal.Warn("resending chunk", internal.Fields{
				internal.FieldOffset:  offset,
				internal.FieldLength:  length,
				internal.FieldAttempt: attempt,
			})
		}
		r, err := s.store.PutRange(ctx, s.UploadURL, data, offset, s.TotalSize)
		if se, ok := backend.AsSession(err); ok {
			internal.Debug("range refused", internal.WithError(internal.Fields{
				internal.FieldOffset: offset,
				internal.FieldStatus: se.Status,
			}, err))
			if se.Transient() {
				return r, util.Retryable(err)
			}
		}
		return r, err
	})
	if err != nil {
		s.state = Failed
		if _, ok := backend.AsSession(err); ok || backend.IsAuth(err) || errors.Is(err, context.Canceled) {
			return 0, err
		}
		return 0, &backend.SessionError{Op: "send", Err: err}
	}

	last := offset+length == s.TotalSize
	switch {
	case res.Completed() && !last:
		s.state = Failed
		return 0, &backend.SessionError{Op: "send", Msg: fmt.Sprintf("store completed the upload after %d of %d bytes", offset+length, s.TotalSize)}
	case !res.Completed() && last:
		s.state = Failed
		return 0, &backend.SessionError{Op: "send", Msg: "store did not complete the upload after the final range"}
	}

	s.BytesSent += length
	s.NextChunkIndex++
	if res.Completed() {
		s.state = Completed
		s.result = res.Node
		return Done, nil
	}
	s.state = Open
	return Accepted, nil
}

// Cancel asks the store to discard an opened session that did not complete.
// It runs even when ctx is already cancelled and is a no-op for sessions
// that were never opened, completed, or were cancelled before.
func (s *Session) Cancel(ctx context.Context) error {
	if s.UploadURL == "" || s.state == Completed || s.cancelled {
		return nil
	}
	s.cancelled = true
	s.state = Failed
	c, ok := s.store.(backend.SessionCanceller)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := c.CancelSession(ctx, s.UploadURL); err != nil {
		internal.Warn("could not discard upload session", internal.WithError(internal.Fields{
			internal.FieldTotal:  s.TotalSize,
			internal.FieldOffset: s.BytesSent,
		}, err))
		return err
	}
	internal.Debug("upload session discarded", internal.Fields{internal.FieldOffset: s.BytesSent})
	return nil
}
