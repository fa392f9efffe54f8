package upload

import (
	"context"
	"errors"
	"io"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/backend/chunker"
	"github.com/joaooservit/oserv-cloud-storage/backend/pool"
)

// ProgressFunc observes accepted chunks. It never affects control flow.
type ProgressFunc func(sent, total int64)

type Request struct {
	ParentID  string
	Name      string
	Source    io.Reader
	Size      int64
	ChunkSize int64
	Progress  ProgressFunc
}

// Upload opens a session and sends Source chunk by chunk until the store
// reports completion. Any failure after the session is open discards it on
// the store.
func Upload(ctx context.Context, store backend.SessionUploader, req Request, opts ...Option) (node backend.RemoteNode, err error) {
	s := NewSession(store, opts...)
	if err := s.Open(ctx, req.ParentID, req.Name, req.Size); err != nil {
		return backend.RemoteNode{}, err
	}
	defer func() {
		if err != nil {
			_ = s.Cancel(ctx)
		}
	}()

	cr := chunker.NewReader(req.Source, req.Size, req.ChunkSize).
		WithBuffers(pool.ForSize(int(req.ChunkSize)))
	for {
		if err := ctx.Err(); err != nil {
			return backend.RemoteNode{}, err
		}
		c, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return backend.RemoteNode{}, &backend.SessionError{Op: "read", Err: err}
		}

		outcome, err := s.SendNextChunk(ctx, c.Data, c.Offset)
		cr.Release(c)
		if err != nil {
			return backend.RemoteNode{}, err
		}
		if req.Progress != nil {
			req.Progress(s.BytesSent, s.TotalSize)
		}
		if outcome == Done {
			return *s.Result(), nil
		}
	}
	return backend.RemoteNode{}, &backend.SessionError{Op: "send", Msg: "source exhausted before the store completed the upload"}
}
