package localfs

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joaooservit/oserv-cloud-storage/backend"
)

const sessionScheme = "localfs-session://"

type pendingUpload struct {
	parentID string
	name     string
	total    int64
	written  int64
	part     string
}

func (s *Store) OpenSession(_ context.Context, parentID, name string, size int64) (string, error) {
	if !validName(name) {
		return "", &backend.SessionError{Op: "open", Status: http.StatusBadRequest, Msg: fmt.Sprintf("invalid name %q", name)}
	}
	parent, err := s.abs(parentID)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(parent); err != nil || !info.IsDir() {
		return "", &backend.SessionError{Op: "open", Status: http.StatusNotFound, Msg: "parent folder does not exist"}
	}

	dir := filepath.Join(s.opt.Root, uploadsDir)
	if err := os.MkdirAll(dir, s.opt.DirMode); err != nil {
		return "", &backend.SessionError{Op: "open", Status: http.StatusInternalServerError, Err: err}
	}
	id := uuid.NewString()
	part := filepath.Join(dir, id+".part")
	f, err := os.OpenFile(part, os.O_CREATE|os.O_EXCL|os.O_WRONLY, s.opt.FileMode)
	if err != nil {
		return "", &backend.SessionError{Op: "open", Status: http.StatusInternalServerError, Err: err}
	}
	f.Close()

	s.mu.Lock()
	s.sessions[id] = &pendingUpload{parentID: parentID, name: name, total: size, part: part}
	s.mu.Unlock()
	return sessionScheme + id, nil
}

func (s *Store) PutRange(_ context.Context, uploadURL string, data []byte, offset, total int64) (backend.RangeResult, error) {
	id := strings.TrimPrefix(uploadURL, sessionScheme)

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sessions[id]
	if !ok {
		return backend.RangeResult{}, &backend.SessionError{Op: "put range", Status: http.StatusNotFound, Msg: "unknown upload session"}
	}
	end := offset + int64(len(data))
	if total != p.total || offset != p.written || end > p.total {
		return backend.RangeResult{}, &backend.SessionError{
			Op:     "put range",
			Status: http.StatusRequestedRangeNotSatisfiable,
			Msg:    fmt.Sprintf("bytes %d-%d/%d, expected offset %d of %d", offset, end-1, total, p.written, p.total),
		}
	}

	f, err := os.OpenFile(p.part, os.O_WRONLY, s.opt.FileMode)
	if err != nil {
		return backend.RangeResult{}, &backend.SessionError{Op: "put range", Status: http.StatusInternalServerError, Err: err}
	}
	_, err = f.WriteAt(data, offset)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return backend.RangeResult{}, &backend.SessionError{Op: "put range", Status: http.StatusInternalServerError, Err: err}
	}
	p.written = end
	if p.written < p.total {
		return backend.RangeResult{}, nil
	}

	delete(s.sessions, id)
	parent, err := s.abs(p.parentID)
	if err != nil {
		return backend.RangeResult{}, err
	}
	final := freeName(parent, p.name)
	if err := os.Rename(p.part, filepath.Join(parent, final)); err != nil {
		_ = os.Remove(p.part)
		return backend.RangeResult{}, &backend.SessionError{Op: "put range", Status: http.StatusInternalServerError, Err: err}
	}
	return backend.RangeResult{Node: &backend.RemoteNode{ID: childID(p.parentID, final), Name: final, Size: p.total}}, nil
}

// CancelSession forgets the session and removes its partial file.
func (s *Store) CancelSession(_ context.Context, uploadURL string) error {
	id := strings.TrimPrefix(uploadURL, sessionScheme)

	s.mu.Lock()
	p, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	if err := os.Remove(p.part); err != nil && !os.IsNotExist(err) {
		return &backend.SessionError{Op: "cancel", Status: http.StatusInternalServerError, Err: err}
	}
	return nil
}
