// Package localfs is a RemoteDirectory backed by a directory on disk. Node
// ids are slash-separated paths relative to the store root.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joaooservit/oserv-cloud-storage/backend"
)

const (
	RootID     = "."
	uploadsDir = ".oserv-uploads"
)

type Options struct {
	Root     string
	DirMode  os.FileMode
	FileMode os.FileMode
}

type Store struct {
	opt Options

	mu       sync.Mutex
	sessions map[string]*pendingUpload
}

var (
	_ backend.RemoteDirectory  = (*Store)(nil)
	_ backend.SessionUploader  = (*Store)(nil)
	_ backend.RootResolver     = (*Store)(nil)
	_ backend.SessionCanceller = (*Store)(nil)
)

func New(opt Options) (*Store, error) {
	if opt.Root == "" {
		return nil, errors.New("localfs root is required")
	}
	if opt.DirMode == 0 {
		opt.DirMode = 0o755
	}
	if opt.FileMode == 0 {
		opt.FileMode = 0o644
	}
	abs, err := filepath.Abs(opt.Root)
	if err != nil {
		return nil, err
	}
	opt.Root = abs
	if err := os.MkdirAll(opt.Root, opt.DirMode); err != nil {
		return nil, fmt.Errorf("create localfs root: %w", err)
	}
	return &Store{opt: opt, sessions: make(map[string]*pendingUpload)}, nil
}

func (s *Store) RootID(context.Context) (string, error) { return RootID, nil }

// abs maps a node id onto the filesystem, refusing ids that escape the root.
func (s *Store) abs(id string) (string, error) {
	clean := path.Clean("/" + id)
	if clean == "/" {
		return s.opt.Root, nil
	}
	return filepath.Join(s.opt.Root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func childID(parentID, name string) string {
	if parentID == "" || parentID == RootID {
		return name
	}
	return path.Join(parentID, name)
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.ContainsAny(name, `/\`)
}

func remoteErr(op string, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, fs.ErrNotExist):
		status = http.StatusNotFound
	case errors.Is(err, fs.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, fs.ErrExist):
		status = http.StatusConflict
	}
	return &backend.RemoteError{Op: op, Status: status, Err: err}
}

func (s *Store) ListChildren(_ context.Context, containerID string) ([]backend.RemoteNode, error) {
	dir, err := s.abs(containerID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, remoteErr("list children", err)
	}
	out := make([]backend.RemoteNode, 0, len(entries))
	for _, e := range entries {
		if e.Name() == uploadsDir {
			continue
		}
		n := backend.RemoteNode{
			ID:          childID(containerID, e.Name()),
			Name:        e.Name(),
			IsContainer: e.IsDir(),
		}
		if !e.IsDir() {
			if info, err := e.Info(); err == nil {
				n.Size = info.Size()
			}
		}
		out = append(out, n)
	}
	return out, nil
}

// freeName returns name, or "name N.ext" with the lowest N that is unused.
func freeName(dir, name string) string {
	if _, err := os.Lstat(filepath.Join(dir, name)); errors.Is(err, fs.ErrNotExist) {
		return name
	}
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s %d%s", stem, i, ext)
		if _, err := os.Lstat(filepath.Join(dir, candidate)); errors.Is(err, fs.ErrNotExist) {
			return candidate
		}
	}
}

func (s *Store) CreateContainer(_ context.Context, parentID, name string) (backend.RemoteNode, error) {
	if !validName(name) {
		return backend.RemoteNode{}, &backend.RemoteError{Op: "create folder", Status: http.StatusBadRequest, Body: fmt.Sprintf("invalid name %q", name)}
	}
	parent, err := s.abs(parentID)
	if err != nil {
		return backend.RemoteNode{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	final := freeName(parent, name)
	if err := os.Mkdir(filepath.Join(parent, final), s.opt.DirMode); err != nil {
		return backend.RemoteNode{}, remoteErr("create folder", err)
	}
	return backend.RemoteNode{ID: childID(parentID, final), Name: final, IsContainer: true}, nil
}

func (s *Store) PutContent(_ context.Context, parentID, name string, body io.Reader, size int64) (backend.RemoteNode, error) {
	if !validName(name) {
		return backend.RemoteNode{}, &backend.RemoteError{Op: "upload file", Status: http.StatusBadRequest, Body: fmt.Sprintf("invalid name %q", name)}
	}
	parent, err := s.abs(parentID)
	if err != nil {
		return backend.RemoteNode{}, err
	}

	s.mu.Lock()
	final := freeName(parent, name)
	f, err := os.OpenFile(filepath.Join(parent, final), os.O_CREATE|os.O_EXCL|os.O_WRONLY, s.opt.FileMode)
	s.mu.Unlock()
	if err != nil {
		return backend.RemoteNode{}, remoteErr("upload file", err)
	}

	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n != size {
		err = fmt.Errorf("received %d of %d bytes", n, size)
	}
	if err != nil {
		_ = os.Remove(filepath.Join(parent, final))
		return backend.RemoteNode{}, &backend.RemoteError{Op: "upload file", Status: http.StatusBadRequest, Err: err}
	}
	return backend.RemoteNode{ID: childID(parentID, final), Name: final, Size: n}, nil
}

func (s *Store) GetContent(_ context.Context, nodeID string) (io.ReadCloser, int64, error) {
	p, err := s.abs(nodeID)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, remoteErr("download file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, remoteErr("download file", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, &backend.RemoteError{Op: "download file", Status: http.StatusBadRequest, Body: "node is a folder"}
	}
	return f, info.Size(), nil
}
