package backend

import (
	"context"
	"io"
	"strings"
)

type BackendType string

const (
	GraphBackend   BackendType = "graph"
	LocalFSBackend BackendType = "localfs"
	S3Backend      BackendType = "s3"
	UnknownBackend BackendType = "unknown"
)

var backends = map[BackendType]struct{}{
	GraphBackend:   {},
	LocalFSBackend: {},
	S3Backend:      {},
}

func ParseBackendType(s string) BackendType {
	bt := BackendType(strings.ToLower(strings.TrimSpace(s)))
	if !IsBackendTypeValid(bt) {
		return UnknownBackend
	}
	return bt
}

func IsBackendTypeValid(bt BackendType) bool {
	_, ok := backends[bt]
	return ok
}

// RemoteNode is a file or container in the remote store. IDs are opaque and
// stable; names are not unique within a container.
type RemoteNode struct {
	ID          string
	Name        string
	IsContainer bool
	Size        int64
}

// RemoteDirectory is the hierarchical store the mirror engine talks to.
type RemoteDirectory interface {
	// ListChildren returns the immediate children of a container, following
	// pagination until the listing is exhausted.
	ListChildren(ctx context.Context, containerID string) ([]RemoteNode, error)
	// CreateContainer creates a child container. A name collision makes the
	// store pick a different name; callers must use the returned node.
	CreateContainer(ctx context.Context, parentID, name string) (RemoteNode, error)
	// PutContent uploads a whole body in a single request.
	PutContent(ctx context.Context, parentID, name string, body io.Reader, size int64) (RemoteNode, error)
	// GetContent streams a leaf's bytes. The caller closes the reader.
	GetContent(ctx context.Context, nodeID string) (io.ReadCloser, int64, error)
}

// RangeResult is the store's answer to one chunk of an upload session.
// Node is nil while the session is still accepting ranges.
type RangeResult struct {
	Node *RemoteNode
}

func (r RangeResult) Completed() bool { return r.Node != nil }

// SessionUploader is implemented by stores that support resumable chunked
// uploads. Ranges are sent strictly in order.
type SessionUploader interface {
	OpenSession(ctx context.Context, parentID, name string, size int64) (string, error)
	PutRange(ctx context.Context, uploadURL string, data []byte, offset, total int64) (RangeResult, error)
}

// SessionCanceller is implemented by session stores that hold server-side
// state for an unfinished upload. CancelSession discards it; an unknown or
// already finished session is not an error.
type SessionCanceller interface {
	CancelSession(ctx context.Context, uploadURL string) error
}

// RootResolver is implemented by stores whose root container id is discovered
// rather than configured.
type RootResolver interface {
	RootID(ctx context.Context) (string, error)
}
