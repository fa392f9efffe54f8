package mirror

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joaooservit/oserv-cloud-storage/backend"
)

type fakeNode struct {
	backend.RemoteNode
	parent   string
	children []string
	data     []byte
}

// fakeRemote is an in-memory store that renames on collision and records
// every mutating call as "op(parentName,name)".
type fakeRemote struct {
	nodes   map[string]*fakeNode
	nextID  int
	calls   []string
	failPut map[string]error
	failMk  map[string]error
	failLs  map[string]error
	lists   int
}

var _ backend.RemoteDirectory = (*fakeRemote)(nil)

func newFakeRemote() *fakeRemote {
	f := &fakeRemote{
		nodes:   map[string]*fakeNode{},
		failPut: map[string]error{},
		failMk:  map[string]error{},
		failLs:  map[string]error{},
	}
	f.nodes["root"] = &fakeNode{RemoteNode: backend.RemoteNode{ID: "root", Name: "", IsContainer: true}}
	return f
}

func (f *fakeRemote) freeName(parent *fakeNode, name string) string {
	taken := map[string]bool{}
	for _, id := range parent.children {
		taken[f.nodes[id].Name] = true
	}
	if !taken[name] {
		return name
	}
	for i := 1; ; i++ {
		if c := fmt.Sprintf("%s %d", name, i); !taken[c] {
			return c
		}
	}
}

func (f *fakeRemote) add(parentID, name string, container bool, data []byte) (backend.RemoteNode, error) {
	parent, ok := f.nodes[parentID]
	if !ok || !parent.IsContainer {
		return backend.RemoteNode{}, &backend.RemoteError{Op: "add", Status: http.StatusNotFound}
	}
	f.nextID++
	n := &fakeNode{
		RemoteNode: backend.RemoteNode{
			ID:          fmt.Sprintf("id%d", f.nextID),
			Name:        f.freeName(parent, name),
			IsContainer: container,
			Size:        int64(len(data)),
		},
		parent: parentID,
		data:   data,
	}
	f.nodes[n.ID] = n
	parent.children = append(parent.children, n.ID)
	return n.RemoteNode, nil
}

func (f *fakeRemote) label(id string) string {
	if id == "root" {
		return "root"
	}
	return f.nodes[id].Name
}

func (f *fakeRemote) ListChildren(_ context.Context, containerID string) ([]backend.RemoteNode, error) {
	f.lists++
	if err := f.failLs[containerID]; err != nil {
		return nil, err
	}
	n, ok := f.nodes[containerID]
	if !ok {
		return nil, &backend.RemoteError{Op: "list children", Status: http.StatusNotFound}
	}
	out := make([]backend.RemoteNode, 0, len(n.children))
	for _, id := range n.children {
		out = append(out, f.nodes[id].RemoteNode)
	}
	return out, nil
}

func (f *fakeRemote) CreateContainer(_ context.Context, parentID, name string) (backend.RemoteNode, error) {
	f.calls = append(f.calls, fmt.Sprintf("mkdir(%s,%s)", f.label(parentID), name))
	if err := f.failMk[name]; err != nil {
		return backend.RemoteNode{}, err
	}
	return f.add(parentID, name, true, nil)
}

func (f *fakeRemote) PutContent(_ context.Context, parentID, name string, body io.Reader, size int64) (backend.RemoteNode, error) {
	f.calls = append(f.calls, fmt.Sprintf("put(%s,%s)", f.label(parentID), name))
	if err := f.failPut[name]; err != nil {
		return backend.RemoteNode{}, err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return backend.RemoteNode{}, err
	}
	if int64(len(data)) != size {
		return backend.RemoteNode{}, &backend.RemoteError{Op: "put", Status: http.StatusBadRequest}
	}
	return f.add(parentID, name, false, data)
}

func (f *fakeRemote) GetContent(_ context.Context, nodeID string) (io.ReadCloser, int64, error) {
	n, ok := f.nodes[nodeID]
	if !ok || n.IsContainer {
		return nil, 0, &backend.RemoteError{Op: "get", Status: http.StatusNotFound}
	}
	return io.NopCloser(bytes.NewReader(n.data)), int64(len(n.data)), nil
}

// path renders a node's location for assertions, e.g. "A/B/y.txt".
func (f *fakeRemote) path(id string) string {
	var parts []string
	for id != "root" {
		n := f.nodes[id]
		parts = append([]string{n.Name}, parts...)
		id = n.parent
	}
	return strings.Join(parts, "/")
}

func (f *fakeRemote) tree() map[string]string {
	out := map[string]string{}
	for id, n := range f.nodes {
		if id == "root" {
			continue
		}
		if n.IsContainer {
			out[f.path(id)+"/"] = ""
		} else {
			out[f.path(id)] = string(n.data)
		}
	}
	return out
}

type pendingSession struct {
	parentID, name string
	buf            bytes.Buffer
	total          int64
}

// sessionRemote adds chunked upload sessions on top of fakeRemote.
type sessionRemote struct {
	*fakeRemote
	sessions map[string]*pendingSession
	ranges   []string
	reject   func(offset int64) error
	dropped  []string
}

var (
	_ backend.SessionUploader  = (*sessionRemote)(nil)
	_ backend.SessionCanceller = (*sessionRemote)(nil)
)

func newSessionRemote() *sessionRemote {
	return &sessionRemote{fakeRemote: newFakeRemote(), sessions: map[string]*pendingSession{}}
}

func (s *sessionRemote) OpenSession(_ context.Context, parentID, name string, size int64) (string, error) {
	s.calls = append(s.calls, fmt.Sprintf("session(%s,%s)", s.label(parentID), name))
	url := fmt.Sprintf("session-%d", len(s.sessions)+1)
	s.sessions[url] = &pendingSession{parentID: parentID, name: name, total: size}
	return url, nil
}

func (s *sessionRemote) PutRange(_ context.Context, url string, data []byte, offset, total int64) (backend.RangeResult, error) {
	s.ranges = append(s.ranges, fmt.Sprintf("%d-%d/%d", offset, offset+int64(len(data))-1, total))
	if s.reject != nil {
		if err := s.reject(offset); err != nil {
			return backend.RangeResult{}, err
		}
	}
	p := s.sessions[url]
	p.buf.Write(data)
	if int64(p.buf.Len()) < p.total {
		return backend.RangeResult{}, nil
	}
	node, err := s.add(p.parentID, p.name, false, p.buf.Bytes())
	if err != nil {
		return backend.RangeResult{}, err
	}
	return backend.RangeResult{Node: &node}, nil
}

func (s *sessionRemote) CancelSession(_ context.Context, url string) error {
	if _, ok := s.sessions[url]; ok {
		delete(s.sessions, url)
		s.dropped = append(s.dropped, url)
	}
	return nil
}
