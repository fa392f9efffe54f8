// Package mirror copies local directory trees into a RemoteDirectory and
// remote trees back to disk, one file and one chunk at a time.
package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/pkg/upload"
	"github.com/joaooservit/oserv-cloud-storage/pkg/util"
)

type ContainerPolicy int

const (
	// FreshContainers creates every segment of a visited directory's
	// relative path again, starting from the upload's root container.
	FreshContainers ContainerPolicy = iota
	// ReuseContainers resolves segments through the traversal's path
	// mapping and the parent's listing before creating anything.
	ReuseContainers
)

func ParseContainerPolicy(s string) (ContainerPolicy, error) {
	switch s {
	case "", "fresh":
		return FreshContainers, nil
	case "reuse":
		return ReuseContainers, nil
	default:
		return 0, errors.New("unknown container policy " + s)
	}
}

type Options struct {
	ChunkSize      int64
	ChunkThreshold int64
	ChunkRetries   int
	// RetryWait is the first backoff between resends of a refused chunk.
	RetryWait       time.Duration
	ContainerPolicy ContainerPolicy
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:      10 * 1024 * 1024,
		ChunkThreshold: 4 * 1024 * 1024,
		RetryWait:      500 * time.Millisecond,
	}
}

type Direction string

const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// Observer is told about transfer progress. Implementations must not block.
type Observer interface {
	ContainerCreated(node backend.RemoteNode)
	TransferStarted(name string, size int64, dir Direction)
	TransferProgress(name string, done, total int64)
	TransferFinished(name string, bytes int64, dir Direction, chunked bool)
	ChunkAccepted(size int64)
	ChunkRetried()
	Failed(f Failure)
}

type NopObserver struct{}

func (NopObserver) ContainerCreated(backend.RemoteNode) {}
func (NopObserver) TransferStarted(string, int64, Direction) {}
func (NopObserver) TransferProgress(string, int64, int64) {}
func (NopObserver) TransferFinished(string, int64, Direction, bool) {}
func (NopObserver) ChunkAccepted(int64) {}
func (NopObserver) ChunkRetried() {}
func (NopObserver) Failed(Failure) {}

type multiObserver []Observer

// Observers fans events out to every non-nil observer.
func Observers(obs ...Observer) Observer {
	var out multiObserver
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) ContainerCreated(n backend.RemoteNode) {
	for _, o := range m {
		o.ContainerCreated(n)
	}
}

func (m multiObserver) TransferStarted(name string, size int64, dir Direction) {
	for _, o := range m {
		o.TransferStarted(name, size, dir)
	}
}

func (m multiObserver) TransferProgress(name string, done, total int64) {
	for _, o := range m {
		o.TransferProgress(name, done, total)
	}
}

func (m multiObserver) TransferFinished(name string, bytes int64, dir Direction, chunked bool) {
	for _, o := range m {
		o.TransferFinished(name, bytes, dir, chunked)
	}
}

func (m multiObserver) ChunkAccepted(size int64) {
	for _, o := range m {
		o.ChunkAccepted(size)
	}
}

func (m multiObserver) ChunkRetried() {
	for _, o := range m {
		o.ChunkRetried()
	}
}

func (m multiObserver) Failed(f Failure) {
	for _, o := range m {
		o.Failed(f)
	}
}

type Engine struct {
	remote backend.RemoteDirectory
	opt    Options
	obs    Observer
}

func New(remote backend.RemoteDirectory, opt Options, obs Observer) *Engine {
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultOptions().ChunkSize
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Engine{remote: remote, opt: opt, obs: obs}
}

func (e *Engine) Remote() backend.RemoteDirectory { return e.remote }

func (e *Engine) retryPolicy() util.RetryPolicy {
	p := util.DefaultRetryPolicy(e.opt.ChunkRetries)
	if e.opt.RetryWait > 0 {
		p.InitialWait = e.opt.RetryWait
	}
	p.OnRetry = func(int, error) { e.obs.ChunkRetried() }
	return p
}

func (e *Engine) sessionOptions() []upload.Option {
	return []upload.Option{upload.WithRetry(e.retryPolicy())}
}

// fatal reports whether err must stop the whole traversal.
func fatal(ctx context.Context, err error) bool {
	return backend.IsAuth(err) || ctx.Err() != nil
}
