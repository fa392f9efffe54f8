package mirror

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/internal"
)

// LocalName turns a remote name into a local one: whitespace becomes "_" and
// path separators cannot escape the target directory.
func LocalName(remote string) string {
	name := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return '_'
		}
		return r
	}, remote)
	switch name {
	case "", ".", "..":
		return strings.Repeat("_", len(name)+1)
	}
	return name
}

// Find returns the first child of containerID called name.
func Find(ctx context.Context, remote backend.RemoteDirectory, containerID, name string) (backend.RemoteNode, error) {
	children, err := remote.ListChildren(ctx, containerID)
	if err != nil {
		return backend.RemoteNode{}, err
	}
	for _, c := range children {
		if c.Name == name {
			return c, nil
		}
	}
	return backend.RemoteNode{}, &backend.NotFoundError{Name: name}
}

// Download mirrors the child called name of containerID into destDir. A
// missing name is reported as NotFoundError with nothing written locally.
func (e *Engine) Download(ctx context.Context, name, containerID, destDir string) (*Report, error) {
	report := &Report{Direction: Download}

	node, err := Find(ctx, e.remote, containerID, name)
	if err != nil {
		return report, err
	}

	target := filepath.Join(destDir, LocalName(node.Name))
	if !node.IsContainer {
		if err := e.downloadFile(ctx, report, node, target); err != nil && fatal(ctx, err) {
			return report, err
		}
		return report, nil
	}

	if err := os.MkdirAll(target, 0o755); err != nil {
		return report, &LocalIOError{Path: target, Op: "mkdir", Err: err}
	}
	report.Containers++
	if err := e.downloadTree(ctx, report, node, target); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) downloadTree(ctx context.Context, report *Report, dir backend.RemoteNode, localDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	children, err := e.remote.ListChildren(ctx, dir.ID)
	if err != nil {
		if fatal(ctx, err) {
			return err
		}
		e.fail(report, localDir, err)
		return nil
	}

	for _, child := range children {
		target := filepath.Join(localDir, LocalName(child.Name))
		if !child.IsContainer {
			if err := e.downloadFile(ctx, report, child, target); err != nil && fatal(ctx, err) {
				return err
			}
			continue
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			e.fail(report, target, &LocalIOError{Path: target, Op: "mkdir", Err: err})
			continue
		}
		report.Containers++
		if err := e.downloadTree(ctx, report, child, target); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) downloadFile(ctx context.Context, report *Report, node backend.RemoteNode, target string) error {
	body, size, err := e.remote.GetContent(ctx, node.ID)
	if err != nil {
		if !fatal(ctx, err) {
			e.fail(report, target, err)
		}
		return err
	}
	defer body.Close()
	if size <= 0 {
		size = node.Size
	}

	e.obs.TransferStarted(node.Name, size, Download)
	n, err := writeFile(target, &progressReader{r: body, total: size, report: func(done, total int64) {
		e.obs.TransferProgress(node.Name, done, total)
	}})
	if err != nil {
		_ = os.Remove(target)
		var lerr *LocalIOError
		if !errors.As(err, &lerr) {
			err = &backend.RemoteError{Op: "download file", Err: err}
		}
		if !fatal(ctx, err) {
			e.fail(report, target, err)
		}
		return err
	}

	report.Files++
	report.Bytes += n
	e.obs.TransferFinished(node.Name, n, Download, false)
	internal.Debug("file downloaded", internal.Fields{
		internal.FieldLocalPath: target,
		internal.FieldNodeID:    node.ID,
	})
	return nil
}

// writeFile streams r into path. Write failures are LocalIOErrors; read
// failures are returned as they are.
func writeFile(path string, r io.Reader) (int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, &LocalIOError{Path: path, Op: "create", Err: err}
	}
	n, err := io.Copy(&errWriter{w: f, path: path}, r)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = &LocalIOError{Path: path, Op: "close", Err: cerr}
	}
	return n, err
}

type errWriter struct {
	w    io.Writer
	path string
}

func (ew *errWriter) Write(p []byte) (int, error) {
	n, err := ew.w.Write(p)
	if err != nil {
		return n, &LocalIOError{Path: ew.path, Op: "write", Err: err}
	}
	return n, nil
}
