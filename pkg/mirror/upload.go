package mirror

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/internal"
	"github.com/joaooservit/oserv-cloud-storage/pkg/upload"
)

// Upload mirrors localPath into the container targetID. A regular file is
// transferred directly; a directory becomes a new container holding its tree.
// The returned error is set only when nothing could be started or the
// traversal had to stop; per-node failures are in the report.
func (e *Engine) Upload(ctx context.Context, localPath, targetID string) (*Report, error) {
	report := &Report{Direction: Upload}

	info, err := os.Stat(localPath)
	if err != nil {
		return report, &LocalIOError{Path: localPath, Op: "stat", Err: err}
	}

	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return report, &LocalIOError{Path: localPath, Op: "upload", Err: errors.New("not a regular file")}
		}
		if err := e.uploadFile(ctx, report, localPath, info.Size(), targetID); err != nil && fatal(ctx, err) {
			return report, err
		}
		return report, nil
	}

	root, err := e.remote.CreateContainer(ctx, targetID, filepath.Base(filepath.Clean(localPath)))
	if err != nil {
		return report, err
	}
	report.Containers++
	e.obs.ContainerCreated(root)

	w := &uploadWalk{
		engine:  e,
		report:  report,
		rootID:  root.ID,
		mapping: map[string]string{".": root.ID},
	}
	if err := w.visit(ctx, localPath, "."); err != nil {
		return report, err
	}
	return report, nil
}

// uploadWalk is the state of one directory upload. mapping is the transient
// relative-path to container-id table; it lives only for this traversal.
type uploadWalk struct {
	engine  *Engine
	report  *Report
	rootID  string
	mapping map[string]string
}

// visit handles one directory: resolve its container, send its files, then
// descend into subdirectories in enumeration order.
func (w *uploadWalk) visit(ctx context.Context, absDir, rel string) error {
	e := w.engine
	if err := ctx.Err(); err != nil {
		return err
	}

	containerID, err := w.container(ctx, rel)
	if err != nil {
		if fatal(ctx, err) {
			return err
		}
		e.fail(w.report, absDir, err)
		containerID = ""
	}

	entries, err := os.ReadDir(absDir)
	if err != nil {
		e.fail(w.report, absDir, &LocalIOError{Path: absDir, Op: "read dir", Err: err})
		return nil
	}

	var dirs []fs.DirEntry
	for _, entry := range entries {
		p := filepath.Join(absDir, entry.Name())
		info, err := os.Stat(p)
		if err != nil {
			e.fail(w.report, p, &LocalIOError{Path: p, Op: "stat", Err: err})
			continue
		}
		switch {
		case info.IsDir():
			if entry.Type()&fs.ModeSymlink != 0 {
				internal.Debug("skipping symlinked directory", internal.Fields{internal.FieldLocalPath: p})
				continue
			}
			dirs = append(dirs, entry)
		case info.Mode().IsRegular():
			if containerID == "" {
				continue
			}
			if err := e.uploadFile(ctx, w.report, p, info.Size(), containerID); err != nil && fatal(ctx, err) {
				return err
			}
		default:
			internal.Debug("skipping special file", internal.Fields{internal.FieldLocalPath: p})
		}
	}

	for _, d := range dirs {
		childRel := path.Join(rel, d.Name())
		if err := w.visit(ctx, filepath.Join(absDir, d.Name()), childRel); err != nil {
			return err
		}
	}
	return nil
}

// container returns the remote container for a relative directory path.
func (w *uploadWalk) container(ctx context.Context, rel string) (string, error) {
	if rel == "." {
		return w.rootID, nil
	}
	if w.engine.opt.ContainerPolicy == ReuseContainers {
		return w.reuse(ctx, rel)
	}

	id := w.rootID
	for _, segment := range strings.Split(rel, "/") {
		node, err := w.engine.remote.CreateContainer(ctx, id, segment)
		if err != nil {
			return "", err
		}
		w.report.Containers++
		w.engine.obs.ContainerCreated(node)
		id = node.ID
	}
	w.mapping[rel] = id
	return id, nil
}

func (w *uploadWalk) reuse(ctx context.Context, rel string) (string, error) {
	if id, ok := w.mapping[rel]; ok {
		return id, nil
	}
	parentID, err := w.reuse(ctx, path.Dir(rel))
	if err != nil {
		return "", err
	}
	name := path.Base(rel)

	children, err := w.engine.remote.ListChildren(ctx, parentID)
	if err != nil {
		return "", err
	}
	for _, c := range children {
		if c.IsContainer && c.Name == name {
			w.mapping[rel] = c.ID
			return c.ID, nil
		}
	}

	node, err := w.engine.remote.CreateContainer(ctx, parentID, name)
	if err != nil {
		return "", err
	}
	w.report.Containers++
	w.engine.obs.ContainerCreated(node)
	w.mapping[rel] = node.ID
	return node.ID, nil
}

// uploadFile sends one regular file into parentID. Failures are recorded in
// the report and returned so callers can tell fatal ones apart.
func (e *Engine) uploadFile(ctx context.Context, report *Report, localPath string, size int64, parentID string) error {
	name := filepath.Base(localPath)
	f, err := os.Open(localPath)
	if err != nil {
		lerr := &LocalIOError{Path: localPath, Op: "open", Err: err}
		e.fail(report, localPath, lerr)
		return lerr
	}
	defer f.Close()

	e.obs.TransferStarted(name, size, Upload)
	node, chunked, err := e.send(ctx, f, parentID, name, size)
	if err != nil {
		if !fatal(ctx, err) {
			e.fail(report, localPath, err)
		}
		return err
	}

	report.Files++
	report.Bytes += size
	e.obs.TransferFinished(name, size, Upload, chunked)
	internal.Debug("file uploaded", internal.Fields{
		internal.FieldLocalPath: localPath,
		internal.FieldNodeID:    node.ID,
		internal.FieldName:      node.Name,
	})
	return nil
}

func (e *Engine) send(ctx context.Context, src io.Reader, parentID, name string, size int64) (backend.RemoteNode, bool, error) {
	su, canChunk := e.remote.(backend.SessionUploader)
	if canChunk && size > 0 && size >= e.opt.ChunkThreshold {
		var last int64
		node, err := upload.Upload(ctx, su, upload.Request{
			ParentID:  parentID,
			Name:      name,
			Source:    src,
			Size:      size,
			ChunkSize: e.opt.ChunkSize,
			Progress: func(sent, total int64) {
				e.obs.ChunkAccepted(sent - last)
				last = sent
				e.obs.TransferProgress(name, sent, total)
			},
		}, e.sessionOptions()...)
		return node, true, err
	}

	body := &progressReader{r: src, total: size, report: func(done, total int64) {
		e.obs.TransferProgress(name, done, total)
	}}
	node, err := e.remote.PutContent(ctx, parentID, name, body, size)
	return node, false, err
}

type progressReader struct {
	r      io.Reader
	done   int64
	total  int64
	report func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.report(p.done, p.total)
	}
	return n, err
}
