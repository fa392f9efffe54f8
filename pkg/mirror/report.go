package mirror

import "fmt"

// LocalIOError is a failure reading or writing the local filesystem.
type LocalIOError struct {
	Path string
	Op   string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

// Failure is one node that could not be transferred. Siblings continue.
type Failure struct {
	Path string
	Err  error
}

type Report struct {
	Direction  Direction
	Containers int
	Files      int
	Bytes      int64
	Failures   []Failure
}

func (r *Report) OK() bool { return len(r.Failures) == 0 }

func (e *Engine) fail(r *Report, path string, err error) {
	f := Failure{Path: path, Err: err}
	r.Failures = append(r.Failures, f)
	e.obs.Failed(f)
}
