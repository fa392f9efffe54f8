package output

import (
	"math"
	"sync"

	"github.com/pterm/pterm"

	"github.com/joaooservit/oserv-cloud-storage/pkg/mirror"
)

// FileProgress draws one progress bar per file inside a shared pterm multi
// printer area. Transfers are sequential so at most one bar is live.
type FileProgress struct {
	mirror.NopObserver

	multi   *pterm.MultiPrinter
	bar     *pterm.ProgressbarPrinter
	done    int64
	started bool
	mu      sync.Mutex
}

func NewFileProgress() *FileProgress {
	return &FileProgress{}
}

// Start activates the shared area for the bars.
func (m *FileProgress) Start() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}
	mp := pterm.DefaultMultiPrinter
	if _, err := mp.Start(); err != nil {
		return err
	}
	m.multi = &mp
	m.started = true
	return nil
}

// Stop tears down the multi printer area.
func (m *FileProgress) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.stopBarLocked()
	multi := m.multi
	started := m.started
	m.started = false
	m.multi = nil
	m.mu.Unlock()

	if started && multi != nil {
		_, _ = multi.Stop()
	}
}

func (m *FileProgress) TransferStarted(name string, size int64, dir mirror.Direction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.stopBarLocked()

	arrow := "↑ "
	if dir == mirror.Download {
		arrow = "↓ "
	}
	bar, err := pterm.DefaultProgressbar.
		WithWriter(m.multi.NewWriter()).
		WithTitle(arrow + name).
		WithTotal(clampToInt(size)).
		WithShowElapsedTime(false).
		WithShowCount(false).
		WithRemoveWhenDone(true).
		Start()
	if err != nil {
		return
	}
	m.bar = bar
	m.done = 0
}

func (m *FileProgress) TransferProgress(_ string, done, _ int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.bar == nil || done <= m.done {
		return
	}
	m.bar.Add(clampToInt(done - m.done))
	m.done = done
}

func (m *FileProgress) TransferFinished(string, int64, mirror.Direction, bool) {
	m.mu.Lock()
	m.stopBarLocked()
	m.mu.Unlock()
}

func (m *FileProgress) Failed(mirror.Failure) {
	m.mu.Lock()
	m.stopBarLocked()
	m.mu.Unlock()
}

func (m *FileProgress) stopBarLocked() {
	if m.bar == nil {
		return
	}
	_, _ = m.bar.Stop()
	m.bar = nil
	m.done = 0
}

func clampToInt(v int64) int {
	if v <= 0 {
		return 1
	}
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}
