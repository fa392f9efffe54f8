package output

import (
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pterm/pterm"
)

// Printer renders structured CLI messages without relying on the logger.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter() *Printer {
	return NewPrinterTo(os.Stdout)
}

func NewPrinterTo(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Writer is where the printer renders; tables and prompts share it.
func (p *Printer) Writer() io.Writer {
	return p.w
}

func (p *Printer) Info(msg string, fields map[string]any) {
	p.printWith(pterm.Info, msg, fields)
}

func (p *Printer) Success(msg string, fields map[string]any) {
	p.printWith(pterm.Success, msg, fields)
}

func (p *Printer) Error(msg string, fields map[string]any) {
	p.printWith(pterm.Error, msg, fields)
}

func (p *Printer) Warn(msg string, fields map[string]any) {
	p.printWith(pterm.Warning, msg, fields)
}

// Println writes a plain line.
func (p *Printer) Println(a ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pterm.Fprintln(p.w, a...)
}

func (p *Printer) printWith(logger pterm.PrefixPrinter, msg string, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	logger.WithWriter(p.w).Println(msg)
	if len(fields) == 0 {
		return
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		pterm.Fprintln(p.w, "  "+k+":", fields[k])
	}
}
