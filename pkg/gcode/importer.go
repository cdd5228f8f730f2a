// Package gcode reconstructs printed FDM geometry from G-code toolpaths.
//
// Lines are tokenized, dispatched through a closed mnemonic table and
// turned into moves. The motion state machine decides, for each move,
// whether a new layer or polyline starts and whether an extruded point is
// recorded. After the last line the trailing geometry is flushed and the
// dominant layer thickness is estimated from the observed Z steps.
//
// A Parser holds all state for one file; there is no package-level mutable
// state, so independent files can be imported concurrently.
package gcode

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"gcode-import/pkg/errors"
	"gcode-import/pkg/log"
	"gcode-import/pkg/model"
)

// maxLineLength bounds a single G-code line.
const maxLineLength = 1 << 20

// Stats counts what an import saw.
type Stats struct {
	Lines         int            `json:"lines"`
	Skipped       int            `json:"skipped"`  // blank or comment-only
	Commands      int            `json:"commands"` // mnemonics dispatched, line-number prefixes included
	Moves         int            `json:"moves"`
	Resets        int            `json:"resets"`
	DroppedParams int            `json:"dropped_params"`
	Unknown       map[string]int `json:"unknown,omitempty"`
}

// UnknownTotal returns the number of unknown commands seen.
func (s *Stats) UnknownTotal() int {
	n := 0
	for _, c := range s.Unknown {
		n += c
	}
	return n
}

// Options configures an import.
type Options struct {
	// Name labels the resulting document. ImportFile derives it from the
	// path when empty.
	Name string

	// ThicknessMin and ThicknessMax bound the open interval of Z steps
	// counted towards the nominal layer thickness.
	ThicknessMin float64
	ThicknessMax float64

	// ReportUnknown logs unknown commands at WARN level.
	ReportUnknown bool

	// MaxDiagnostics caps the recorded per-line problems. 0 means no cap.
	MaxDiagnostics int

	// Logger receives diagnostics. Nil uses the default "gcode" logger.
	Logger *log.Logger
}

// DefaultOptions returns the standard import options.
func DefaultOptions() Options {
	return Options{
		ThicknessMin:   DefaultThicknessMin,
		ThicknessMax:   DefaultThicknessMax,
		ReportUnknown:  true,
		MaxDiagnostics: 1000,
	}
}

// Result is the outcome of one import.
type Result struct {
	Document    model.Document      `json:"document"`
	Histogram   []Bucket            `json:"histogram"`
	Stats       Stats               `json:"stats"`
	Diagnostics []*errors.HostError `json:"-"`
}

// Parser consumes the lines of one file.
type Parser struct {
	opts       Options
	log        *log.Logger
	dispatcher *Dispatcher
	line       int
	diags      []*errors.HostError
	result     *Result
}

// NewParser creates a parser with its own accumulator and machine.
func NewParser(opts Options) *Parser {
	if opts.ThicknessMin == 0 && opts.ThicknessMax == 0 {
		opts.ThicknessMin, opts.ThicknessMax = DefaultThicknessMin, DefaultThicknessMax
	}
	p := &Parser{opts: opts, log: opts.Logger}
	if p.log == nil {
		p.log = log.GetLogger("gcode")
	}
	acc := NewAccumulator(NewThicknessHistogram(opts.ThicknessMin, opts.ThicknessMax))
	p.dispatcher = NewDispatcher(NewMachine(acc), p.onProblem)
	return p
}

// ParseLine tokenizes and dispatches one raw line. Lines fed after Finish
// are ignored.
func (p *Parser) ParseLine(raw string) {
	if p.result != nil {
		return
	}
	p.line++
	stats := p.dispatcher.Stats()
	stats.Lines++
	tokens := Tokenize(raw)
	if len(tokens) == 0 {
		stats.Skipped++
		return
	}
	p.dispatcher.Dispatch(tokens)
}

// Position returns the current tool position.
func (p *Parser) Position() Position {
	return p.dispatcher.Machine().Position()
}

// Finish flushes trailing geometry and returns the result. Repeated calls
// return the same result.
func (p *Parser) Finish() *Result {
	if p.result != nil {
		return p.result
	}
	m := p.dispatcher.Machine()
	m.Flush()
	acc := m.Accumulator()

	stats := *p.dispatcher.Stats()
	p.result = &Result{
		Document:    acc.Document(p.opts.Name),
		Histogram:   acc.Histogram().Buckets(),
		Stats:       stats,
		Diagnostics: p.diags,
	}

	d := &p.result.Document
	fields := log.Fields{
		"layers":    len(d.Layers),
		"polylines": d.PolylineCount(),
		"points":    d.PointCount(),
		"lines":     stats.Lines,
		"unknown":   stats.UnknownTotal(),
	}
	if d.HasThickness {
		fields["thickness"] = d.NominalThickness
	}
	p.log.WithFields(fields).Info("import complete")
	return p.result
}

func (p *Parser) onProblem(e *errors.HostError) {
	e.SetLine(p.line)
	if e.Code == errors.ErrGCodeUnknownCmd {
		if p.opts.ReportUnknown {
			p.log.WithFields(log.Fields{"line": p.line, "mnemonic": e.Context["mnemonic"]}).
				Warn("unknown command")
		}
	} else {
		p.log.WithFields(log.Fields{"line": p.line, "token": e.Context["token"]}).
			Warn(e.Message)
	}
	if p.opts.MaxDiagnostics > 0 && len(p.diags) >= p.opts.MaxDiagnostics {
		return
	}
	p.diags = append(p.diags, e)
}

// Importer runs imports with a fixed set of options. It is safe for
// concurrent use; every call gets its own Parser.
type Importer struct {
	opts Options
}

// NewImporter creates an importer.
func NewImporter(opts Options) *Importer {
	return &Importer{opts: opts}
}

// Options returns the options the importer was created with.
func (im *Importer) Options() Options {
	return im.opts
}

// ImportLines imports an in-memory sequence of lines.
func (im *Importer) ImportLines(lines []string) *Result {
	p := NewParser(im.opts)
	for _, l := range lines {
		p.ParseLine(l)
	}
	return p.Finish()
}

// ImportString imports G-code text.
func (im *Importer) ImportString(ctx context.Context, text string) (*Result, error) {
	return im.Import(ctx, strings.NewReader(text))
}

// Import reads r to the end. Read failures and cancellation abort the
// import and no result is returned.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	return im.importReader(ctx, r, im.opts.Name, "")
}

// ImportFile opens and imports the file at path. The document name
// defaults to the file name without its .gcode suffix.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	f, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := im.opts.Name
	if name == "" {
		name = model.ObjectName(path)
	}
	return im.importReader(ctx, f, name, path)
}

func (im *Importer) importReader(ctx context.Context, r io.Reader, name, path string) (*Result, error) {
	opts := im.opts
	opts.Name = name
	p := NewParser(opts)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.ParseLine(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.ReadError(path, p.line+1, err)
	}
	return p.Finish(), nil
}

// OpenFile opens a G-code file for a single sequential pass.
func OpenFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.OpenError(path, err)
	}
	adviseSequential(f)
	return f, nil
}
