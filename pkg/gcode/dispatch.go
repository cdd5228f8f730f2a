package gcode

import (
	"sort"
	"strings"

	"gcode-import/pkg/errors"
)

// Handler executes one recognized command against the dispatcher's machine.
type Handler interface {
	Execute(d *Dispatcher, params []string)
}

// moveHandler implements G0/G1: move to the resolved target.
type moveHandler struct{}

func (moveHandler) Execute(d *Dispatcher, params []string) {
	target, problems := ResolveFull(params, d.machine.Position())
	d.report(problems...)
	d.machine.MoveTo(target)
	d.stats.Moves++
}

// homeHandler implements G28. Every axis named in the parameters is
// zeroed regardless of its value, and E is always zeroed.
type homeHandler struct{}

func (homeHandler) Execute(d *Dispatcher, params []string) {
	target := d.machine.Position()
	for _, tok := range params {
		if tok == "" {
			continue
		}
		if axis, ok := axisFromLetter(tok[0]); ok {
			target[axis] = 0
		}
	}
	target[AxisE] = 0
	d.machine.MoveTo(target)
	d.stats.Moves++
}

// setPositionHandler implements G92. Resetting E to zero ends the current
// polyline; the position is adopted without a move.
type setPositionHandler struct{}

func (setPositionHandler) Execute(d *Dispatcher, params []string) {
	target, problems := ResolveFull(params, d.machine.Position())
	d.report(problems...)
	if target.E() == 0 {
		d.machine.BreakPath()
	}
	d.machine.SetPosition(target)
	d.stats.Resets++
}

// lineNumberHandler implements N: the line number is dropped and the rest
// of the line is dispatched. Checksums are stripped, not verified.
type lineNumberHandler struct {
	// attached is true for the "N123" form, where the number is part of
	// the mnemonic token; the bare "N" form carries it as the next token.
	attached bool
}

func (h lineNumberHandler) Execute(d *Dispatcher, params []string) {
	rest := params
	if !h.attached {
		if len(rest) == 0 {
			return
		}
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return
	}
	rest = stripChecksum(rest)
	d.Dispatch(rest)
}

// stripChecksum removes a trailing "*nn" checksum from the last token and
// drops the token if nothing else is left.
func stripChecksum(tokens []string) []string {
	last := tokens[len(tokens)-1]
	idx := strings.LastIndexByte(last, '*')
	if idx < 0 {
		return tokens
	}
	out := append([]string(nil), tokens...)
	if idx == 0 {
		return out[:len(out)-1]
	}
	out[len(out)-1] = last[:idx]
	return out
}

// noopHandler accepts setup, thermal and fan commands without effect.
type noopHandler struct{}

func (noopHandler) Execute(*Dispatcher, []string) {}

// unsupportedHandler reports a mnemonic with no handler.
type unsupportedHandler struct {
	mnemonic string
}

func (h unsupportedHandler) Execute(d *Dispatcher, _ []string) {
	if d.stats.Unknown == nil {
		d.stats.Unknown = make(map[string]int)
	}
	d.stats.Unknown[h.mnemonic]++
	d.report(errors.GCodeUnknownCommandError(h.mnemonic))
}

// commandTable is the closed set of supported mnemonics. Matching is
// case-sensitive.
var commandTable = map[string]Handler{
	"N":    lineNumberHandler{},
	"G0":   moveHandler{},
	"G1":   moveHandler{},
	"G28":  homeHandler{},
	"G92":  setPositionHandler{},
	"G21":  noopHandler{}, // units: mm
	"G90":  noopHandler{}, // absolute positioning
	"M82":  noopHandler{}, // absolute extrusion
	"M84":  noopHandler{}, // motors off
	"M104": noopHandler{}, // set hotend temperature
	"M106": noopHandler{}, // fan on
	"M107": noopHandler{}, // fan off
	"M109": noopHandler{}, // set hotend temperature and wait
}

// SupportedCommands returns the recognized mnemonics in sorted order.
func SupportedCommands() []string {
	out := make([]string, 0, len(commandTable))
	for k := range commandTable {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the handler for a mnemonic. Unknown mnemonics get the
// unsupported handler and ok is false.
func Lookup(mnemonic string) (h Handler, ok bool) {
	if h, ok := commandTable[mnemonic]; ok {
		return h, true
	}
	if isLineNumber(mnemonic) {
		return lineNumberHandler{attached: true}, true
	}
	return unsupportedHandler{mnemonic: mnemonic}, false
}

// isLineNumber reports whether tok has the form N<digits>, optionally
// followed by a "*nn" checksum.
func isLineNumber(tok string) bool {
	tok, _, _ = strings.Cut(tok, "*")
	if len(tok) < 2 || tok[0] != 'N' {
		return false
	}
	for i := 1; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return false
		}
	}
	return true
}

// Dispatcher routes tokenized lines to command handlers.
type Dispatcher struct {
	machine *Machine
	stats   *Stats

	// onProblem receives every recovered per-line problem.
	onProblem func(*errors.HostError)
}

// NewDispatcher creates a dispatcher driving m. onProblem may be nil.
func NewDispatcher(m *Machine, onProblem func(*errors.HostError)) *Dispatcher {
	return &Dispatcher{
		machine:   m,
		stats:     &Stats{},
		onProblem: onProblem,
	}
}

// Machine returns the machine the dispatcher drives.
func (d *Dispatcher) Machine() *Machine {
	return d.machine
}

// Stats returns the running command counters.
func (d *Dispatcher) Stats() *Stats {
	return d.stats
}

// Dispatch executes one tokenized line. It reports whether the mnemonic
// was recognized; unknown mnemonics are reported and otherwise ignored.
func (d *Dispatcher) Dispatch(tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	h, ok := Lookup(tokens[0])
	d.stats.Commands++
	h.Execute(d, tokens[1:])
	return ok
}

func (d *Dispatcher) report(problems ...*errors.HostError) {
	for _, p := range problems {
		if p.Code == errors.ErrGCodeInvalidParam {
			d.stats.DroppedParams++
		}
		if d.onProblem != nil {
			d.onProblem(p)
		}
	}
}
