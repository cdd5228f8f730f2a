package gcode

import (
	"math"
	"strconv"

	"gcode-import/pkg/errors"
	"gcode-import/pkg/model"
)

// Axis indexes a Position.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisE

	numAxes = 4
)

var axisNames = [numAxes]string{"X", "Y", "Z", "E"}

func (a Axis) String() string {
	if a < 0 || a >= numAxes {
		return "?"
	}
	return axisNames[a]
}

// axisFromLetter maps an uppercase axis letter to its Axis.
func axisFromLetter(c byte) (Axis, bool) {
	switch c {
	case 'X':
		return AxisX, true
	case 'Y':
		return AxisY, true
	case 'Z':
		return AxisZ, true
	case 'E':
		return AxisE, true
	}
	return 0, false
}

// Position is the tool position X, Y, Z plus the cumulative extruder
// position E. It is an array so assignment always copies.
type Position [numAxes]float64

func (p Position) X() float64 { return p[AxisX] }
func (p Position) Y() float64 { return p[AxisY] }
func (p Position) Z() float64 { return p[AxisZ] }
func (p Position) E() float64 { return p[AxisE] }

// Point returns the spatial part of the position.
func (p Position) Point() model.Point {
	return model.Point{p[AxisX], p[AxisY], p[AxisZ]}
}

// Partial is a coordinate update where only some axes are specified.
type Partial struct {
	values Position
	set    [numAxes]bool
}

// Get returns the value of axis a and whether it was specified.
func (p Partial) Get(a Axis) (float64, bool) {
	return p.values[a], p.set[a]
}

// Has reports whether axis a was specified.
func (p Partial) Has(a Axis) bool {
	return p.set[a]
}

// Set records a value for axis a.
func (p *Partial) Set(a Axis, v float64) {
	p.values[a] = v
	p.set[a] = true
}

// Len returns the number of specified axes.
func (p Partial) Len() int {
	n := 0
	for _, ok := range p.set {
		if ok {
			n++
		}
	}
	return n
}

// Merge fills every unspecified axis from previous.
func (p Partial) Merge(previous Position) Position {
	out := previous
	for a := Axis(0); a < numAxes; a++ {
		if p.set[a] {
			out[a] = p.values[a]
		}
	}
	return out
}

// ParsePartial reads X/Y/Z/E parameter tokens. Tokens for other letters are
// ignored. A token whose value is not a finite number is dropped and
// returned as a recovered problem; the remaining axes still apply.
// A later token for the same axis overrides an earlier one.
func ParsePartial(params []string) (Partial, []*errors.HostError) {
	var (
		p        Partial
		problems []*errors.HostError
	)
	for _, tok := range params {
		if tok == "" {
			continue
		}
		axis, ok := axisFromLetter(tok[0])
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(tok[1:], 64)
		if err != nil {
			problems = append(problems, errors.GCodeInvalidParameterError(tok, "not a number").
				SetContext("axis", axis.String()))
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			problems = append(problems, errors.GCodeInvalidParameterError(tok, "not finite").
				SetContext("axis", axis.String()))
			continue
		}
		p.Set(axis, v)
	}
	return p, problems
}

// ResolveFull parses params and fills unspecified axes from previous, so
// that an omitted axis keeps its last value.
func ResolveFull(params []string, previous Position) (Position, []*errors.HostError) {
	p, problems := ParsePartial(params)
	return p.Merge(previous), problems
}
