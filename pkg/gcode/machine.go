package gcode

// finalDelta is the Z step used to flush trailing geometry at end of input.
// It lies outside any thickness interval so it is never counted.
const finalDelta = -1.0

// Machine tracks the last known tool position and turns each resolved move
// into accumulator mutations.
type Machine struct {
	acc *Accumulator
	pos Position
}

// NewMachine creates a machine at the origin feeding acc.
func NewMachine(acc *Accumulator) *Machine {
	return &Machine{acc: acc}
}

// Position returns the last known position.
func (m *Machine) Position() Position {
	return m.pos
}

// Accumulator returns the accumulator the machine feeds.
func (m *Machine) Accumulator() *Accumulator {
	return m.acc
}

// MoveTo applies a move to target. Comparisons use the previous position:
//
//  1. a Z change closes the current layer and records the Z step
//  2. E not increasing, or E <= 0, ends the current polyline
//  3. E > 0 and not decreasing appends (X, Y, Z) to the open polyline
//
// Steps 2 and 3 both fire when E is unchanged and positive, which breaks
// the path without losing the new point.
func (m *Machine) MoveTo(target Position) {
	cur := m.pos
	if target.Z() != cur.Z() {
		m.acc.CloseLayer(target.Z() - cur.Z())
	}
	if target.E() <= cur.E() || target.E() <= 0 {
		m.acc.ClosePolyline()
	}
	if target.E() > 0 && target.E() >= cur.E() {
		m.acc.AppendPoint(target.Point())
	}
	m.pos = target
}

// SetPosition adopts p as the current position without moving.
func (m *Machine) SetPosition(p Position) {
	m.pos = p
}

// BreakPath ends the open polyline without moving.
func (m *Machine) BreakPath() {
	m.acc.ClosePolyline()
}

// Flush closes any open polyline and layer. It is issued once at end of
// input.
func (m *Machine) Flush() {
	m.acc.CloseLayer(finalDelta)
}
