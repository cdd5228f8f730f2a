package gcode

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"gcode-import/pkg/model"
)

func run(moves ...Position) []model.Layer {
	m := NewMachine(NewAccumulator(nil))
	for _, p := range moves {
		m.MoveTo(p)
	}
	m.Flush()
	return m.Accumulator().Layers()
}

func TestMachineExtrudingMovesJoin(t *testing.T) {
	got := run(
		Position{0, 0, 0.2, 1},
		Position{1, 0, 0.2, 2},
		Position{1, 1, 0.2, 3},
	)
	want := []model.Layer{{{{0, 0, 0.2}, {1, 0, 0.2}, {1, 1, 0.2}}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("layers mismatch (-want +got):\n%s", diff)
	}
}

func TestMachineRetractBreaksPath(t *testing.T) {
	got := run(
		Position{0, 0, 0.2, 1},
		Position{1, 0, 0.2, 2},
		Position{5, 5, 0.2, 1.5}, // retract
		Position{6, 5, 0.2, 2.5},
	)
	want := []model.Layer{{
		{{0, 0, 0.2}, {1, 0, 0.2}},
		{{6, 5, 0.2}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("layers mismatch (-want +got):\n%s", diff)
	}
}

func TestMachineEqualExtrusionBreaksAndEmits(t *testing.T) {
	got := run(
		Position{0, 0, 0.2, 1},
		Position{1, 0, 0.2, 2},
		Position{2, 0, 0.2, 2},
	)
	want := []model.Layer{{
		{{0, 0, 0.2}, {1, 0, 0.2}},
		{{2, 0, 0.2}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("layers mismatch (-want +got):\n%s", diff)
	}
}

func TestMachineNonPositiveExtrusionNeverEmits(t *testing.T) {
	got := run(
		Position{0, 0, 0.2, 0},
		Position{1, 0, 0.2, -1},
		Position{2, 0, 0.2, 0},
	)
	if len(got) != 0 {
		t.Errorf("expected no geometry, got %v", got)
	}
}

func TestMachineZChangeClosesLayer(t *testing.T) {
	m := NewMachine(NewAccumulator(nil))
	m.MoveTo(Position{0, 0, 0.2, 1})
	m.MoveTo(Position{1, 0, 0.2, 2})
	m.MoveTo(Position{1, 0, 0.4, 3})

	if got := len(m.Accumulator().Layers()); got != 1 {
		t.Fatalf("expected 1 closed layer, got %d", got)
	}
	if m.Accumulator().OpenPoints() != 1 {
		t.Errorf("expected the new point to open a polyline, got %d points", m.Accumulator().OpenPoints())
	}
	if m.Accumulator().Histogram().Len() != 1 {
		t.Errorf("expected one recorded step, got %d", m.Accumulator().Histogram().Len())
	}
}

func TestMachineFlushIsNotCounted(t *testing.T) {
	m := NewMachine(NewAccumulator(nil))
	m.MoveTo(Position{0, 0, 0, 1})
	m.Flush()

	if m.Accumulator().Histogram().Len() != 0 {
		t.Error("flush step must not be recorded")
	}
	if len(m.Accumulator().Layers()) != 1 {
		t.Error("flush must close the trailing layer")
	}
}

func TestMachineSetPositionDoesNotMove(t *testing.T) {
	m := NewMachine(NewAccumulator(nil))
	m.MoveTo(Position{0, 0, 0.2, 1})
	m.SetPosition(Position{0, 0, 5, 1})

	if m.Position().Z() != 5 {
		t.Errorf("expected Z=5, got %v", m.Position().Z())
	}
	if m.Accumulator().Histogram().Len() != 0 || len(m.Accumulator().Layers()) != 0 {
		t.Error("set position must not close layers or record steps")
	}
}
