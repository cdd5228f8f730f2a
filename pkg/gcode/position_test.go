package gcode

import (
	"testing"

	"gcode-import/pkg/errors"
)

func TestParsePartial(t *testing.T) {
	p, problems := ParsePartial([]string{"X10", "Z-0.5", "F1200", "S200"})
	if len(problems) != 0 {
		t.Fatalf("expected no problems, got %v", problems)
	}
	if p.Len() != 2 {
		t.Errorf("expected 2 axes, got %d", p.Len())
	}
	if v, ok := p.Get(AxisX); !ok || v != 10 {
		t.Errorf("expected X=10, got %v (set=%v)", v, ok)
	}
	if v, ok := p.Get(AxisZ); !ok || v != -0.5 {
		t.Errorf("expected Z=-0.5, got %v (set=%v)", v, ok)
	}
	if p.Has(AxisY) || p.Has(AxisE) {
		t.Error("expected Y and E to be unset")
	}
}

func TestParsePartialMalformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"letters", "Xabc"},
		{"missing value", "Y"},
		{"nan", "ENaN"},
		{"inf", "Z+Inf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, problems := ParsePartial([]string{tt.token, "X3"})
			if len(problems) != 1 {
				t.Fatalf("expected 1 problem, got %d", len(problems))
			}
			if problems[0].Code != errors.ErrGCodeInvalidParam {
				t.Errorf("expected code %s, got %s", errors.ErrGCodeInvalidParam, problems[0].Code)
			}
			if problems[0].Context["token"] != tt.token {
				t.Errorf("expected token context %q, got %v", tt.token, problems[0].Context["token"])
			}
			if v, ok := p.Get(AxisX); !ok || v != 3 {
				t.Errorf("expected remaining axis X=3 to apply, got %v", v)
			}
		})
	}
}

func TestParsePartialLastWins(t *testing.T) {
	p, _ := ParsePartial([]string{"X1", "X2"})
	if v, _ := p.Get(AxisX); v != 2 {
		t.Errorf("expected later X to win, got %v", v)
	}
}

func TestResolveFull(t *testing.T) {
	previous := Position{1, 2, 3, 4}

	got, problems := ResolveFull([]string{"Y20", "E5", "F3000"}, previous)
	if len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
	want := Position{1, 20, 3, 5}
	if got != want {
		t.Errorf("expected %v, got %v", want, got)
	}

	got, _ = ResolveFull([]string{"Xbad"}, previous)
	if got != previous {
		t.Errorf("expected malformed axis to keep previous value, got %v", got)
	}
}

func TestResolveFullDoesNotAlias(t *testing.T) {
	previous := Position{1, 2, 3, 4}
	got, _ := ResolveFull(nil, previous)
	got[AxisX] = 99
	if previous.X() != 1 {
		t.Error("resolved position must not share storage with previous")
	}
}

func TestAxisString(t *testing.T) {
	names := map[Axis]string{AxisX: "X", AxisY: "Y", AxisZ: "Z", AxisE: "E", Axis(7): "?"}
	for axis, want := range names {
		if got := axis.String(); got != want {
			t.Errorf("Axis(%d).String() = %q, expected %q", axis, got, want)
		}
	}
}
