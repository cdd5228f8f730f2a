// Package model holds the geometry reconstructed from a G-code toolpath:
// an ordered sequence of layers, each an ordered sequence of extrusion
// polylines, plus the dominant layer thickness.
package model

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
)

// Point is an (X, Y, Z) nozzle position sampled while extruding.
type Point = mgl64.Vec3

// Polyline is one continuous extrusion run. A Polyline stored in a
// Document always has at least one point.
type Polyline []Point

// Layer is the set of polylines printed at one Z height. A Layer stored in
// a Document always has at least one polyline.
type Layer []Polyline

// Segment is a pair of consecutive points on a polyline.
type Segment [2]Point

// Document is the finished geometric model of one G-code file.
type Document struct {
	// Name identifies the printed object, usually derived from the file name.
	Name string `json:"name,omitempty"`

	// Layers in the order they were encountered.
	Layers []Layer `json:"layers"`

	// NominalThickness is the most frequent small Z step, or 0 when no
	// qualifying step was observed (see HasThickness).
	NominalThickness float64 `json:"nominal_thickness"`
	HasThickness     bool    `json:"has_thickness"`
}

// ObjectName derives an object name from a G-code file path by dropping
// the directory and the .gcode suffix.
func ObjectName(path string) string {
	name := filepath.Base(path)
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(name, ".gcode")
}

// LayerName returns the display name of layer i, e.g. "part_slice_3".
func (d *Document) LayerName(i int) string {
	return fmt.Sprintf("%s_slice_%d", d.Name, i)
}

// PolylineCount returns the total number of polylines across all layers.
func (d *Document) PolylineCount() int {
	n := 0
	for _, l := range d.Layers {
		n += len(l)
	}
	return n
}

// PointCount returns the total number of points across all layers.
func (d *Document) PointCount() int {
	n := 0
	for _, l := range d.Layers {
		n += l.PointCount()
	}
	return n
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() Document {
	out := Document{
		Name:             d.Name,
		NominalThickness: d.NominalThickness,
		HasThickness:     d.HasThickness,
		Layers:           make([]Layer, len(d.Layers)),
	}
	for i, l := range d.Layers {
		out.Layers[i] = l.Clone()
	}
	return out
}

// Z returns the height of the layer, taken from its first point.
func (l Layer) Z() float64 {
	for _, p := range l {
		if len(p) > 0 {
			return p[0].Z()
		}
	}
	return 0
}

// PointCount returns the number of points in the layer.
func (l Layer) PointCount() int {
	n := 0
	for _, p := range l {
		n += len(p)
	}
	return n
}

// Segments expands every polyline of the layer into its consecutive point
// pairs. Single-point polylines contribute no segments.
func (l Layer) Segments() []Segment {
	var out []Segment
	for _, p := range l {
		out = append(out, p.Segments()...)
	}
	return out
}

// Clone returns a deep copy of the layer.
func (l Layer) Clone() Layer {
	out := make(Layer, len(l))
	for i, p := range l {
		out[i] = append(Polyline(nil), p...)
	}
	return out
}

// Segments returns the consecutive point pairs of the polyline.
func (p Polyline) Segments() []Segment {
	if len(p) < 2 {
		return nil
	}
	out := make([]Segment, 0, len(p)-1)
	for i := 1; i < len(p); i++ {
		out = append(out, Segment{p[i-1], p[i]})
	}
	return out
}

// Length returns the path length of the polyline.
func (p Polyline) Length() float64 {
	total := 0.0
	for i := 1; i < len(p); i++ {
		total += p[i].Sub(p[i-1]).Len()
	}
	return total
}
