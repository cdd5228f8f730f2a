package gcode

import (
	"slices"
	"sort"

	"gcode-import/pkg/model"
)

// Default open interval of Z steps counted towards the layer height. It
// excludes the first drop from a raised nozzle and multi-layer jumps.
const (
	DefaultThicknessMin = 0.0
	DefaultThicknessMax = 1.0
)

// Bucket is one histogram entry.
type Bucket struct {
	Delta float64 `json:"delta"`
	Count int     `json:"count"`
}

// ThicknessHistogram counts inter-layer Z steps that fall strictly inside
// (min, max). Steps are keyed by their exact float64 value.
type ThicknessHistogram struct {
	min, max float64
	counts   map[float64]int
}

// NewThicknessHistogram creates a histogram for steps in the open
// interval (min, max).
func NewThicknessHistogram(min, max float64) *ThicknessHistogram {
	return &ThicknessHistogram{
		min:    min,
		max:    max,
		counts: make(map[float64]int),
	}
}

// Record counts delta if it lies in the interval and reports whether it did.
func (h *ThicknessHistogram) Record(delta float64) bool {
	if !(delta > h.min && delta < h.max) {
		return false
	}
	h.counts[delta]++
	return true
}

// Count returns how often delta was recorded.
func (h *ThicknessHistogram) Count(delta float64) int {
	return h.counts[delta]
}

// Len returns the number of distinct recorded steps.
func (h *ThicknessHistogram) Len() int {
	return len(h.counts)
}

// Buckets returns the entries sorted by ascending delta.
func (h *ThicknessHistogram) Buckets() []Bucket {
	out := make([]Bucket, 0, len(h.counts))
	for d, c := range h.counts {
		out = append(out, Bucket{Delta: d, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Delta < out[j].Delta })
	return out
}

// Mode returns the most frequent step. Ties go to the smallest step. ok is
// false when nothing was recorded.
func (h *ThicknessHistogram) Mode() (delta float64, ok bool) {
	best := 0
	for _, b := range h.Buckets() {
		if b.Count > best {
			best = b.Count
			delta = b.Delta
			ok = true
		}
	}
	return delta, ok
}

// Accumulator collects points into polylines, polylines into layers and
// layers into the finished document.
type Accumulator struct {
	points model.Polyline
	polys  model.Layer
	layers []model.Layer
	hist   *ThicknessHistogram
}

// NewAccumulator creates an accumulator recording layer steps into hist.
// A nil hist uses the default (0, 1) interval.
func NewAccumulator(hist *ThicknessHistogram) *Accumulator {
	if hist == nil {
		hist = NewThicknessHistogram(DefaultThicknessMin, DefaultThicknessMax)
	}
	return &Accumulator{hist: hist}
}

// AppendPoint adds p to the open polyline, starting one if needed.
func (a *Accumulator) AppendPoint(p model.Point) {
	a.points = append(a.points, p)
}

// OpenPoints returns the number of points in the open polyline.
func (a *Accumulator) OpenPoints() int {
	return len(a.points)
}

// OpenPolylines returns the number of closed polylines in the open layer.
func (a *Accumulator) OpenPolylines() int {
	return len(a.polys)
}

// ClosePolyline moves the open polyline into the current layer. It does
// nothing when no points are buffered.
func (a *Accumulator) ClosePolyline() {
	if len(a.points) == 0 {
		return
	}
	a.polys = append(a.polys, slices.Clone(a.points))
	a.points = a.points[:0]
}

// CloseLayer closes the open polyline and moves a non-empty layer into the
// document. delta is recorded in the thickness histogram only when a layer
// was stored, so Z moves without extrusion never count.
func (a *Accumulator) CloseLayer(delta float64) {
	a.ClosePolyline()
	if len(a.polys) == 0 {
		return
	}
	a.layers = append(a.layers, slices.Clone(a.polys))
	a.polys = a.polys[:0]
	a.hist.Record(delta)
}

// EstimateNominalThickness returns the most frequent recorded Z step.
func (a *Accumulator) EstimateNominalThickness() (float64, bool) {
	return a.hist.Mode()
}

// Histogram returns the histogram the accumulator records into.
func (a *Accumulator) Histogram() *ThicknessHistogram {
	return a.hist
}

// Layers returns a copy of the completed layers. Open geometry is not
// included until it is closed.
func (a *Accumulator) Layers() []model.Layer {
	out := make([]model.Layer, len(a.layers))
	for i, l := range a.layers {
		out[i] = l.Clone()
	}
	return out
}

// Document returns a copy of the completed geometry as a document.
func (a *Accumulator) Document(name string) model.Document {
	d := model.Document{
		Name:   name,
		Layers: a.Layers(),
	}
	d.NominalThickness, d.HasThickness = a.EstimateNominalThickness()
	return d
}
