package model

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LayerStats summarizes one layer.
type LayerStats struct {
	Index      int     `json:"index"`
	Name       string  `json:"name"`
	Z          float64 `json:"z"`
	Polylines  int     `json:"polylines"`
	Points     int     `json:"points"`
	PathLength float64 `json:"path_length"`
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min Point `json:"min"`
	Max Point `json:"max"`
}

// Size returns the extent of the box along each axis.
func (b Bounds) Size() mgl64.Vec3 {
	return b.Max.Sub(b.Min)
}

// Stats summarizes a whole document.
type Stats struct {
	Layers           int          `json:"layers"`
	Polylines        int          `json:"polylines"`
	Points           int          `json:"points"`
	PathLength       float64      `json:"path_length"`
	MeanLayerLength  float64      `json:"mean_layer_length"`
	Height           float64      `json:"height"`
	Bounds           Bounds       `json:"bounds"`
	NominalThickness float64      `json:"nominal_thickness"`
	PerLayer         []LayerStats `json:"per_layer,omitempty"`
}

// Stats computes summary statistics. Empty documents yield zero values.
func (d *Document) Stats() Stats {
	s := Stats{
		Layers:           len(d.Layers),
		NominalThickness: d.NominalThickness,
		PerLayer:         make([]LayerStats, 0, len(d.Layers)),
	}
	if len(d.Layers) == 0 {
		return s
	}

	lengths := make([]float64, len(d.Layers))
	zs := make([]float64, len(d.Layers))
	for i, l := range d.Layers {
		ls := LayerStats{
			Index:     i,
			Name:      d.LayerName(i),
			Z:         l.Z(),
			Polylines: len(l),
			Points:    l.PointCount(),
		}
		for _, p := range l {
			ls.PathLength += p.Length()
		}
		lengths[i] = ls.PathLength
		zs[i] = ls.Z
		s.Polylines += ls.Polylines
		s.Points += ls.Points
		s.PerLayer = append(s.PerLayer, ls)
	}

	s.PathLength = floats.Sum(lengths)
	s.MeanLayerLength = stat.Mean(lengths, nil)
	s.Height = floats.Max(zs) - math.Min(0, floats.Min(zs))
	s.Bounds = d.Bounds()
	return s
}

// Bounds returns the bounding box of all points in the document.
func (d *Document) Bounds() Bounds {
	b := Bounds{
		Min: Point{math.Inf(1), math.Inf(1), math.Inf(1)},
		Max: Point{math.Inf(-1), math.Inf(-1), math.Inf(-1)},
	}
	seen := false
	for _, l := range d.Layers {
		for _, p := range l {
			for _, pt := range p {
				seen = true
				for k := 0; k < 3; k++ {
					b.Min[k] = math.Min(b.Min[k], pt[k])
					b.Max[k] = math.Max(b.Max[k], pt[k])
				}
			}
		}
	}
	if !seen {
		return Bounds{}
	}
	return b
}
