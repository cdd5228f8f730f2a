package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDocument() Document {
	return Document{
		Name: "cube",
		Layers: []Layer{
			{
				{{10, 0, 0.2}, {10, 10, 0.2}},
				{{0, 0, 0.2}},
			},
			{
				{{0, 0, 0.4}, {3, 4, 0.4}, {3, 4, 0.4}},
			},
		},
		NominalThickness: 0.2,
		HasThickness:     true,
	}
}

func TestObjectName(t *testing.T) {
	assert.Equal(t, "cube", ObjectName("/tmp/prints/cube.gcode"))
	assert.Equal(t, "cube.nc", ObjectName("cube.nc"))
	assert.Equal(t, "part", ObjectName("part"))
	assert.Equal(t, "", ObjectName(""))
}

func TestLayerName(t *testing.T) {
	d := sampleDocument()
	assert.Equal(t, "cube_slice_0", d.LayerName(0))
	assert.Equal(t, "cube_slice_12", d.LayerName(12))
}

func TestCounts(t *testing.T) {
	d := sampleDocument()
	assert.Equal(t, 3, d.PolylineCount())
	assert.Equal(t, 6, d.PointCount())
	assert.Equal(t, 3, d.Layers[0].PointCount())
	assert.InDelta(t, 0.2, d.Layers[0].Z(), 1e-12)
	assert.InDelta(t, 0.4, d.Layers[1].Z(), 1e-12)
	assert.Equal(t, 0.0, Layer{}.Z())
}

func TestSegments(t *testing.T) {
	d := sampleDocument()

	segs := d.Layers[0].Segments()
	require.Len(t, segs, 1)
	assert.Equal(t, Segment{{10, 0, 0.2}, {10, 10, 0.2}}, segs[0])

	assert.Len(t, d.Layers[1].Segments(), 2)
	assert.Nil(t, Polyline{{1, 1, 1}}.Segments())
}

func TestPolylineLength(t *testing.T) {
	assert.InDelta(t, 5.0, Polyline{{0, 0, 0}, {3, 4, 0}}.Length(), 1e-12)
	assert.InDelta(t, 10.0, Polyline{{0, 0, 0}, {3, 4, 0}, {0, 0, 0}}.Length(), 1e-12)
	assert.Equal(t, 0.0, Polyline{{1, 2, 3}}.Length())
}

func TestCloneIsIndependent(t *testing.T) {
	d := sampleDocument()
	c := d.Clone()
	c.Layers[0][0][0] = Point{-1, -1, -1}
	c.Layers[1] = append(c.Layers[1], Polyline{{9, 9, 9}})

	assert.Equal(t, Point{10, 0, 0.2}, d.Layers[0][0][0])
	assert.Len(t, d.Layers[1], 1)
}

func TestStats(t *testing.T) {
	d := sampleDocument()
	s := d.Stats()

	assert.Equal(t, 2, s.Layers)
	assert.Equal(t, 3, s.Polylines)
	assert.Equal(t, 6, s.Points)
	assert.InDelta(t, 15.0, s.PathLength, 1e-9)
	assert.InDelta(t, 7.5, s.MeanLayerLength, 1e-9)
	assert.InDelta(t, 0.4, s.Height, 1e-12)
	assert.Equal(t, Point{0, 0, 0.2}, s.Bounds.Min)
	assert.Equal(t, Point{10, 10, 0.4}, s.Bounds.Max)

	require.Len(t, s.PerLayer, 2)
	assert.Equal(t, "cube_slice_1", s.PerLayer[1].Name)
	assert.InDelta(t, 5.0, s.PerLayer[1].PathLength, 1e-9)
}

func TestStatsEmpty(t *testing.T) {
	var d Document
	s := d.Stats()
	assert.Equal(t, 0, s.Layers)
	assert.Equal(t, Bounds{}, s.Bounds)
	assert.Equal(t, 0.0, s.PathLength)

	// Zero bounds must survive JSON encoding.
	_, err := json.Marshal(s)
	assert.NoError(t, err)
}

func TestDocumentJSONShape(t *testing.T) {
	d := Document{
		Name:   "p",
		Layers: []Layer{{{{1, 2, 3}}}},
	}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"name":"p","layers":[[[[1,2,3]]]],"nominal_thickness":0,"has_thickness":false}`,
		string(data))
}
