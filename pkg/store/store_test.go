package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcode-import/pkg/errors"
	"gcode-import/pkg/model"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleDocument() *model.Document {
	return &model.Document{
		Name: "cube",
		Layers: []model.Layer{
			{
				{{10, 0, 0.2}, {10, 10, 0.2}},
				{{0, 5, 0.2}},
			},
			{
				{{0, 0, 0.4}, {1.25, -3.5, 0.4}},
			},
		},
		NominalThickness: 0.2,
		HasThickness:     true,
	}
}

func TestOpenMigratesSchema(t *testing.T) {
	s := setupTestStore(t)

	version, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// Reopening an up-to-date database is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestMigrateDown(t *testing.T) {
	s := setupTestStore(t)

	require.NoError(t, s.MigrateDown())
	version, _, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestSaveAndGet(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	doc := sampleDocument()

	sum, err := s.Save(ctx, doc, "/tmp/cube.gcode")
	require.NoError(t, err)

	_, err = uuid.Parse(sum.ID)
	assert.NoError(t, err, "expected a UUID, got %q", sum.ID)
	assert.Equal(t, "cube", sum.Name)
	assert.Equal(t, "/tmp/cube.gcode", sum.Source)
	assert.Equal(t, 2, sum.Layers)
	assert.Equal(t, 3, sum.Polylines)
	assert.Equal(t, 5, sum.Points)

	got, err := s.Get(ctx, sum.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(doc, got); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveWithoutThickness(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	doc := &model.Document{Name: "flat", Layers: []model.Layer{{{{1, 2, 0}}}}}
	sum, err := s.Save(ctx, doc, "")
	require.NoError(t, err)

	got, err := s.Summary(ctx, sum.ID)
	require.NoError(t, err)
	assert.False(t, got.HasThickness)
	assert.Zero(t, got.NominalThickness)
}

func TestSaveEmptyDocument(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sum, err := s.Save(ctx, &model.Document{Name: "empty", Layers: []model.Layer{}}, "")
	require.NoError(t, err)

	got, err := s.Get(ctx, sum.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Layers)
}

func TestList(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	empty, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	first, err := s.Save(ctx, sampleDocument(), "a.gcode")
	require.NoError(t, err)
	second, err := s.Save(ctx, &model.Document{Name: "second", Layers: []model.Layer{}}, "b.gcode")
	require.NoError(t, err)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
	assert.True(t, list[0].CreatedAt.Equal(base.Add(time.Second)))
	if diff := cmp.Diff(first, list[0]); diff != "" {
		t.Errorf("summary mismatch (-saved +listed):\n%s", diff)
	}
}

func TestLayer(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	doc := sampleDocument()

	sum, err := s.Save(ctx, doc, "")
	require.NoError(t, err)

	layer, err := s.Layer(ctx, sum.ID, 1)
	require.NoError(t, err)
	if diff := cmp.Diff(doc.Layers[1], layer); diff != "" {
		t.Errorf("layer mismatch (-want +got):\n%s", diff)
	}

	for _, idx := range []int{-1, 2} {
		_, err = s.Layer(ctx, sum.ID, idx)
		assert.True(t, errors.IsNotFound(err), "layer %d: expected not found, got %v", idx, err)
	}
}

func TestDelete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	sum, err := s.Save(ctx, sampleDocument(), "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, sum.ID))

	_, err = s.Get(ctx, sum.ID)
	assert.True(t, errors.IsNotFound(err), "expected not found after delete, got %v", err)

	var orphans int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM polylines`).Scan(&orphans))
	assert.Zero(t, orphans)

	err = s.Delete(ctx, sum.ID)
	assert.True(t, errors.IsNotFound(err), "expected not found on second delete, got %v", err)
}

func TestGetUnknownID(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), uuid.New().String())
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestOpenInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	sum, err := s.Save(context.Background(), sampleDocument(), "")
	require.NoError(t, err)
	_, err = s.Get(context.Background(), sum.ID)
	assert.NoError(t, err)
}
