// Package store persists imported documents in a SQLite database.
//
// Each document is one row in models plus one row per polyline holding
// its points as a JSON array of [x, y, z] triples. The schema is managed
// by embedded migrations applied when the store is opened.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"gcode-import/pkg/errors"
	"gcode-import/pkg/log"
	"gcode-import/pkg/model"
)

// Summary describes a stored document without its geometry.
type Summary struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Source           string    `json:"source,omitempty"`
	Layers           int       `json:"layers"`
	Polylines        int       `json:"polylines"`
	Points           int       `json:"points"`
	NominalThickness float64   `json:"nominal_thickness"`
	HasThickness     bool      `json:"has_thickness"`
	CreatedAt        time.Time `json:"created_at"`
}

// Store is a document store backed by one SQLite database.
type Store struct {
	db  *sql.DB
	log *log.Logger
	now func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema. ":memory:" gives a private in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.StoreError("open", err)
	}
	// SQLite allows one writer; a single connection also keeps an
	// in-memory database alive for the lifetime of the store.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:  db,
		log: log.GetLogger("store"),
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, errors.StoreError("migrate", err).SetFile(path)
	}
	s.log.WithField("path", path).Debug("store opened")
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores doc under a new ID. source records where the document came
// from, typically the imported file path.
func (s *Store) Save(ctx context.Context, doc *model.Document, source string) (*Summary, error) {
	sum := &Summary{
		ID:               uuid.New().String(),
		Name:             doc.Name,
		Source:           source,
		Layers:           len(doc.Layers),
		Polylines:        doc.PolylineCount(),
		Points:           doc.PointCount(),
		NominalThickness: doc.NominalThickness,
		HasThickness:     doc.HasThickness,
		CreatedAt:        s.now(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.StoreError("save", err)
	}
	defer tx.Rollback()

	var thickness sql.NullFloat64
	if doc.HasThickness {
		thickness = sql.NullFloat64{Float64: doc.NominalThickness, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO models (id, name, source, nominal_thickness, layer_count, polyline_count, point_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, sum.Name, sum.Source, thickness, sum.Layers, sum.Polylines, sum.Points,
		sum.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, errors.StoreError("save", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO polylines (model_id, layer_index, seq, points) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, errors.StoreError("save", err)
	}
	defer stmt.Close()

	for li, layer := range doc.Layers {
		for pi, poly := range layer {
			points, err := json.Marshal(poly)
			if err != nil {
				return nil, errors.StoreError("save", err)
			}
			if _, err := stmt.ExecContext(ctx, sum.ID, li, pi, string(points)); err != nil {
				return nil, errors.StoreError("save", err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.StoreError("save", err)
	}

	s.log.WithFields(log.Fields{"id": sum.ID, "name": sum.Name, "layers": sum.Layers}).Info("model saved")
	return sum, nil
}

// timeLayout has a fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const summaryColumns = `id, name, source, nominal_thickness, layer_count, polyline_count, point_count, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner) (*Summary, error) {
	var (
		sum       Summary
		thickness sql.NullFloat64
		created   string
	)
	if err := row.Scan(&sum.ID, &sum.Name, &sum.Source, &thickness,
		&sum.Layers, &sum.Polylines, &sum.Points, &created); err != nil {
		return nil, err
	}
	sum.NominalThickness, sum.HasThickness = thickness.Float64, thickness.Valid
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return nil, err
	}
	sum.CreatedAt = t
	return &sum, nil
}

// Summary returns the summary of the document with the given ID.
func (s *Store) Summary(ctx context.Context, id string) (*Summary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryColumns+` FROM models WHERE id = ?`, id)
	sum, err := scanSummary(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFoundError(id)
	}
	if err != nil {
		return nil, errors.StoreError("get", err)
	}
	return sum, nil
}

// List returns all stored documents, oldest first.
func (s *Store) List(ctx context.Context) ([]*Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+summaryColumns+` FROM models ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.StoreError("list", err)
	}
	defer rows.Close()

	out := []*Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, errors.StoreError("list", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("list", err)
	}
	return out, nil
}

// Get loads the full document with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*model.Document, error) {
	sum, err := s.Summary(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := &model.Document{
		Name:             sum.Name,
		Layers:           make([]model.Layer, sum.Layers),
		NominalThickness: sum.NominalThickness,
		HasThickness:     sum.HasThickness,
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT layer_index, points FROM polylines WHERE model_id = ? ORDER BY layer_index, seq`, id)
	if err != nil {
		return nil, errors.StoreError("get", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			li   int
			poly model.Polyline
		)
		if err := scanPolyline(rows, &li, &poly); err != nil {
			return nil, errors.StoreError("get", err)
		}
		if li < 0 || li >= len(doc.Layers) {
			return nil, errors.StoreError("get", stderrors.New("polyline references missing layer")).
				SetContext("id", id).SetContext("layer", li)
		}
		doc.Layers[li] = append(doc.Layers[li], poly)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("get", err)
	}
	return doc, nil
}

// Layer loads a single layer of the document with the given ID.
func (s *Store) Layer(ctx context.Context, id string, index int) (model.Layer, error) {
	sum, err := s.Summary(ctx, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= sum.Layers {
		return nil, errors.NotFoundError(id).SetContext("layer", index)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT layer_index, points FROM polylines WHERE model_id = ? AND layer_index = ? ORDER BY seq`, id, index)
	if err != nil {
		return nil, errors.StoreError("layer", err)
	}
	defer rows.Close()

	var layer model.Layer
	for rows.Next() {
		var (
			li   int
			poly model.Polyline
		)
		if err := scanPolyline(rows, &li, &poly); err != nil {
			return nil, errors.StoreError("layer", err)
		}
		layer = append(layer, poly)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError("layer", err)
	}
	return layer, nil
}

func scanPolyline(rows *sql.Rows, layer *int, poly *model.Polyline) error {
	var points string
	if err := rows.Scan(layer, &points); err != nil {
		return err
	}
	return json.Unmarshal([]byte(points), poly)
}

// Delete removes the document with the given ID.
func (s *Store) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreError("delete", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM polylines WHERE model_id = ?`, id); err != nil {
		return errors.StoreError("delete", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return errors.StoreError("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.NotFoundError(id)
	}
	if err := tx.Commit(); err != nil {
		return errors.StoreError("delete", err)
	}
	s.log.WithField("id", id).Info("model deleted")
	return nil
}
