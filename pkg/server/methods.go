package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gcode-import/pkg/errors"
	"gcode-import/pkg/gcode"
	"gcode-import/pkg/log"
	"gcode-import/pkg/model"
	"gcode-import/pkg/store"
)

// decodeParams unmarshals params into dst. Missing params leave dst zero.
func decodeParams(params json.RawMessage, dst any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return invalidParams("invalid params: " + err.Error())
	}
	return nil
}

func (s *Server) methodServerInfo() map[string]any {
	hostname, _ := os.Hostname()
	info := map[string]any{
		"version":            Version,
		"hostname":           hostname,
		"uptime":             time.Since(s.startTime).Seconds(),
		"websocket_count":    s.ClientCount(),
		"supported_commands": gcode.SupportedCommands(),
		"path_imports":       s.gcodeDir != "",
	}
	if v, ok := s.store.(interface {
		SchemaVersion() (uint, bool, error)
	}); ok {
		if version, _, err := v.SchemaVersion(); err == nil {
			info["schema_version"] = version
		}
	}
	return info
}

type importParams struct {
	Path  string `json:"path"`
	GCode string `json:"gcode"`
	Name  string `json:"name"`
}

type importResult struct {
	Model       *store.Summary `json:"model"`
	Stats       gcode.Stats    `json:"stats"`
	Histogram   []gcode.Bucket `json:"histogram"`
	Diagnostics []string       `json:"diagnostics,omitempty"`
}

func (s *Server) methodImport(ctx context.Context, params json.RawMessage) (any, error) {
	var p importParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if (p.Path == "") == (p.GCode == "") {
		return nil, invalidParams("exactly one of 'path' or 'gcode' is required")
	}

	var (
		res    *gcode.Result
		source string
		err    error
		kind   = "inline"
		start  = time.Now()
	)
	if p.Path != "" {
		kind = "path"
		source, err = s.resolvePath(p.Path)
		if err != nil {
			return nil, err
		}
		importer := s.importer
		if p.Name != "" {
			importer = s.namedImporter(p.Name)
		}
		res, err = importer.ImportFile(ctx, source)
	} else {
		name := p.Name
		if name == "" {
			name = "untitled"
		}
		res, err = s.namedImporter(name).ImportString(ctx, p.GCode)
	}
	s.metrics.ObserveImport(kind, start, res, err)
	if err != nil {
		return nil, err
	}

	sum, err := s.store.Save(ctx, &res.Document, source)
	if err != nil {
		return nil, err
	}

	out := importResult{Model: sum, Stats: res.Stats, Histogram: res.Histogram}
	for _, d := range res.Diagnostics {
		out.Diagnostics = append(out.Diagnostics, d.Error())
	}
	s.log.WithFields(log.Fields{"id": sum.ID, "name": sum.Name, "layers": sum.Layers}).Info("model imported")
	s.notify("notify_model_imported", sum)
	return out, nil
}

// namedImporter returns an importer that labels documents with name.
func (s *Server) namedImporter(name string) *gcode.Importer {
	opts := s.importer.Options()
	opts.Name = name
	return gcode.NewImporter(opts)
}

// resolvePath maps a client path into the G-code directory. Neither ".."
// nor a symlink can lead outside the directory. Missing files are left for
// the importer to report.
func (s *Server) resolvePath(p string) (string, error) {
	if s.gcodeDir == "" {
		return "", invalidParams("path imports are disabled")
	}
	rel := filepath.Clean("/" + filepath.FromSlash(p))
	path := filepath.Join(s.gcodeDir, strings.TrimPrefix(rel, string(filepath.Separator)))

	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path, nil
	}
	root, err := filepath.EvalSymlinks(s.gcodeDir)
	if err != nil {
		return "", errors.OpenError(s.gcodeDir, err)
	}
	if r, err := filepath.Rel(root, target); err != nil || r == ".." ||
		strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", invalidParams("path leaves the G-code directory: " + p)
	}
	return path, nil
}

func (s *Server) methodList(ctx context.Context) (any, error) {
	models, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"models": models}, nil
}

type idParams struct {
	ID string `json:"id"`
}

func (p idParams) validate() error {
	if p.ID == "" {
		return invalidParams("missing 'id' parameter")
	}
	return nil
}

type getResult struct {
	Model    *store.Summary  `json:"model"`
	Document *model.Document `json:"document"`
	Stats    model.Stats     `json:"stats"`
}

func (s *Server) methodGet(ctx context.Context, params json.RawMessage) (any, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	sum, err := s.store.Summary(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	doc, err := s.store.Get(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return getResult{Model: sum, Document: doc, Stats: doc.Stats()}, nil
}

type layerParams struct {
	ID    string `json:"id"`
	Index *int   `json:"index"`
}

type layerResult struct {
	ID        string          `json:"id"`
	Index     int             `json:"index"`
	Name      string          `json:"name"`
	Z         float64         `json:"z"`
	Polylines model.Layer     `json:"polylines"`
	Segments  []model.Segment `json:"segments"`
}

func (s *Server) methodLayer(ctx context.Context, params json.RawMessage) (any, error) {
	var p layerParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := (idParams{ID: p.ID}).validate(); err != nil {
		return nil, err
	}
	if p.Index == nil {
		return nil, invalidParams("missing 'index' parameter")
	}

	sum, err := s.store.Summary(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	layer, err := s.store.Layer(ctx, p.ID, *p.Index)
	if err != nil {
		return nil, err
	}
	doc := model.Document{Name: sum.Name}
	return layerResult{
		ID:        p.ID,
		Index:     *p.Index,
		Name:      doc.LayerName(*p.Index),
		Z:         layer.Z(),
		Polylines: layer,
		Segments:  layer.Segments(),
	}, nil
}

func (s *Server) methodDelete(ctx context.Context, params json.RawMessage) (any, error) {
	var p idParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, p.ID); err != nil {
		return nil, err
	}
	s.notify("notify_model_deleted", map[string]string{"id": p.ID})
	return map[string]string{"id": p.ID}, nil
}

// Compile-time check that the sqlite store satisfies ModelStore.
var _ ModelStore = (*store.Store)(nil)
