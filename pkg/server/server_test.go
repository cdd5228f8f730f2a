package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gcode-import/pkg/gcode"
	"gcode-import/pkg/log"
	"gcode-import/pkg/model"
	"gcode-import/pkg/store"
)

const twoLayers = "G1 X0 Y0 Z0.2 E0\nG1 X10 Y0 Z0.2 E5\nG1 X10 Y10 Z0.2 E10\nG1 X0 Y0 Z0.4 E0\nG1 X0 Y0 Z0.4 E5\n"

func quietLogger() *log.Logger {
	l := log.New("server")
	l.SetWriter(io.Discard)
	return l
}

func newTestServer(t *testing.T, gcodeDir string) (*Server, *httptest.Server) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "models.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := New(Config{
		Store:    st,
		Options:  gcode.DefaultOptions(),
		GCodeDir: gcodeDir,
		Logger:   quietLogger(),
	})
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func rpc(t *testing.T, ts *httptest.Server, method string, params any) jsonRPCResponse {
	t.Helper()
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params, "id": 1})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/jsonrpc", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out jsonRPCResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "2.0", out.JSONRPC)
	return out
}

func decodeResult(t *testing.T, resp jsonRPCResponse, dst any) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	data, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, dst))
}

func importInline(t *testing.T, ts *httptest.Server, name string) importResult {
	t.Helper()
	var res importResult
	decodeResult(t, rpc(t, ts, "model.import", map[string]any{"gcode": twoLayers, "name": name}), &res)
	return res
}

func TestServerInfo(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp, err := http.Get(ts.URL + "/server/info")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	var body struct {
		Result map[string]any `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, Version, body.Result["version"])
	assert.Equal(t, float64(2), body.Result["schema_version"])
	assert.Equal(t, false, body.Result["path_imports"])
	assert.Contains(t, body.Result["supported_commands"], "G92")
}

func TestImportInline(t *testing.T) {
	_, ts := newTestServer(t, "")

	res := importInline(t, ts, "")
	require.NotNil(t, res.Model)
	assert.Equal(t, "untitled", res.Model.Name)
	assert.Equal(t, 2, res.Model.Layers)
	assert.Equal(t, 3, res.Model.Points)
	assert.True(t, res.Model.HasThickness)
	assert.Equal(t, 0.2, res.Model.NominalThickness)
	assert.Equal(t, 5, res.Stats.Moves)
	assert.Equal(t, []gcode.Bucket{{Delta: 0.2, Count: 1}}, res.Histogram)
}

func TestImportReportsDiagnostics(t *testing.T) {
	_, ts := newTestServer(t, "")

	var res importResult
	decodeResult(t, rpc(t, ts, "model.import", map[string]any{"gcode": "G1 X1 E1\nG2 X5\n"}), &res)
	require.Len(t, res.Diagnostics, 1)
	assert.Contains(t, res.Diagnostics[0], "G2")
	assert.Equal(t, 1, res.Stats.Unknown["G2"])
}

func TestImportPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "parts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "parts", "bracket.gcode"), []byte(twoLayers), 0644))
	_, ts := newTestServer(t, dir)

	var res importResult
	decodeResult(t, rpc(t, ts, "model.import", map[string]any{"path": "parts/bracket.gcode"}), &res)
	assert.Equal(t, "bracket", res.Model.Name)
	assert.Equal(t, filepath.Join(dir, "parts", "bracket.gcode"), res.Model.Source)

	decodeResult(t, rpc(t, ts, "model.import", map[string]any{"path": "parts/bracket.gcode", "name": "renamed"}), &res)
	assert.Equal(t, "renamed", res.Model.Name)
}

func TestImportPathStaysInDirectory(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "secret.gcode")
	_, ts := newTestServer(t, dir)

	resp := rpc(t, ts, "model.import", map[string]any{"path": "../" + filepath.Base(outside)})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeServerError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "IO_OPEN")
	assert.Contains(t, resp.Error.Message, filepath.Join(dir, "secret.gcode"))
}

func TestImportPathRejectsSymlinkOutside(t *testing.T) {
	outsideDir := t.TempDir()
	secret := filepath.Join(outsideDir, "secret.gcode")
	require.NoError(t, os.WriteFile(secret, []byte(twoLayers), 0644))

	dir := t.TempDir()
	require.NoError(t, os.Symlink(secret, filepath.Join(dir, "link.gcode")))
	require.NoError(t, os.Symlink(outsideDir, filepath.Join(dir, "shared")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "real.gcode"), []byte(twoLayers), 0644))
	require.NoError(t, os.Symlink(filepath.Join(dir, "real.gcode"), filepath.Join(dir, "alias.gcode")))
	_, ts := newTestServer(t, dir)

	for _, p := range []string{"link.gcode", "shared/secret.gcode"} {
		resp := rpc(t, ts, "model.import", map[string]any{"path": p})
		require.NotNil(t, resp.Error, p)
		assert.Equal(t, codeInvalidParams, resp.Error.Code, p)
		assert.Contains(t, resp.Error.Message, "leaves the G-code directory", p)
	}

	var res importResult
	decodeResult(t, rpc(t, ts, "model.import", map[string]any{"path": "alias.gcode"}), &res)
	assert.Equal(t, "alias", res.Model.Name)
}

func TestImportParamErrors(t *testing.T) {
	_, ts := newTestServer(t, "")

	tests := []struct {
		name   string
		params any
	}{
		{"neither", map[string]any{}},
		{"both", map[string]any{"path": "a.gcode", "gcode": "G1"}},
		{"path disabled", map[string]any{"path": "a.gcode"}},
		{"wrong type", map[string]any{"gcode": 42}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := rpc(t, ts, "model.import", tt.params)
			require.NotNil(t, resp.Error)
			assert.Equal(t, codeInvalidParams, resp.Error.Code)
		})
	}
}

func TestModelLifecycle(t *testing.T) {
	_, ts := newTestServer(t, "")
	id := importInline(t, ts, "cube").Model.ID

	var list struct {
		Models []store.Summary `json:"models"`
	}
	decodeResult(t, rpc(t, ts, "model.list", nil), &list)
	require.Len(t, list.Models, 1)
	assert.Equal(t, id, list.Models[0].ID)

	var got struct {
		Document model.Document `json:"document"`
		Stats    model.Stats    `json:"stats"`
	}
	decodeResult(t, rpc(t, ts, "model.get", map[string]any{"id": id}), &got)
	assert.Equal(t, []model.Layer{
		{{{10, 0, 0.2}, {10, 10, 0.2}}},
		{{{0, 0, 0.4}}},
	}, got.Document.Layers)
	assert.Equal(t, 2, got.Stats.Layers)
	assert.InDelta(t, 10.0, got.Stats.PathLength, 1e-9)

	var layer layerResult
	decodeResult(t, rpc(t, ts, "model.layer", map[string]any{"id": id, "index": 0}), &layer)
	assert.Equal(t, "cube_slice_0", layer.Name)
	assert.Equal(t, 0.2, layer.Z)
	assert.Len(t, layer.Segments, 1)

	resp := rpc(t, ts, "model.layer", map[string]any{"id": id, "index": 5})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeNotFound, resp.Error.Code)

	resp = rpc(t, ts, "model.layer", map[string]any{"id": id})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)

	decodeResult(t, rpc(t, ts, "model.delete", map[string]any{"id": id}), &map[string]string{})

	resp = rpc(t, ts, "model.get", map[string]any{"id": id})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeNotFound, resp.Error.Code)
}

func TestRESTModelList(t *testing.T) {
	_, ts := newTestServer(t, "")
	importInline(t, ts, "a")

	resp, err := http.Get(ts.URL + "/server/models")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Result struct {
			Models []store.Summary `json:"models"`
		} `json:"result"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Result.Models, 1)
}

func TestJSONRPCErrors(t *testing.T) {
	_, ts := newTestServer(t, "")

	resp := rpc(t, ts, "printer.emergency_stop", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)

	httpResp, err := http.Post(ts.URL+"/jsonrpc", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	var parsed jsonRPCResponse
	require.NoError(t, json.NewDecoder(httpResp.Body).Decode(&parsed))
	require.NotNil(t, parsed.Error)
	assert.Equal(t, codeParseError, parsed.Error.Code)

	getResp, err := http.Get(ts.URL + "/jsonrpc")
	require.NoError(t, err)
	getResp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, getResp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	s, ts := newTestServer(t, "")
	importInline(t, ts, "a")
	rpc(t, ts, "model.import", map[string]any{"gcode": "G1 X1 E1\nG2 X5\n"})
	rpc(t, ts, "printer.emergency_stop", nil)

	m := s.Metrics()
	assert.Equal(t, float64(2), m.Imports.Get(map[string]string{"source": "inline", "outcome": "ok"}))
	assert.Equal(t, float64(1), m.UnknownCommands.Get(map[string]string{"mnemonic": "G2"}))
	assert.Equal(t, float64(2), m.RPCRequests.Get(map[string]string{"method": "model.import", "outcome": "ok"}))
	assert.Equal(t, float64(1), m.RPCRequests.Get(map[string]string{"method": "unknown", "outcome": "error"}))

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, "# TYPE gcode_imports_total counter")
	assert.Contains(t, text, `gcode_imports_total{outcome="ok",source="inline"} 2`)
	assert.Contains(t, text, "gcode_lines_total 7")
	assert.Contains(t, text, "gcode_import_duration_seconds_count{source=\"inline\"} 2")
}

// panicStore panics on List.
type panicStore struct {
	ModelStore
}

func (panicStore) List(context.Context) ([]*store.Summary, error) {
	panic("list exploded")
}

func TestCallRecoversPanic(t *testing.T) {
	s := New(Config{Store: panicStore{}, Logger: quietLogger()})

	resp := s.call(context.Background(), jsonRPCRequest{Method: "model.list", ID: 7})
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeServerError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "list exploded")
	assert.Equal(t, 7, resp.ID)
}

func dialWS(t *testing.T, s *Server, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/websocket", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return s.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWebSocketRPC(t *testing.T) {
	s, ts := newTestServer(t, "")
	conn := dialWS(t, s, ts)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"jsonrpc": "2.0",
		"method":  "model.import",
		"params":  map[string]any{"gcode": twoLayers, "name": "ws"},
		"id":      3,
	}))

	// The import notification is queued before the response.
	notification := readWS(t, conn)
	assert.Equal(t, "notify_model_imported", notification["method"])

	resp := readWS(t, conn)
	assert.Equal(t, float64(3), resp["id"])
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "expected result, got %v", resp)
	assert.Equal(t, "ws", result["model"].(map[string]any)["name"])
}

func TestWebSocketParseError(t *testing.T) {
	s, ts := newTestServer(t, "")
	conn := dialWS(t, s, ts)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("nope")))
	resp := readWS(t, conn)
	assert.Equal(t, float64(codeParseError), resp["error"].(map[string]any)["code"])
}

func TestHTTPImportNotifiesWebSocket(t *testing.T) {
	s, ts := newTestServer(t, "")
	conn := dialWS(t, s, ts)

	id := importInline(t, ts, "broadcast").Model.ID

	msg := readWS(t, conn)
	assert.Equal(t, "notify_model_imported", msg["method"])
	params := msg["params"].([]any)
	require.Len(t, params, 1)
	assert.Equal(t, id, params[0].(map[string]any)["id"])

	rpc(t, ts, "model.delete", map[string]any{"id": id})
	msg = readWS(t, conn)
	assert.Equal(t, "notify_model_deleted", msg["method"])
}

func TestStopClosesClients(t *testing.T) {
	s, ts := newTestServer(t, "")
	conn := dialWS(t, s, ts)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, 0, s.ClientCount())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
