package metrics

import (
	"net/http"
	"time"

	"gcode-import/pkg/gcode"
)

// ImportMetrics is the metric set of an import server.
type ImportMetrics struct {
	registry *Registry

	Imports         *Counter
	ImportDuration  *Histogram
	Lines           *Counter
	Layers          *Histogram
	UnknownCommands *Counter
	RPCRequests     *Counter
	Clients         *Gauge
}

// NewImportMetrics creates and registers the import metrics in a fresh
// registry.
func NewImportMetrics() *ImportMetrics {
	m := &ImportMetrics{
		registry: NewRegistry(),
		Imports: NewCounter("gcode_imports_total",
			"Imports by source (path or inline) and outcome"),
		ImportDuration: NewHistogram("gcode_import_duration_seconds",
			"Wall time of one import", DefaultBuckets()),
		Lines: NewCounter("gcode_lines_total",
			"G-code lines read by successful imports"),
		Layers: NewHistogram("gcode_import_layers",
			"Layers per imported document", ExponentialBuckets(1, 4, 8)),
		UnknownCommands: NewCounter("gcode_unknown_commands_total",
			"Unknown commands by mnemonic"),
		RPCRequests: NewCounter("rpc_requests_total",
			"JSON-RPC requests by method and outcome"),
		Clients: NewGauge("websocket_clients",
			"Connected websocket clients"),
	}
	m.registry.MustRegister(m.Imports, m.ImportDuration, m.Lines, m.Layers,
		m.UnknownCommands, m.RPCRequests, m.Clients)
	return m
}

// Registry returns the registry holding the metrics.
func (m *ImportMetrics) Registry() *Registry {
	return m.registry
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveImport records one finished import. res is ignored when err is
// set.
func (m *ImportMetrics) ObserveImport(source string, start time.Time, res *gcode.Result, err error) {
	m.Imports.Inc(Labels{"source": source, "outcome": outcome(err)})
	m.ImportDuration.Since(Labels{"source": source}, start)
	if err != nil || res == nil {
		return
	}
	m.Lines.Add(nil, float64(res.Stats.Lines))
	m.Layers.Observe(nil, float64(len(res.Document.Layers)))
	for mnemonic, n := range res.Stats.Unknown {
		m.UnknownCommands.Add(Labels{"mnemonic": mnemonic}, float64(n))
	}
}

// ObserveRPC records one JSON-RPC call.
func (m *ImportMetrics) ObserveRPC(method string, failed bool) {
	result := "ok"
	if failed {
		result = "error"
	}
	m.RPCRequests.Inc(Labels{"method": method, "outcome": result})
}

// Handler serves the registry in the Prometheus text format.
func (m *ImportMetrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		m.registry.WriteTo(w)
	})
}
