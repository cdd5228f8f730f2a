// gcode-import reconstructs the printed geometry of FDM G-code files:
// layers of extrusion polylines plus the nominal layer thickness.
//
// Usage:
//
//	gcode-import [options] file.gcode [file.gcode ...]
//	gcode-import -serve [options]
//
// Options:
//
//	-config string    Configuration file (INI, optional)
//	-json             Print results as JSON instead of a summary
//	-layers           Include per-layer statistics in the summary
//	-name string      Object name (default: file name without .gcode)
//	-save             Store imported models in the database
//	-db string        Model database path (default "models.db")
//	-serve            Run the JSON-RPC server after importing
//	-addr string      Server listen address (default ":7126")
//	-gcode-dir string Directory the server imports paths from
//	-log-level string Log level: debug, info, warn, error
//	-logfile string   Log file path (default: stderr)
//
// Examples:
//
//	# Summarize a file
//	gcode-import part.gcode
//
//	# Import two files, store them and serve them
//	gcode-import -save -serve -gcode-dir ~/gcodes a.gcode b.gcode
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"gcode-import/pkg/config"
	"gcode-import/pkg/errors"
	"gcode-import/pkg/gcode"
	"gcode-import/pkg/log"
	"gcode-import/pkg/model"
	"gcode-import/pkg/server"
	"gcode-import/pkg/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configFile string
	jsonOut    bool
	layers     bool
	name       string
	save       bool
	dbPath     string
	serve      bool
	addr       string
	gcodeDir   string
	logLevel   string
	logFile    string
	files      []string
	set        map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("gcode-import", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{set: make(map[string]bool)}
	fs.StringVar(&o.configFile, "config", "", "Configuration file (INI, optional)")
	fs.BoolVar(&o.jsonOut, "json", false, "Print results as JSON instead of a summary")
	fs.BoolVar(&o.layers, "layers", false, "Include per-layer statistics in the summary")
	fs.StringVar(&o.name, "name", "", "Object name (default: file name without .gcode)")
	fs.BoolVar(&o.save, "save", false, "Store imported models in the database")
	fs.StringVar(&o.dbPath, "db", config.DefaultStorePath, "Model database path")
	fs.BoolVar(&o.serve, "serve", false, "Run the JSON-RPC server after importing")
	fs.StringVar(&o.addr, "addr", config.DefaultServerAddr, "Server listen address")
	fs.StringVar(&o.gcodeDir, "gcode-dir", "", "Directory the server imports paths from")
	fs.StringVar(&o.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&o.logFile, "logfile", "", "Log file path (default: stderr)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	o.files = fs.Args()

	if len(o.files) == 0 && !o.serve {
		fmt.Fprintln(stderr, "Error: no input files")
		fs.Usage()
		return nil, flag.ErrHelp
	}
	if o.name != "" && len(o.files) > 1 {
		return nil, fmt.Errorf("-name needs exactly one input file")
	}
	return o, nil
}

// settings merges the configuration file with explicitly set flags.
func (o *options) settings() (*config.ImportConfig, error) {
	ic, err := config.LoadImportConfig(o.configFile)
	if err != nil {
		return nil, err
	}
	if o.set["db"] {
		ic.StorePath = o.dbPath
	}
	if o.set["addr"] {
		ic.ServerAddr = o.addr
	}
	if o.set["logfile"] {
		ic.LogFile = o.logFile
	}
	if o.set["log-level"] {
		ic.LogLevel = log.ParseLevel(o.logLevel)
	}
	return ic, nil
}

// setupLogging installs the default logger. The environment overrides the
// configuration file; an explicit -log-level overrides both.
func setupLogging(ic *config.ImportConfig, levelFlag bool, stderr io.Writer) (io.Closer, error) {
	var (
		logger *log.Logger
		closer io.Closer
	)
	if ic.LogFile != "" {
		l, w, err := log.NewFileLogger("gcode-import", log.RotationConfig{Filename: ic.LogFile}, false)
		if err != nil {
			return nil, err
		}
		logger, closer = l, w
	} else {
		logger = log.New("gcode-import")
		logger.SetWriter(stderr)
	}
	ic.ConfigureLogger(logger)
	log.ConfigureFromEnv(logger)
	if levelFlag {
		logger.SetLevel(ic.LogLevel)
	}
	log.SetDefaultLogger(logger)
	return closer, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err == flag.ErrHelp {
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ic, err := opts.settings()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return 1
	}
	closer, err := setupLogging(ic, opts.set["log-level"], stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening log file: %v\n", err)
		return 1
	}
	if closer != nil {
		defer closer.Close()
	}
	logger := log.GetLogger("main")

	importOpts := ic.Options()
	importOpts.Name = opts.name
	results, failed := importAll(ctx, gcode.NewImporter(importOpts), opts.files)

	var st *store.Store
	if opts.save || opts.serve {
		st, err = store.Open(ic.StorePath)
		if err != nil {
			logger.WithError(err).Error("open store failed")
			return 1
		}
		defer st.Close()
	}

	for _, r := range results {
		if r.err != nil {
			continue
		}
		if opts.save {
			sum, err := st.Save(ctx, &r.res.Document, r.path)
			if err != nil {
				logger.WithError(err).Error("save failed")
				return 1
			}
			r.id = sum.ID
		}
	}

	if opts.jsonOut {
		err = writeJSON(stdout, results)
	} else {
		err = writeSummary(stdout, results, opts.layers)
	}
	if err != nil {
		logger.WithError(err).Error("write output failed")
		return 1
	}

	if opts.serve {
		if err := serve(ctx, ic, st, opts.gcodeDir, logger); err != nil {
			logger.WithError(err).Error("server failed")
			return 1
		}
	}
	if failed {
		return 1
	}
	return 0
}

type fileResult struct {
	path string
	res  *gcode.Result
	id   string
	err  error
}

// importAll imports files concurrently, one parser per file. Results keep
// the order of paths.
func importAll(ctx context.Context, im *gcode.Importer, paths []string) ([]*fileResult, bool) {
	results := make([]*fileResult, len(paths))
	var wg sync.WaitGroup
	for i, p := range paths {
		results[i] = &fileResult{path: p}
		wg.Add(1)
		go func(r *fileResult) {
			defer wg.Done()
			r.res, r.err = im.ImportFile(ctx, r.path)
		}(results[i])
	}
	wg.Wait()

	failed := false
	for _, r := range results {
		if r.err != nil {
			failed = true
			log.GetLogger("main").WithField("file", r.path).WithError(r.err).Error("import failed")
		}
	}
	return results, failed
}

type jsonResult struct {
	File     string        `json:"file"`
	ID       string        `json:"id,omitempty"`
	Error    string        `json:"error,omitempty"`
	Result   *gcode.Result `json:"result,omitempty"`
	Stats    *model.Stats  `json:"stats,omitempty"`
	Problems []string      `json:"problems,omitempty"`
}

func writeJSON(w io.Writer, results []*fileResult) error {
	out := make([]jsonResult, 0, len(results))
	for _, r := range results {
		jr := jsonResult{File: r.path, ID: r.id}
		if r.err != nil {
			jr.Error = r.err.Error()
		} else {
			stats := r.res.Document.Stats()
			jr.Result, jr.Stats = r.res, &stats
			for _, d := range r.res.Diagnostics {
				jr.Problems = append(jr.Problems, d.Error())
			}
		}
		out = append(out, jr)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeSummary(w io.Writer, results []*fileResult, perLayer bool) error {
	var sb strings.Builder
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(&sb, "%s: %v\n", r.path, r.err)
			continue
		}
		doc := &r.res.Document
		stats := doc.Stats()

		thickness := "undetermined"
		if doc.HasThickness {
			thickness = fmt.Sprintf("%.3f mm", doc.NominalThickness)
		}
		fmt.Fprintf(&sb, "%s: %d layers, %d polylines, %d points, layer thickness %s\n",
			doc.Name, stats.Layers, stats.Polylines, stats.Points, thickness)
		fmt.Fprintf(&sb, "  path length %.2f mm, height %.2f mm\n", stats.PathLength, stats.Height)
		if stats.Points > 0 {
			size := stats.Bounds.Size()
			fmt.Fprintf(&sb, "  bounds %.2f x %.2f x %.2f mm\n", size.X(), size.Y(), size.Z())
		}
		fmt.Fprintf(&sb, "  %d lines, %d commands, %d moves\n",
			r.res.Stats.Lines, r.res.Stats.Commands, r.res.Stats.Moves)
		if n := r.res.Stats.UnknownTotal(); n > 0 {
			fmt.Fprintf(&sb, "  %d unknown commands: %s\n", n, formatUnknown(r.res.Stats.Unknown))
		}
		if r.res.Stats.DroppedParams > 0 {
			fmt.Fprintf(&sb, "  %d malformed parameters dropped\n", r.res.Stats.DroppedParams)
		}
		if r.id != "" {
			fmt.Fprintf(&sb, "  saved as %s\n", r.id)
		}
		if perLayer {
			for _, ls := range stats.PerLayer {
				fmt.Fprintf(&sb, "  %-24s z=%-8.3f polylines=%-5d points=%-6d length=%.2f\n",
					ls.Name, ls.Z, ls.Polylines, ls.Points, ls.PathLength)
			}
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func formatUnknown(unknown map[string]int) string {
	names := make([]string, 0, len(unknown))
	for k := range unknown {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s x%d", k, unknown[k])
	}
	return strings.Join(parts, ", ")
}

func serve(ctx context.Context, ic *config.ImportConfig, st *store.Store, gcodeDir string, logger *log.Logger) error {
	srv := server.New(server.Config{
		Addr:     ic.ServerAddr,
		Store:    st,
		Options:  ic.Options(),
		GCodeDir: gcodeDir,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return errors.Wrap(err, errors.ErrRuntime, "server shutdown")
	}
	return <-errCh
}
