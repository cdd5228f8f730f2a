package config

import (
	"gcode-import/pkg/errors"
	"gcode-import/pkg/gcode"
	"gcode-import/pkg/log"
)

// Defaults for options not present in the configuration file.
const (
	DefaultStorePath      = "models.db"
	DefaultServerAddr     = ":7126"
	DefaultMaxDiagnostics = 1000
)

// ImportConfig is the typed view of a gcode-import configuration file.
type ImportConfig struct {
	// [import]
	ThicknessMin   float64
	ThicknessMax   float64
	ReportUnknown  bool
	MaxDiagnostics int

	// [store]
	StorePath string

	// [server]
	ServerAddr string

	// [log]
	LogLevel  log.LogLevel
	LogFormat log.OutputFormat
	LogFile   string
}

// DefaultImportConfig returns the configuration used when no file is given.
func DefaultImportConfig() *ImportConfig {
	return &ImportConfig{
		ThicknessMin:   gcode.DefaultThicknessMin,
		ThicknessMax:   gcode.DefaultThicknessMax,
		ReportUnknown:  true,
		MaxDiagnostics: DefaultMaxDiagnostics,
		StorePath:      DefaultStorePath,
		ServerAddr:     DefaultServerAddr,
		LogLevel:       log.INFO,
		LogFormat:      log.FormatText,
	}
}

// LoadImportConfig reads path into an ImportConfig. An empty path yields
// the defaults.
func LoadImportConfig(path string) (*ImportConfig, error) {
	if path == "" {
		return DefaultImportConfig(), nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	ic, err := ReadImportConfig(cfg)
	if err != nil {
		if he, ok := err.(*errors.HostError); ok && he.File == "" {
			he.SetFile(path)
		}
		return nil, err
	}
	return ic, nil
}

// ReadImportConfig extracts the typed options from cfg. Sections that are
// absent keep their defaults; unknown options in known sections are
// rejected.
func ReadImportConfig(cfg *Config) (*ImportConfig, error) {
	ic := DefaultImportConfig()
	var err error

	imp := cfg.GetSectionOptional("import")
	zero := 0.0
	if ic.ThicknessMin, err = imp.GetFloatWithBounds("thickness_min",
		FloatBounds{MinVal: &zero}, ic.ThicknessMin); err != nil {
		return nil, err
	}
	if ic.ThicknessMax, err = imp.GetFloatWithBounds("thickness_max",
		FloatBounds{Above: &ic.ThicknessMin}, ic.ThicknessMax); err != nil {
		return nil, err
	}
	if ic.ReportUnknown, err = imp.GetBool("report_unknown", ic.ReportUnknown); err != nil {
		return nil, err
	}
	minDiag := 0
	if ic.MaxDiagnostics, err = imp.GetIntWithBounds("max_diagnostics", &minDiag, nil, ic.MaxDiagnostics); err != nil {
		return nil, err
	}

	if ic.StorePath, err = cfg.GetSectionOptional("store").Get("path", ic.StorePath); err != nil {
		return nil, err
	}
	if ic.ServerAddr, err = cfg.GetSectionOptional("server").Get("addr", ic.ServerAddr); err != nil {
		return nil, err
	}

	logSec := cfg.GetSectionOptional("log")
	level, err := logSec.GetChoice("level", []string{"debug", "info", "warn", "error"}, "info")
	if err != nil {
		return nil, err
	}
	ic.LogLevel = log.ParseLevel(level)
	format, err := logSec.GetChoice("format", []string{"text", "json"}, "text")
	if err != nil {
		return nil, err
	}
	ic.LogFormat = log.ParseFormat(format)
	if ic.LogFile, err = logSec.Get("file", ""); err != nil {
		return nil, err
	}

	if err := cfg.CheckUnusedOptions(); err != nil {
		return nil, err
	}
	return ic, nil
}

// Options returns the importer options for this configuration.
func (ic *ImportConfig) Options() gcode.Options {
	opts := gcode.DefaultOptions()
	opts.ThicknessMin = ic.ThicknessMin
	opts.ThicknessMax = ic.ThicknessMax
	opts.ReportUnknown = ic.ReportUnknown
	opts.MaxDiagnostics = ic.MaxDiagnostics
	return opts
}

// ConfigureLogger applies the [log] level and format to l.
func (ic *ImportConfig) ConfigureLogger(l *log.Logger) {
	l.SetLevel(ic.LogLevel)
	l.SetFormat(ic.LogFormat)
}
