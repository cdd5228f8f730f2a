// Package config reads INI-style configuration files with typed option
// access and tracking of which options were used.
//
// A file is a sequence of [section] headers followed by "key: value" or
// "key = value" lines. '#' and ';' start comments. A "[include pattern]"
// header splices in every file matching the glob, relative to the
// including file.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gcode-import/pkg/errors"
)

// Config holds the parsed sections of one configuration.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string
	accessed map[string]struct{}
}

// New creates an empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
}

// Load reads the configuration file at path, following include directives.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.loadFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration text. Include directives are resolved
// relative to the working directory.
func LoadString(data string) (*Config, error) {
	c := New()
	p := &parser{cfg: c, name: "<string>", dir: ".", visited: make(map[string]bool)}
	if err := p.parse(strings.NewReader(data)); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigSection, "invalid config path").SetFile(path)
	}
	if visited[abs] {
		return errors.New(errors.ErrConfigSection, "recursive include").SetFile(path)
	}
	visited[abs] = true
	defer delete(visited, abs)

	f, err := os.Open(abs)
	if err != nil {
		return errors.OpenError(path, err)
	}
	defer f.Close()

	p := &parser{cfg: c, name: path, dir: filepath.Dir(abs), visited: visited}
	return p.parse(f)
}

// parser holds the state of one file being read.
type parser struct {
	cfg     *Config
	name    string
	dir     string
	visited map[string]bool

	section string
	options map[string]string
}

func (p *parser) flush() {
	if p.section != "" {
		p.cfg.addSection(p.section, p.options)
	}
	p.section, p.options = "", nil
}

func (p *parser) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			p.flush()
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return errors.New(errors.ErrConfigSection, "empty section header").
					SetFile(p.name).SetLine(lineNum)
			}
			if glob, ok := strings.CutPrefix(header, "include "); ok {
				if err := p.include(strings.TrimSpace(glob), lineNum); err != nil {
					return err
				}
				continue
			}
			p.section = header
			p.options = make(map[string]string)
			continue
		}

		// Options before the first section are ignored.
		if p.section == "" {
			continue
		}
		key, value, ok := splitOption(line)
		if !ok {
			return errors.New(errors.ErrConfigOption, fmt.Sprintf("malformed option line %q", line)).
				SetFile(p.name).SetLine(lineNum).SetSection(p.section)
		}
		p.options[key] = value
	}
	p.flush()

	if err := scanner.Err(); err != nil {
		return errors.ReadError(p.name, lineNum+1, err)
	}
	return nil
}

func (p *parser) include(glob string, lineNum int) error {
	if glob == "" {
		return errors.New(errors.ErrConfigSection, "empty include").SetFile(p.name).SetLine(lineNum)
	}
	pattern := filepath.Join(p.dir, glob)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, errors.ErrConfigSection, "invalid include pattern").
			SetFile(p.name).SetLine(lineNum)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return errors.New(errors.ErrConfigSection, fmt.Sprintf("include file does not exist: %s", pattern)).
			SetFile(p.name).SetLine(lineNum)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := p.cfg.loadFile(m, p.visited); err != nil {
			return err
		}
	}
	return nil
}

func stripComment(line string) string {
	if idx := strings.IndexAny(line, "#;"); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// splitOption splits "key: value" or "key = value" at the first separator.
func splitOption(line string) (key, value string, ok bool) {
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

// addSection adds a section, merging options into an existing one.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns the named section.
func (c *Config) GetSection(name string) (*Section, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if !ok {
		return nil, ErrMissingSection(name)
	}
	c.accessed[name] = struct{}{}
	return sec, nil
}

// GetSectionOptional returns the named section, or an empty section when
// it is absent so that getters fall back to their defaults.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.accessed[name] = struct{}{}
	if sec, ok := c.sections[name]; ok {
		return sec
	}
	return newSection(name, nil)
}

// HasSection reports whether a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// GetSectionNames returns the section names in file order.
func (c *Config) GetSectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// GetUnusedSections returns the sorted names of sections never accessed.
func (c *Config) GetUnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []string
	for name := range c.sections {
		if _, ok := c.accessed[name]; !ok {
			result = append(result, name)
		}
	}
	sort.Strings(result)
	return result
}

// CheckUnusedOptions fails if an accessed section holds options that were
// never read, which usually means a misspelt key.
func (c *Config) CheckUnusedOptions() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var problems []string
	for name := range c.accessed {
		sec, ok := c.sections[name]
		if !ok {
			continue
		}
		if unused := sec.GetUnusedOptions(); len(unused) > 0 {
			problems = append(problems, fmt.Sprintf("[%s]: %s", name, strings.Join(unused, ", ")))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New(errors.ErrConfigOption, "unknown options "+strings.Join(problems, "; "))
}
