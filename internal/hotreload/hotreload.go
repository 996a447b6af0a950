// Package hotreload writes the two files a running router watches: its
// YAML config and its supergraph schema.
package hotreload

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EventKind distinguishes the inputs of the writer.
type EventKind string

const (
	// SchemaChanged carries a newly composed supergraph document.
	SchemaChanged EventKind = "schema_changed"
	// ConfigChanged carries a new router config document.
	ConfigChanged EventKind = "config_changed"
)

// Event asks the writer to replace one file.
type Event struct {
	Kind     EventKind
	Document string
}

// File names a hot-reload file.
type File string

const (
	FileConfig File = "config"
	FileSchema File = "schema"
)

// Report is emitted after every handled event.
type Report struct {
	File File
	Path string
	// Err is set when the write was skipped.
	Err error
}

// ConfigError is a router config document that could not be parsed.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid router config for %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Overrides are operator settings forced onto every config document.
type Overrides struct {
	// Listen replaces supergraph.listen when non-empty.
	Listen string
}

// Writer owns the hot-reload files. It is the only writer of both.
type Writer struct {
	configPath string
	schemaPath string
	overrides  Overrides
	observe    func(Report)
	logger     *slog.Logger
}

// NewWriter creates a writer for the given paths.
func NewWriter(configPath, schemaPath string, overrides Overrides, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		configPath: configPath,
		schemaPath: schemaPath,
		overrides:  overrides,
		observe:    func(Report) {},
		logger:     logger.With("component", "hotreload"),
	}
}

// OnReport registers fn to receive a Report per handled event.
func (w *Writer) OnReport(fn func(Report)) {
	if fn != nil {
		w.observe = fn
	}
}

// ConfigPath returns the config file path.
func (w *Writer) ConfigPath() string { return w.configPath }

// SchemaPath returns the schema file path.
func (w *Writer) SchemaPath() string { return w.schemaPath }

// Apply handles one event. A config that fails to parse returns a
// *ConfigError and leaves the file on disk untouched.
func (w *Writer) Apply(ev Event) error {
	switch ev.Kind {
	case SchemaChanged:
		err := writeAtomic(w.schemaPath, []byte(ev.Document))
		w.report(FileSchema, w.schemaPath, err)
		return err
	case ConfigChanged:
		doc, err := ApplyOverrides(ev.Document, w.overrides)
		if err != nil {
			cerr := &ConfigError{Path: w.configPath, Err: err}
			w.report(FileConfig, w.configPath, cerr)
			return cerr
		}
		err = writeAtomic(w.configPath, []byte(doc))
		w.report(FileConfig, w.configPath, err)
		return err
	default:
		return fmt.Errorf("unknown hot reload event %q", ev.Kind)
	}
}

// Run applies events from in until ctx is done or in is closed. Failed
// writes are reported and do not stop the loop.
func (w *Writer) Run(ctx context.Context, in <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := w.Apply(ev); err != nil {
				w.logger.Warn("hot reload write skipped", "kind", string(ev.Kind), "error", err)
			}
		}
	}
}

func (w *Writer) report(file File, path string, err error) {
	if err == nil {
		w.logger.Debug("hot reload file written", "file", string(file), "path", path)
	}
	w.observe(Report{File: file, Path: path, Err: err})
}

// ApplyOverrides parses a router config document and sets the override
// values, preserving everything else.
func ApplyOverrides(doc string, o Overrides) (string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(doc), &root); err != nil {
		return "", err
	}

	var top *yaml.Node
	switch {
	case root.Kind == 0:
		top = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{top}}
	case root.Kind == yaml.DocumentNode && len(root.Content) == 1:
		top = root.Content[0]
		if top.Kind == yaml.ScalarNode && top.Tag == "!!null" {
			*top = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		}
	default:
		return "", fmt.Errorf("router config must be a single YAML document")
	}
	if top.Kind != yaml.MappingNode {
		return "", fmt.Errorf("router config must be a mapping")
	}

	if o.Listen != "" {
		supergraph, err := mappingChild(top, "supergraph")
		if err != nil {
			return "", err
		}
		setScalar(supergraph, "listen", o.Listen)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("encode router config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("encode router config: %w", err)
	}
	return buf.String(), nil
}

// Listen returns supergraph.listen from a router config document.
func Listen(doc string) (string, error) {
	var cfg struct {
		Supergraph struct {
			Listen string `yaml:"listen"`
		} `yaml:"supergraph"`
	}
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return "", err
	}
	return cfg.Supergraph.Listen, nil
}

func mappingChild(m *yaml.Node, key string) (*yaml.Node, error) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			child := m.Content[i+1]
			if child.Kind == yaml.ScalarNode && child.Tag == "!!null" {
				*child = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			}
			if child.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("%s must be a mapping", key)
			}
			return child, nil
		}
	}
	child := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		child,
	)
	return child, nil
}

func setScalar(m *yaml.Node, key, value string) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
			return
		}
	}
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}

// writeAtomic replaces path with data via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
