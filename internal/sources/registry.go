// Package sources holds the registry of content origins the pipeline pulls from.
package sources

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidSource is returned when a source definition cannot be used.
var ErrInvalidSource = errors.New("invalid source")

// Kind selects the fetch strategy for a source.
type Kind string

const (
	KindRSS     Kind = "RSS"
	KindGeneric Kind = "GENERIC"
)

// Source is one configured origin of content.
type Source struct {
	ID            string        `yaml:"id" json:"id"`
	DisplayName   string        `yaml:"name" json:"name"`
	Kind          Kind          `yaml:"kind" json:"kind"`
	Endpoint      string        `yaml:"endpoint" json:"endpoint"`
	Category      string        `yaml:"category" json:"category"`
	Timeout       time.Duration `yaml:"timeout" json:"timeout"`
	MaxConcurrent int           `yaml:"max_concurrent" json:"max_concurrent"`

	// DataType and Extract only apply to GENERIC sources.
	DataType string       `yaml:"data_type,omitempty" json:"data_type,omitempty"`
	Extract  *ExtractRule `yaml:"extract,omitempty" json:"extract,omitempty"`
}

// ExtractRule describes how records are pulled out of a generic page.
//
// Item selects one element per record; when empty the whole document is a
// single record. Fields maps a payload field onto a CSS selector, optionally
// suffixed with "@attr" to read an attribute instead of the text.
type ExtractRule struct {
	Item   string            `yaml:"item" json:"item"`
	Fields map[string]string `yaml:"fields" json:"fields"`
}

// Defaults are applied to sources that leave politeness parameters unset.
type Defaults struct {
	Timeout       time.Duration
	MaxConcurrent int
}

// Registry is an immutable, ordered set of sources.
type Registry struct {
	sources []Source
	byID    map[string]int
}

type fileFormat struct {
	Sources []Source `yaml:"sources"`
}

// New validates the given sources and builds a registry.
func New(list []Source, d Defaults) (*Registry, error) {
	r := &Registry{
		sources: make([]Source, 0, len(list)),
		byID:    make(map[string]int, len(list)),
	}

	for i, src := range list {
		src = applyDefaults(src, d)
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("source #%d: %w", i+1, err)
		}
		if _, dup := r.byID[src.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate id %q", ErrInvalidSource, src.ID)
		}
		r.byID[src.ID] = len(r.sources)
		r.sources = append(r.sources, src)
	}

	return r, nil
}

// Load reads a YAML sources file.
func Load(path string, d Defaults) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var file fileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse sources file %s: %w", path, err)
	}

	return New(file.Sources, d)
}

// All returns a copy of the registered sources in definition order.
func (r *Registry) All() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Get looks up a source by id.
func (r *Registry) Get(id string) (Source, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Source{}, false
	}
	return r.sources[i], true
}

// Len returns the number of sources.
func (r *Registry) Len() int {
	return len(r.sources)
}

// Validate checks a single source definition.
func (s Source) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSource)
	}
	switch s.Kind {
	case KindRSS, KindGeneric:
	default:
		return fmt.Errorf("%w: %s: unknown kind %q", ErrInvalidSource, s.ID, s.Kind)
	}
	if s.Endpoint == "" {
		return fmt.Errorf("%w: %s: endpoint is required", ErrInvalidSource, s.ID)
	}
	u, err := url.Parse(s.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s: endpoint must be an absolute http(s) URL", ErrInvalidSource, s.ID)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("%w: %s: timeout must be positive", ErrInvalidSource, s.ID)
	}
	if s.MaxConcurrent < 1 {
		return fmt.Errorf("%w: %s: max_concurrent must be at least 1", ErrInvalidSource, s.ID)
	}
	if s.Kind == KindGeneric && s.DataType == "" {
		return fmt.Errorf("%w: %s: generic sources need a data_type", ErrInvalidSource, s.ID)
	}
	return nil
}

// Name returns the display name, falling back to the id.
func (s Source) Name() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.ID
}

func applyDefaults(s Source, d Defaults) Source {
	s.ID = strings.TrimSpace(s.ID)
	s.Kind = Kind(strings.ToUpper(strings.TrimSpace(string(s.Kind))))
	if s.Kind == "" {
		s.Kind = KindRSS
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
	if s.MaxConcurrent <= 0 {
		s.MaxConcurrent = d.MaxConcurrent
	}
	if s.Category == "" {
		s.Category = "general"
	}
	return s
}
