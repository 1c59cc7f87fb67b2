package permit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ModelConfig is the declarative form of a model, one map per section.
// Keys are definition names ("r", "p", "g", "g2"...), values the raw
// definition text.
type ModelConfig struct {
	RequestDefinition map[string]string `yaml:"request_definition" json:"request_definition"`
	PolicyDefinition  map[string]string `yaml:"policy_definition" json:"policy_definition"`
	RoleDefinition    map[string]string `yaml:"role_definition" json:"role_definition"`
	PolicyEffect      map[string]string `yaml:"policy_effect" json:"policy_effect"`
	Matchers          map[string]string `yaml:"matchers" json:"matchers"`
}

// CacheConfig sizes the decision cache of a cached enforcer.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds" json:"ttl_seconds"`
}

// TTL converts the configured lifetime. Zero keeps entries until
// invalidation.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Config is a full engine configuration: the model, optional seed rows and
// optional cache settings.
type Config struct {
	Model ModelConfig `yaml:"model" json:"model"`

	// Policies and Grouping seed the enforcer at build time. Each row's
	// first element is the definition key ("p", "g", "g2"...).
	Policies [][]string `yaml:"policies" json:"policies"`
	Grouping [][]string `yaml:"grouping" json:"grouping"`

	Cache CacheConfig `yaml:"cache" json:"cache"`
}

// LoadConfig reads a config file, picking the decoder by extension.
// .yaml/.yml and .json are supported.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse json config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config extension %q", filepath.Ext(path))
	}
	return &cfg, nil
}

// BuildModel turns the declarative sections into a live model. Sections
// with empty values are rejected here, before any evaluation can run.
func (c *Config) BuildModel() (*Model, error) {
	m := NewModel()
	add := func(section string, defs map[string]string) error {
		for key, value := range defs {
			if !m.AddDef(section, key, value) {
				return fmt.Errorf("definition %s.%s has an empty value", section, key)
			}
		}
		return nil
	}
	if err := add(sectionRequest, c.Model.RequestDefinition); err != nil {
		return nil, err
	}
	if err := add(sectionPolicy, c.Model.PolicyDefinition); err != nil {
		return nil, err
	}
	if err := add(sectionRole, c.Model.RoleDefinition); err != nil {
		return nil, err
	}
	if err := add(sectionEffect, c.Model.PolicyEffect); err != nil {
		return nil, err
	}
	if err := add(sectionMatcher, c.Model.Matchers); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate builds the model and checks the seed rows against it without
// constructing an enforcer.
func (c *Config) Validate() error {
	m, err := c.BuildModel()
	if err != nil {
		return err
	}
	for _, section := range []string{sectionRequest, sectionPolicy, sectionEffect, sectionMatcher} {
		if _, ok := m.GetAssertion(section, section); !ok {
			return fmt.Errorf("model is missing its %q definition", section)
		}
	}
	for _, row := range c.Policies {
		if len(row) < 2 {
			return fmt.Errorf("policy row %v needs a definition key and at least one field", row)
		}
		if _, ok := m.GetAssertion(sectionPolicy, row[0]); !ok {
			return fmt.Errorf("policy row %v references unknown definition p.%s", row, row[0])
		}
	}
	for _, row := range c.Grouping {
		if len(row) < 3 {
			return fmt.Errorf("grouping row %v needs a definition key and two names", row)
		}
		if _, ok := m.GetAssertion(sectionRole, row[0]); !ok {
			return fmt.Errorf("grouping row %v references unknown definition g.%s", row, row[0])
		}
	}
	return nil
}

// NewEnforcerFromConfig builds a model and enforcer from a config and
// seeds the configured rows.
func NewEnforcerFromConfig(cfg *Config, opts ...EnforcerOption) (*Enforcer, error) {
	m, err := cfg.BuildModel()
	if err != nil {
		return nil, err
	}
	e, err := NewEnforcer(m, opts...)
	if err != nil {
		return nil, err
	}
	if err := cfg.seed(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Config) seed(e *Enforcer) error {
	for _, row := range c.Policies {
		if len(row) < 2 {
			return fmt.Errorf("policy row %v needs a definition key and at least one field", row)
		}
		if _, err := e.AddNamedPolicy(row[0], row[1:]...); err != nil {
			return err
		}
	}
	for _, row := range c.Grouping {
		if len(row) < 3 {
			return fmt.Errorf("grouping row %v needs a definition key and two names", row)
		}
		if _, err := e.AddNamedGroupingPolicy(row[0], row[1:]...); err != nil {
			return err
		}
	}
	return nil
}
