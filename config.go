package govern

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oarkflow/govern/utils"
)

// Config is the deployment configuration: matrices plus collaborator settings.
type Config struct {
	Version    int                   `json:"version" yaml:"version"`
	Authority  []AuthorityRuleConfig `json:"authority" yaml:"authority"`
	Visibility map[string][]string   `json:"visibility" yaml:"visibility"` // role -> area patterns
	Engine     EngineConfig          `json:"engine" yaml:"engine"`
	Store      StoreConfig           `json:"store" yaml:"store"`
	Redis      RedisConfig           `json:"redis" yaml:"redis"`
}

type AuthorityRuleConfig struct {
	DecisionType    string   `json:"decision_type" yaml:"decision_type"`
	AllowedRoles    []string `json:"allowed_roles" yaml:"allowed_roles"`
	DualControl     bool     `json:"dual_control" yaml:"dual_control"`
	EscalationRoles []string `json:"escalation_roles" yaml:"escalation_roles"`
}

type EngineConfig struct {
	EvidenceCacheNumCounters int64 `json:"evidence_cache_num_counters" yaml:"evidence_cache_num_counters"`
	EvidenceCacheMaxCost     int64 `json:"evidence_cache_max_cost" yaml:"evidence_cache_max_cost"`
	EvidenceCacheBuffer      int64 `json:"evidence_cache_buffer" yaml:"evidence_cache_buffer"`
}

type StoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // memory | sqlite
	DSN    string `json:"dsn" yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Prefix   string `json:"prefix" yaml:"prefix"`
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

// LoadFile picks the decoder from the file extension.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	// #nosec G304 -- operator-provided config path.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return l.LoadYAML(data)
	case ".json":
		return l.LoadJSON(data)
	}
	return nil, fmt.Errorf("unsupported config format: %s", path)
}

func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Engine.EvidenceCacheNumCounters == 0 {
		c.Engine.EvidenceCacheNumCounters = 1e5
	}
	if c.Engine.EvidenceCacheMaxCost == 0 {
		c.Engine.EvidenceCacheMaxCost = 1 << 14
	}
	if c.Engine.EvidenceCacheBuffer == 0 {
		c.Engine.EvidenceCacheBuffer = 64
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "govern"
	}
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// AuthorityMatrix builds the authority matrix. An empty authority section means
// the built-in matrix.
func (c *Config) AuthorityMatrix() (*AuthorityMatrix, error) {
	if len(c.Authority) == 0 {
		return DefaultAuthorityMatrix(), nil
	}
	rules := make([]AuthorityRule, 0, len(c.Authority))
	for _, rc := range c.Authority {
		t, err := ParseDecisionType(rc.DecisionType)
		if err != nil {
			return nil, err
		}
		allowed, err := normalizeRoles(rc.AllowedRoles)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", t, err)
		}
		escalation, err := normalizeRoles(rc.EscalationRoles)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", t, err)
		}
		if t.IsGroupGovernance() && (len(allowed) != 1 || allowed[0] != RolePlatformAdmin) {
			return nil, fmt.Errorf("rule %s: platform governance decisions must be restricted to %s", t, RolePlatformAdmin)
		}
		rules = append(rules, AuthorityRule{DecisionType: t, AllowedRoles: allowed, DualControl: rc.DualControl, EscalationRoles: escalation})
	}
	return NewAuthorityMatrix(c.Version, rules)
}

// VisibilityMatrix builds the visibility matrix, expanding area patterns.
func (c *Config) VisibilityMatrix() (*VisibilityMatrix, error) {
	if len(c.Visibility) == 0 {
		return DefaultVisibilityMatrix(), nil
	}
	areaNames := make([]string, len(AllAreas))
	for i, a := range AllAreas {
		areaNames[i] = string(a)
	}
	grants := make(map[Area][]Role)
	for roleName, patterns := range c.Visibility {
		role, err := NormalizeRole(roleName)
		if err != nil {
			return nil, err
		}
		matched := utils.ExpandPatterns(areaNames, patterns)
		if len(matched) == 0 && len(patterns) > 0 {
			return nil, fmt.Errorf("visibility for %s: patterns %v match no area", role, patterns)
		}
		for _, a := range matched {
			grants[Area(a)] = append(grants[Area(a)], role)
		}
	}
	return NewVisibilityMatrix(grants)
}

// Validate builds both matrices and checks store settings.
func (c *Config) Validate() error {
	if _, err := c.AuthorityMatrix(); err != nil {
		return err
	}
	if _, err := c.VisibilityMatrix(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver sqlite")
		}
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	return nil
}

func normalizeRoles(names []string) ([]Role, error) {
	out := make([]Role, 0, len(names))
	for _, n := range names {
		r, err := NormalizeRole(n)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
