package govern

import (
	"fmt"
	"strings"
)

// ConfigBuilder provides fluent API for building configurations
type ConfigBuilder struct {
	cfg *Config
	err error
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:    1,
			Authority:  []AuthorityRuleConfig{},
			Visibility: make(map[string][]string),
			Store:      StoreConfig{Driver: "memory"},
			Redis:      RedisConfig{Prefix: "govern"},
		},
	}
}

// FromMatrices seeds the builder with every rule and grant of the given matrices.
func (b *ConfigBuilder) FromMatrices(authority *AuthorityMatrix, visibility *VisibilityMatrix) *ConfigBuilder {
	if authority != nil {
		b.cfg.Version = authority.Version()
		for _, r := range authority.Rules() {
			b.AddAuthorityRule(r)
		}
	}
	if visibility != nil {
		for _, role := range AllRoles {
			areas := visibility.VisibleAreas(role)
			if len(areas) == 0 {
				continue
			}
			b.GrantVisibility(role, areas...)
		}
	}
	return b
}

func (b *ConfigBuilder) Version(v int) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

// AddAuthorityRule appends a rule, replacing any earlier rule for the same type.
func (b *ConfigBuilder) AddAuthorityRule(r AuthorityRule) *ConfigBuilder {
	rc := AuthorityRuleConfig{
		DecisionType:    string(r.DecisionType),
		AllowedRoles:    roleNames(r.AllowedRoles),
		DualControl:     r.DualControl,
		EscalationRoles: roleNames(r.EscalationRoles),
	}
	for i, existing := range b.cfg.Authority {
		if existing.DecisionType == rc.DecisionType {
			b.cfg.Authority[i] = rc
			return b
		}
	}
	b.cfg.Authority = append(b.cfg.Authority, rc)
	return b
}

func (b *ConfigBuilder) Allow(t DecisionType, roles ...Role) *ConfigBuilder {
	return b.AddAuthorityRule(AuthorityRule{DecisionType: t, AllowedRoles: roles})
}

// GrantVisibility adds areas to role. Area patterns such as "AUDIT_*" are kept
// verbatim and expanded at load time.
func (b *ConfigBuilder) GrantVisibility(role Role, areas ...Area) *ConfigBuilder {
	for _, a := range areas {
		if !knownArea(a) && !strings.Contains(string(a), "*") {
			b.fail(fmt.Errorf("visibility for %s: unknown area %s", role, a))
			return b
		}
		b.cfg.Visibility[string(role)] = appendUnique(b.cfg.Visibility[string(role)], string(a))
	}
	return b
}

func (b *ConfigBuilder) SQLite(dsn string) *ConfigBuilder {
	b.cfg.Store = StoreConfig{Driver: "sqlite", DSN: dsn}
	return b
}

func (b *ConfigBuilder) Redis(addr, prefix string) *ConfigBuilder {
	b.cfg.Redis.Addr = addr
	if prefix != "" {
		b.cfg.Redis.Prefix = prefix
	}
	return b
}

func (b *ConfigBuilder) EngineSettings(settings EngineConfig) *ConfigBuilder {
	b.cfg.Engine = settings
	return b
}

// Build applies defaults and validates. The first builder error wins.
func (b *ConfigBuilder) Build() (*Config, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.cfg.applyDefaults()
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	return b.cfg, nil
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	cfg, err := b.Build()
	if err != nil {
		return nil, err
	}
	return cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	cfg, err := b.Build()
	if err != nil {
		return nil, err
	}
	return cfg.ToJSON()
}

func (b *ConfigBuilder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func roleNames(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
