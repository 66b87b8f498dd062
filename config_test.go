package govern

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
version: 3
authority:
  - decision_type: PAYMENT
    allowed_roles: [supervisor, COMPLIANCE]
    escalation_roles: [COMPLIANCE]
  - decision_type: LIMIT_OVERRIDE
    allowed_roles: [SUPERVISOR]
    dual_control: true
  - decision_type: AML_EXCEPTION
    allowed_roles: [compliance_officer]
    dual_control: true
  - decision_type: POLICY_CHANGE
    allowed_roles: [COMPLIANCE, PLATFORM_ADMIN]
    dual_control: true
  - decision_type: GROUP_CREATE
    allowed_roles: [PLATFORM_ADMIN]
  - decision_type: GROUP_ADD_ENTITY
    allowed_roles: [PLATFORM_ADMIN]
  - decision_type: GROUP_REMOVE_ENTITY
    allowed_roles: [PLATFORM_ADMIN]
  - decision_type: GROUP_ROLE_ASSIGN
    allowed_roles: [admin]
visibility:
  OPERATOR: [DASHBOARD, DECISION_QUEUE]
  SUPERVISOR: [DASHBOARD, DECISION_QUEUE, EVIDENCE_VAULT]
  PLATFORM_ADMIN: ["*"]
store:
  driver: sqlite
  dsn: ${GOVERN_TEST_DSN}
`

func TestLoadYAMLBuildsMatrices(t *testing.T) {
	t.Setenv("GOVERN_TEST_DSN", "file:govern.db")
	cfg, err := NewConfigLoader().LoadYAML([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.DSN != "file:govern.db" {
		t.Fatalf("env not expanded: %q", cfg.Store.DSN)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	m, err := cfg.AuthorityMatrix()
	if err != nil {
		t.Fatalf("authority: %v", err)
	}
	if m.Version() != 3 {
		t.Fatalf("expected version 3, got %d", m.Version())
	}
	if m.HasAuthority(RolePlatformAdmin, DecisionPayment) {
		t.Fatalf("configured matrix should drop admin from payments")
	}
	if !m.HasAuthority(RoleCompliance, DecisionAMLException) {
		t.Fatalf("legacy role name not normalized")
	}
	v, err := cfg.VisibilityMatrix()
	if err != nil {
		t.Fatalf("visibility: %v", err)
	}
	if !v.HasVisibility(RolePlatformAdmin, AreaAuditExport) {
		t.Fatalf("wildcard should grant every area")
	}
	if v.HasVisibility(RoleCompliance, AreaDashboard) {
		t.Fatalf("roles missing from config see nothing")
	}
	if cfg.Engine.EvidenceCacheMaxCost == 0 || cfg.Redis.Prefix != "govern" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestEmptyConfigUsesBuiltins(t *testing.T) {
	cfg, err := NewConfigLoader().LoadJSON([]byte(`{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	m, _ := cfg.AuthorityMatrix()
	if !m.HasAuthority(RolePlatformAdmin, DecisionPayment) {
		t.Fatalf("expected built-in matrix")
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("expected memory driver, got %s", cfg.Store.Driver)
	}
}

func TestConfigRejectsWidenedGovernance(t *testing.T) {
	cfg := &Config{Version: 2}
	for _, r := range DefaultAuthorityMatrix().Rules() {
		rc := AuthorityRuleConfig{DecisionType: string(r.DecisionType)}
		for _, role := range r.AllowedRoles {
			rc.AllowedRoles = append(rc.AllowedRoles, string(role))
		}
		if r.DecisionType == DecisionGroupCreate {
			rc.AllowedRoles = append(rc.AllowedRoles, string(RoleSupervisor))
		}
		cfg.Authority = append(cfg.Authority, rc)
	}
	if _, err := cfg.AuthorityMatrix(); err == nil {
		t.Fatalf("expected error when a group governance type allows a non-admin role")
	}
}

func TestConfigValidateStore(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "sqlite"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("sqlite without dsn should fail")
	}
	cfg.Store.Driver = "oracle"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("unknown driver should fail")
	}
	cfg = &Config{Visibility: map[string][]string{"OPERATOR": {"REPORTS_*"}}}
	if _, err := cfg.VisibilityMatrix(); err == nil {
		t.Fatalf("pattern matching no area should fail")
	}
}

func TestLoadFileByExtension(t *testing.T) {
	dir := t.TempDir()
	cfg, _ := NewConfigLoader().LoadJSON([]byte(`{"version": 5}`))
	data, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	path := filepath.Join(dir, "govern.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	again, err := NewConfigLoader().LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if again.Version != 5 {
		t.Fatalf("expected version 5, got %d", again.Version)
	}
	if _, err := NewConfigLoader().LoadFile(filepath.Join(dir, "govern.toml")); err == nil {
		t.Fatalf("expected error for missing/unsupported file")
	}
}
