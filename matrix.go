package govern

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync/atomic"
)

// AuthorityDigestKey is the decision context key holding the digest of the
// matrix a POLICY_CHANGE decision proposes.
const AuthorityDigestKey = "authority_matrix_digest"

// AuthorityRule describes who may act on one decision type.
type AuthorityRule struct {
	DecisionType    DecisionType
	AllowedRoles    []Role
	DualControl     bool
	EscalationRoles []Role
}

// AuthorityMatrix is an immutable, versioned set of authority rules.
// Build a new matrix and swap it in; never edit one in place.
type AuthorityMatrix struct {
	version int
	rules   map[DecisionType]authorityEntry
}

type authorityEntry struct {
	allowed    map[Role]struct{}
	dual       bool
	escalation []Role
}

// NewAuthorityMatrix validates rules and freezes them into a matrix.
// Every known decision type must be covered exactly once.
func NewAuthorityMatrix(version int, rules []AuthorityRule) (*AuthorityMatrix, error) {
	m := &AuthorityMatrix{version: version, rules: make(map[DecisionType]authorityEntry, len(rules))}
	for _, r := range rules {
		if _, dup := m.rules[r.DecisionType]; dup {
			return nil, fmt.Errorf("authority matrix: duplicate rule for %s", r.DecisionType)
		}
		if len(r.AllowedRoles) == 0 {
			return nil, fmt.Errorf("authority matrix: rule %s has no allowed roles", r.DecisionType)
		}
		entry := authorityEntry{allowed: make(map[Role]struct{}, len(r.AllowedRoles)), dual: r.DualControl}
		for _, role := range r.AllowedRoles {
			entry.allowed[role] = struct{}{}
		}
		entry.escalation = append([]Role(nil), r.EscalationRoles...)
		sortRoles(entry.escalation)
		m.rules[r.DecisionType] = entry
	}
	for _, t := range AllDecisionTypes {
		if _, ok := m.rules[t]; !ok {
			return nil, fmt.Errorf("authority matrix: missing rule for %s", t)
		}
	}
	return m, nil
}

// DefaultAuthorityMatrix returns the built-in rule set.
func DefaultAuthorityMatrix() *AuthorityMatrix {
	rules := []AuthorityRule{
		{DecisionType: DecisionPayment, AllowedRoles: []Role{RoleSupervisor, RoleCompliance, RolePlatformAdmin}, EscalationRoles: []Role{RoleCompliance}},
		{DecisionType: DecisionLimitOverride, AllowedRoles: []Role{RoleSupervisor, RoleCompliance}, DualControl: true, EscalationRoles: []Role{RoleCompliance, RolePlatformAdmin}},
		{DecisionType: DecisionAMLException, AllowedRoles: []Role{RoleCompliance}, DualControl: true, EscalationRoles: []Role{RolePlatformAdmin}},
		{DecisionType: DecisionPolicyChange, AllowedRoles: []Role{RoleCompliance, RolePlatformAdmin}, DualControl: true, EscalationRoles: []Role{RolePlatformAdmin}},
		{DecisionType: DecisionGroupCreate, AllowedRoles: []Role{RolePlatformAdmin}},
		{DecisionType: DecisionGroupAddEntity, AllowedRoles: []Role{RolePlatformAdmin}},
		{DecisionType: DecisionGroupRemoveEntity, AllowedRoles: []Role{RolePlatformAdmin}},
		{DecisionType: DecisionGroupRoleAssign, AllowedRoles: []Role{RolePlatformAdmin}},
	}
	m, err := NewAuthorityMatrix(1, rules)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *AuthorityMatrix) Version() int { return m.version }

// HasAuthority reports whether role may approve or reject decisions of type t.
func (m *AuthorityMatrix) HasAuthority(role Role, t DecisionType) bool {
	if m == nil {
		return false
	}
	entry, ok := m.rules[t]
	if !ok {
		return false
	}
	_, ok = entry.allowed[role]
	return ok
}

func (m *AuthorityMatrix) RequiresDualControl(t DecisionType) bool {
	if m == nil {
		return false
	}
	return m.rules[t].dual
}

// GetEscalationRoles returns a copy of the escalation roles for t, empty when unknown.
func (m *AuthorityMatrix) GetEscalationRoles(t DecisionType) []Role {
	if m == nil {
		return []Role{}
	}
	entry, ok := m.rules[t]
	if !ok {
		return []Role{}
	}
	return append([]Role{}, entry.escalation...)
}

// AllowedRoles returns the sorted roles allowed to act on t.
func (m *AuthorityMatrix) AllowedRoles(t DecisionType) []Role {
	out := []Role{}
	if m == nil {
		return out
	}
	for r := range m.rules[t].allowed {
		out = append(out, r)
	}
	sortRoles(out)
	return out
}

// Rules exports the matrix back into rule form, ordered by AllDecisionTypes.
func (m *AuthorityMatrix) Rules() []AuthorityRule {
	out := make([]AuthorityRule, 0, len(m.rules))
	for _, t := range AllDecisionTypes {
		if _, ok := m.rules[t]; !ok {
			continue
		}
		out = append(out, AuthorityRule{
			DecisionType:    t,
			AllowedRoles:    m.AllowedRoles(t),
			DualControl:     m.RequiresDualControl(t),
			EscalationRoles: m.GetEscalationRoles(t),
		})
	}
	return out
}

// Digest is the hex SHA-256 of the matrix's canonical form, version included.
func (m *AuthorityMatrix) Digest() (string, error) {
	rules := make(map[string]any, len(m.rules))
	for _, r := range m.Rules() {
		rules[string(r.DecisionType)] = map[string]any{
			"allowed_roles":    roleValues(r.AllowedRoles),
			"dual_control":     r.DualControl,
			"escalation_roles": roleValues(r.EscalationRoles),
		}
	}
	data, err := canonicalize(map[string]any{"version": m.version, "rules": rules})
	if err != nil {
		return "", fmt.Errorf("authority matrix digest: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ProposeAuthorityMatrix marks d as a POLICY_CHANGE for next. Call it before
// the decision is created; ApplyPolicyChange only accepts the matrix whose
// digest was recorded here.
func ProposeAuthorityMatrix(d *Decision, next *AuthorityMatrix) error {
	if d == nil || next == nil {
		return &ValidationError{Field: "authority_matrix", Reason: "decision and proposed matrix required"}
	}
	digest, err := next.Digest()
	if err != nil {
		return err
	}
	if d.Context == nil {
		d.Context = map[string]any{}
	}
	d.Type = DecisionPolicyChange
	d.Context[AuthorityDigestKey] = digest
	return nil
}

func roleValues(roles []Role) []any {
	out := make([]any, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func sortRoles(roles []Role) {
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
}

// ============================================================================
// PROCESS-WIDE MATRIX
// ============================================================================

var currentMatrix atomic.Pointer[AuthorityMatrix]

func init() {
	currentMatrix.Store(DefaultAuthorityMatrix())
}

// CurrentAuthorityMatrix returns the matrix in force for this process.
func CurrentAuthorityMatrix() *AuthorityMatrix {
	return currentMatrix.Load()
}

// swapAuthorityMatrix installs next if it is exactly one version ahead. It is
// only reachable through Engine.ApplyPolicyChange so every swap is backed by
// evidence.
func swapAuthorityMatrix(p *atomic.Pointer[AuthorityMatrix], next *AuthorityMatrix) error {
	for {
		cur := p.Load()
		if next.version != cur.version+1 {
			return fmt.Errorf("authority matrix version %d does not follow %d", next.version, cur.version)
		}
		if p.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// HasAuthority checks the process-wide matrix.
func HasAuthority(role Role, t DecisionType) bool {
	return CurrentAuthorityMatrix().HasAuthority(role, t)
}

func RequiresDualControl(t DecisionType) bool {
	return CurrentAuthorityMatrix().RequiresDualControl(t)
}

func GetEscalationRoles(t DecisionType) []Role {
	return CurrentAuthorityMatrix().GetEscalationRoles(t)
}
