package govern

import (
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestDefaultMatrixAuthority(t *testing.T) {
	m := DefaultAuthorityMatrix()
	cases := []struct {
		role Role
		typ  DecisionType
		want bool
	}{
		{RoleSupervisor, DecisionPayment, true},
		{RoleOperator, DecisionPayment, false},
		{RolePlatformAdmin, DecisionPayment, true},
		{RoleSupervisor, DecisionLimitOverride, true},
		{RolePlatformAdmin, DecisionLimitOverride, false},
		{RoleCompliance, DecisionAMLException, true},
		{RoleSupervisor, DecisionAMLException, false},
		{RoleCompliance, DecisionPolicyChange, true},
		{RoleSupervisor, DecisionPolicyChange, false},
		{RolePlatformAdmin, DecisionGroupAddEntity, true},
		{RoleCompliance, DecisionGroupCreate, false},
	}
	for _, c := range cases {
		if got := m.HasAuthority(c.role, c.typ); got != c.want {
			t.Fatalf("HasAuthority(%s, %s) = %v, want %v", c.role, c.typ, got, c.want)
		}
	}
	if !m.RequiresDualControl(DecisionAMLException) || m.RequiresDualControl(DecisionPayment) {
		t.Fatalf("unexpected dual control flags")
	}
}

func TestMatrixFailsClosed(t *testing.T) {
	m := DefaultAuthorityMatrix()
	for _, r := range AllRoles {
		if m.HasAuthority(r, DecisionType("WIRE_RECALL")) {
			t.Fatalf("role %s unexpectedly authorized for unknown type", r)
		}
		if m.HasAuthority(r, DecisionType("")) {
			t.Fatalf("role %s unexpectedly authorized for empty type", r)
		}
	}
	if m.HasAuthority(Role("AUDITOR"), DecisionPayment) {
		t.Fatalf("unknown role unexpectedly authorized")
	}
	var nilMatrix *AuthorityMatrix
	if nilMatrix.HasAuthority(RolePlatformAdmin, DecisionPayment) {
		t.Fatalf("nil matrix must deny")
	}
	if got := m.GetEscalationRoles(DecisionType("WIRE_RECALL")); got == nil || len(got) != 0 {
		t.Fatalf("expected empty escalation roles, got %v", got)
	}
}

func TestEscalationRolesAreCopies(t *testing.T) {
	m := DefaultAuthorityMatrix()
	roles := m.GetEscalationRoles(DecisionLimitOverride)
	if len(roles) != 2 || roles[0] != RoleCompliance || roles[1] != RolePlatformAdmin {
		t.Fatalf("unexpected escalation roles %v", roles)
	}
	roles[0] = RoleOperator
	if m.GetEscalationRoles(DecisionLimitOverride)[0] != RoleCompliance {
		t.Fatalf("matrix mutated through returned slice")
	}
}

func TestNewAuthorityMatrixRejectsIncompleteRules(t *testing.T) {
	_, err := NewAuthorityMatrix(2, []AuthorityRule{{DecisionType: DecisionPayment, AllowedRoles: []Role{RoleSupervisor}}})
	if err == nil || !strings.Contains(err.Error(), "missing rule") {
		t.Fatalf("expected missing rule error, got %v", err)
	}
	rules := DefaultAuthorityMatrix().Rules()
	rules = append(rules, AuthorityRule{DecisionType: DecisionPayment, AllowedRoles: []Role{RoleOperator}})
	if _, err := NewAuthorityMatrix(2, rules); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	rules = DefaultAuthorityMatrix().Rules()
	rules[0].AllowedRoles = nil
	if _, err := NewAuthorityMatrix(2, rules); err == nil {
		t.Fatalf("expected error for rule without roles")
	}
}

func TestRulesRoundTrip(t *testing.T) {
	m := DefaultAuthorityMatrix()
	again, err := NewAuthorityMatrix(m.Version(), m.Rules())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	for _, typ := range AllDecisionTypes {
		for _, r := range AllRoles {
			if m.HasAuthority(r, typ) != again.HasAuthority(r, typ) {
				t.Fatalf("mismatch for %s/%s", r, typ)
			}
		}
	}
}

func TestSwapAuthorityMatrixRequiresNextVersion(t *testing.T) {
	var p atomic.Pointer[AuthorityMatrix]
	p.Store(DefaultAuthorityMatrix())
	same, _ := NewAuthorityMatrix(1, DefaultAuthorityMatrix().Rules())
	if err := swapAuthorityMatrix(&p, same); err == nil {
		t.Fatalf("expected refusal for same version")
	}
	skip, _ := NewAuthorityMatrix(3, DefaultAuthorityMatrix().Rules())
	if err := swapAuthorityMatrix(&p, skip); err == nil {
		t.Fatalf("expected refusal for skipped version")
	}
	next, _ := NewAuthorityMatrix(2, DefaultAuthorityMatrix().Rules())
	if err := swapAuthorityMatrix(&p, next); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if p.Load().Version() != 2 {
		t.Fatalf("expected version 2, got %d", p.Load().Version())
	}
	if err := swapAuthorityMatrix(&p, next); err == nil {
		t.Fatalf("expected refusal when installing v2 twice")
	}
}

func TestConcurrentSwapsInstallOnce(t *testing.T) {
	var p atomic.Pointer[AuthorityMatrix]
	p.Store(DefaultAuthorityMatrix())
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		m, err := NewAuthorityMatrix(2, DefaultAuthorityMatrix().Rules())
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if swapAuthorityMatrix(&p, m) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 || p.Load().Version() != 2 {
		t.Fatalf("expected one install of v2, got %d wins at v%d", wins, p.Load().Version())
	}
}

func TestAuthorityMatrixDigest(t *testing.T) {
	a, _ := NewAuthorityMatrix(2, DefaultAuthorityMatrix().Rules())
	b, _ := NewAuthorityMatrix(2, DefaultAuthorityMatrix().Rules())
	da, err := a.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if db, _ := b.Digest(); db != da || len(da) != 64 {
		t.Fatalf("equal matrices should share a digest: %s vs %s", da, db)
	}
	bumped, _ := NewAuthorityMatrix(3, DefaultAuthorityMatrix().Rules())
	if d, _ := bumped.Digest(); d == da {
		t.Fatalf("digest must cover the version")
	}
	rules := DefaultAuthorityMatrix().Rules()
	rules[0].DualControl = !rules[0].DualControl
	changed, _ := NewAuthorityMatrix(2, rules)
	if d, _ := changed.Digest(); d == da {
		t.Fatalf("digest must cover the rules")
	}

	d := Decision{ID: "POL-1"}
	if err := ProposeAuthorityMatrix(&d, a); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if d.Type != DecisionPolicyChange || d.Context[AuthorityDigestKey] != da {
		t.Fatalf("proposal not recorded: %s %v", d.Type, d.Context)
	}
}

func TestPackageLevelHelpersUseCurrentMatrix(t *testing.T) {
	if !HasAuthority(RoleCompliance, DecisionAMLException) {
		t.Fatalf("compliance should approve AML exceptions")
	}
	if HasAuthority(RoleOperator, DecisionPayment) {
		t.Fatalf("operator must not approve payments")
	}
	if !RequiresDualControl(DecisionPolicyChange) {
		t.Fatalf("policy change requires dual control")
	}
	if got := GetEscalationRoles(DecisionPayment); len(got) != 1 || got[0] != RoleCompliance {
		t.Fatalf("unexpected escalation roles %v", got)
	}
}
