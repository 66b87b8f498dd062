package govern

import "testing"

func TestDefaultVisibility(t *testing.T) {
	if !HasVisibility(RoleOperator, AreaDecisionQueue) {
		t.Fatalf("operators see the decision queue")
	}
	if HasVisibility(RoleOperator, AreaEvidenceVault) {
		t.Fatalf("operators must not see the evidence vault")
	}
	if HasVisibility(RoleSupervisor, AreaPlatformAdminConsole) {
		t.Fatalf("only platform admins see the admin console")
	}
	if !HasVisibility(RolePlatformAdmin, AreaPlatformAdminConsole) {
		t.Fatalf("platform admin should see the admin console")
	}
	if HasVisibility(RoleCompliance, Area("REPORTS")) {
		t.Fatalf("unknown area must be denied")
	}
	if HasVisibility(Role("GUEST"), AreaDashboard) {
		t.Fatalf("unknown role must be denied")
	}
}

func TestVisibleAreasOrder(t *testing.T) {
	got := DefaultVisibilityMatrix().VisibleAreas(RoleCompliance)
	want := []Area{AreaDashboard, AreaDecisionQueue, AreaEvidenceVault, AreaPolicyRegistry, AreaGroupConsolidated, AreaAuditExport}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestNewVisibilityMatrixRejectsUnknownArea(t *testing.T) {
	if _, err := NewVisibilityMatrix(map[Area][]Role{"REPORTS": {RoleOperator}}); err == nil {
		t.Fatalf("expected error for unknown area")
	}
	var m *VisibilityMatrix
	if m.HasVisibility(RolePlatformAdmin, AreaDashboard) {
		t.Fatalf("nil matrix must deny")
	}
}
