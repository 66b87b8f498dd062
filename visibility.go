package govern

import "fmt"

// Area is a dashboard surface whose visibility depends on platform role.
type Area string

const (
	AreaDashboard            Area = "DASHBOARD"
	AreaDecisionQueue        Area = "DECISION_QUEUE"
	AreaEvidenceVault        Area = "EVIDENCE_VAULT"
	AreaPolicyRegistry       Area = "POLICY_REGISTRY"
	AreaGroupConsolidated    Area = "GROUP_CONSOLIDATED"
	AreaEntityAdmin          Area = "ENTITY_ADMIN"
	AreaPlatformAdminConsole Area = "PLATFORM_ADMIN_CONSOLE"
	AreaAuditExport          Area = "AUDIT_EXPORT"
)

// AllAreas lists every known area.
var AllAreas = []Area{
	AreaDashboard,
	AreaDecisionQueue,
	AreaEvidenceVault,
	AreaPolicyRegistry,
	AreaGroupConsolidated,
	AreaEntityAdmin,
	AreaPlatformAdminConsole,
	AreaAuditExport,
}

// VisibilityMatrix maps area -> role -> visible. It is immutable once built.
type VisibilityMatrix struct {
	grants map[Area]map[Role]bool
}

// NewVisibilityMatrix freezes a grant table. Unknown areas are rejected.
func NewVisibilityMatrix(grants map[Area][]Role) (*VisibilityMatrix, error) {
	m := &VisibilityMatrix{grants: make(map[Area]map[Role]bool, len(grants))}
	for area, roles := range grants {
		if !knownArea(area) {
			return nil, fmt.Errorf("visibility matrix: unknown area %s", area)
		}
		row := make(map[Role]bool, len(roles))
		for _, r := range roles {
			row[r] = true
		}
		m.grants[area] = row
	}
	return m, nil
}

// DefaultVisibilityMatrix returns the built-in grant table.
func DefaultVisibilityMatrix() *VisibilityMatrix {
	all := []Role{RoleOperator, RoleSupervisor, RoleCompliance, RolePlatformAdmin}
	m, err := NewVisibilityMatrix(map[Area][]Role{
		AreaDashboard:            all,
		AreaDecisionQueue:        all,
		AreaEvidenceVault:        {RoleSupervisor, RoleCompliance, RolePlatformAdmin},
		AreaPolicyRegistry:       {RoleCompliance, RolePlatformAdmin},
		AreaGroupConsolidated:    {RoleSupervisor, RoleCompliance, RolePlatformAdmin},
		AreaEntityAdmin:          {RolePlatformAdmin},
		AreaPlatformAdminConsole: {RolePlatformAdmin},
		AreaAuditExport:          {RoleCompliance, RolePlatformAdmin},
	})
	if err != nil {
		panic(err)
	}
	return m
}

// HasVisibility reports whether role may see area. Unknown pairs are denied.
func (m *VisibilityMatrix) HasVisibility(role Role, area Area) bool {
	if m == nil {
		return false
	}
	return m.grants[area][role]
}

// VisibleAreas returns the areas role may see, in AllAreas order.
func (m *VisibilityMatrix) VisibleAreas(role Role) []Area {
	out := []Area{}
	for _, a := range AllAreas {
		if m.HasVisibility(role, a) {
			out = append(out, a)
		}
	}
	return out
}

var defaultVisibility = DefaultVisibilityMatrix()

// HasVisibility checks the built-in visibility matrix.
func HasVisibility(role Role, area Area) bool {
	return defaultVisibility.HasVisibility(role, area)
}

func knownArea(a Area) bool {
	for _, k := range AllAreas {
		if k == a {
			return true
		}
	}
	return false
}
