package govern

import "strings"

// legacy lowercase role names still present in older assignment rows
var legacyRoles = map[string]Role{
	"operator":           RoleOperator,
	"ops":                RoleOperator,
	"supervisor":         RoleSupervisor,
	"approver":           RoleSupervisor,
	"compliance":         RoleCompliance,
	"compliance_officer": RoleCompliance,
	"admin":              RolePlatformAdmin,
	"platform_admin":     RolePlatformAdmin,
	"platform-admin":     RolePlatformAdmin,
	"super_admin":        RolePlatformAdmin,
}

// NormalizeRole translates an external role string into the closed Role enum.
func NormalizeRole(s string) (Role, error) {
	trimmed := strings.TrimSpace(s)
	for _, r := range AllRoles {
		if string(r) == trimmed {
			return r, nil
		}
	}
	if r, ok := legacyRoles[strings.ToLower(trimmed)]; ok {
		return r, nil
	}
	return "", &ValidationError{Field: "role", Reason: "unknown platform role " + quote(s)}
}

// ParseDecisionType validates an external decision type string.
func ParseDecisionType(s string) (DecisionType, error) {
	t := DecisionType(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllDecisionTypes {
		if t == known {
			return t, nil
		}
	}
	return "", &ValidationError{Field: "decision_type", Reason: "unknown decision type " + quote(s)}
}

// ParseEntityRole validates an external entity role string.
func ParseEntityRole(s string) (EntityRole, error) {
	r := EntityRole(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case EntityAdmin, EntityFinance, EntityViewer, EntityApprover:
		return r, nil
	}
	return "", &ValidationError{Field: "entity_role", Reason: "unknown entity role " + quote(s)}
}

// ParseGroupRole validates an external group role string.
func ParseGroupRole(s string) (GroupRole, error) {
	r := GroupRole(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case GroupAdmin, GroupFinance, GroupViewer:
		return r, nil
	}
	return "", &ValidationError{Field: "group_role", Reason: "unknown group role " + quote(s)}
}

func quote(s string) string {
	return "\"" + s + "\""
}
