package govern

import (
	"fmt"
	"sort"
	"strings"
)

// HasEntityAuthority reports whether the context holds a direct entity role in
// required (ENTITY_ADMIN or ENTITY_APPROVER when none given). Group membership never counts.
func HasEntityAuthority(ctx *AuthContext, entityID int64, required ...EntityRole) bool {
	if ctx == nil {
		return false
	}
	if len(required) == 0 {
		required = DefaultActingRoles
	}
	role, ok := ctx.entityRoles[entityID]
	if !ok {
		return false
	}
	for _, r := range required {
		if r == role {
			return true
		}
	}
	return false
}

// HasGroupVisibility reports whether the context holds any role on groupID.
func HasGroupVisibility(ctx *AuthContext, groupID int64) bool {
	if ctx == nil {
		return false
	}
	_, ok := ctx.groupRoles[groupID]
	return ok
}

// GetVisibleEntityIDs is the "can see" set: direct entity scopes plus group members.
func GetVisibleEntityIDs(ctx *AuthContext) []int64 {
	if ctx == nil {
		return []int64{}
	}
	set := make(map[int64]struct{})
	for _, s := range ctx.entityScopes {
		set[s.EntityID] = struct{}{}
	}
	for _, g := range ctx.groupScopes {
		for _, id := range g.MemberEntityIDs {
			set[id] = struct{}{}
		}
	}
	return sortedIDs(set)
}

// GetActionableEntityIDs is the "can act" set: direct entity scopes whose role is
// in required. Entities reachable only through a group are never included.
func GetActionableEntityIDs(ctx *AuthContext, required ...EntityRole) []int64 {
	if ctx == nil {
		return []int64{}
	}
	if len(required) == 0 {
		required = DefaultActingRoles
	}
	set := make(map[int64]struct{})
	for _, s := range ctx.entityScopes {
		for _, r := range required {
			if s.Role == r {
				set[s.EntityID] = struct{}{}
				break
			}
		}
	}
	return sortedIDs(set)
}

// ValidateDecisionAuthority checks platform, governance and entity scope, in that
// order, and returns nil when the context may act on the decision.
func ValidateDecisionAuthority(ctx *AuthContext, decisionEntityID *int64, t DecisionType) *AuthorityError {
	if ctx == nil {
		return &AuthorityError{Reason: "no resolved authority context for actor"}
	}
	if ctx.platformRole == RolePlatformAdmin {
		return nil
	}
	if t.IsGroupGovernance() {
		return &AuthorityError{
			Reason:   fmt.Sprintf("%s is a platform governance decision and requires role %s; actor %s has %s", t, RolePlatformAdmin, ctx.userID, ctx.platformRole),
			Required: []string{string(RolePlatformAdmin)},
		}
	}
	if decisionEntityID != nil {
		id := *decisionEntityID
		if !HasEntityAuthority(ctx, id) {
			return &AuthorityError{
				Reason:   entityDenial(ctx, id),
				EntityID: &id,
				Required: entityRoleNames(DefaultActingRoles),
			}
		}
	}
	return nil
}

func entityDenial(ctx *AuthContext, entityID int64) string {
	required := strings.Join(entityRoleNames(DefaultActingRoles), " or ")
	if role, ok := ctx.entityRoles[entityID]; ok {
		return fmt.Sprintf("actor %s holds %s on entity %d but acting requires %s", ctx.userID, role, entityID, required)
	}
	for _, g := range ctx.groupScopes {
		for _, id := range g.MemberEntityIDs {
			if id == entityID {
				return fmt.Sprintf("actor %s sees entity %d only through group %d; group scope does not confer entity authority, %s on entity %d is required",
					ctx.userID, entityID, g.GroupID, required, entityID)
			}
		}
	}
	return fmt.Sprintf("actor %s has no authority on entity %d; group scope does not confer entity authority, %s on entity %d is required",
		ctx.userID, entityID, required, entityID)
}

func entityRoleNames(roles []EntityRole) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = string(r)
	}
	return out
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
