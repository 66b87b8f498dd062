package govern

import (
	"sort"
	"strings"
	"time"
)

// ============================================================================
// ROLES & DECISION TYPES
// ============================================================================

// Role is the single platform-wide role a user holds.
type Role string

const (
	RoleOperator      Role = "OPERATOR"
	RoleSupervisor    Role = "SUPERVISOR"
	RoleCompliance    Role = "COMPLIANCE"
	RolePlatformAdmin Role = "PLATFORM_ADMIN"
)

// AllRoles lists the closed set of platform roles.
var AllRoles = []Role{RoleOperator, RoleSupervisor, RoleCompliance, RolePlatformAdmin}

// DecisionType classifies a governed decision.
type DecisionType string

const (
	DecisionPayment           DecisionType = "PAYMENT"
	DecisionLimitOverride     DecisionType = "LIMIT_OVERRIDE"
	DecisionAMLException      DecisionType = "AML_EXCEPTION"
	DecisionPolicyChange      DecisionType = "POLICY_CHANGE"
	DecisionGroupCreate       DecisionType = "GROUP_CREATE"
	DecisionGroupAddEntity    DecisionType = "GROUP_ADD_ENTITY"
	DecisionGroupRemoveEntity DecisionType = "GROUP_REMOVE_ENTITY"
	DecisionGroupRoleAssign   DecisionType = "GROUP_ROLE_ASSIGN"
)

// GroupGovernancePrefix marks platform-governance decision types that bypass entity scoping.
const GroupGovernancePrefix = "GROUP_"

// AllDecisionTypes lists every decision type a deployment must configure.
var AllDecisionTypes = []DecisionType{
	DecisionPayment,
	DecisionLimitOverride,
	DecisionAMLException,
	DecisionPolicyChange,
	DecisionGroupCreate,
	DecisionGroupAddEntity,
	DecisionGroupRemoveEntity,
	DecisionGroupRoleAssign,
}

// IsGroupGovernance reports whether t is a platform-governance type.
func (t DecisionType) IsGroupGovernance() bool {
	return strings.HasPrefix(string(t), GroupGovernancePrefix)
}

// EntityRole is a user's role on a single legal entity.
type EntityRole string

const (
	EntityAdmin    EntityRole = "ENTITY_ADMIN"
	EntityFinance  EntityRole = "ENTITY_FINANCE"
	EntityViewer   EntityRole = "ENTITY_VIEWER"
	EntityApprover EntityRole = "ENTITY_APPROVER"
)

// DefaultActingRoles are the entity roles that confer action authority.
var DefaultActingRoles = []EntityRole{EntityAdmin, EntityApprover}

// GroupRole is a user's role on an entity group. Group roles never confer authority.
type GroupRole string

const (
	GroupAdmin   GroupRole = "GROUP_ADMIN"
	GroupFinance GroupRole = "GROUP_FINANCE"
	GroupViewer  GroupRole = "GROUP_VIEWER"
)

// MembershipStatus of an entity inside a group.
type MembershipStatus string

const (
	MembershipActive   MembershipStatus = "ACTIVE"
	MembershipInactive MembershipStatus = "INACTIVE"
)

// DecisionStatus is the lifecycle state of a decision.
type DecisionStatus string

const (
	StatusPending   DecisionStatus = "PENDING"
	StatusApproved  DecisionStatus = "APPROVED"
	StatusRejected  DecisionStatus = "REJECTED"
	StatusEscalated DecisionStatus = "ESCALATED"
	StatusExecuted  DecisionStatus = "EXECUTED"
)

// EvidenceAction is the action sealed in an evidence pack.
type EvidenceAction string

const (
	ActionApproved  EvidenceAction = "APPROVED"
	ActionRejected  EvidenceAction = "REJECTED"
	ActionEscalated EvidenceAction = "ESCALATED"
)

// Status maps an evidence action to the decision status it produces.
func (a EvidenceAction) Status() DecisionStatus {
	switch a {
	case ActionApproved:
		return StatusApproved
	case ActionRejected:
		return StatusRejected
	case ActionEscalated:
		return StatusEscalated
	}
	return ""
}

// ============================================================================
// SCOPES & AUTH CONTEXT
// ============================================================================

// EntityScope grants action authority over exactly one entity.
type EntityScope struct {
	EntityID  int64      `json:"entity_id"`
	LegalName string     `json:"legal_name"`
	Role      EntityRole `json:"role"`
}

// GroupScope grants visibility over the member entities of a group.
type GroupScope struct {
	GroupID         int64     `json:"group_id"`
	Name            string    `json:"name"`
	Role            GroupRole `json:"role"`
	MemberEntityIDs []int64   `json:"member_entity_ids"`
}

// AuthContext is the per-request snapshot of a user's scopes. It is built once
// by the Resolver and cannot be changed afterwards; accessors hand out copies.
type AuthContext struct {
	userID       string
	userName     string
	platformRole Role
	entityScopes []EntityScope
	groupScopes  []GroupScope
	entityRoles  map[int64]EntityRole
	groupRoles   map[int64]GroupRole
}

// NewAuthContext assembles a context and its lookup maps from scope lists.
func NewAuthContext(user *User, entityScopes []EntityScope, groupScopes []GroupScope) *AuthContext {
	ctx := &AuthContext{
		userID:       user.ID,
		userName:     user.Name,
		platformRole: user.Role,
		entityScopes: make([]EntityScope, 0, len(entityScopes)),
		groupScopes:  make([]GroupScope, 0, len(groupScopes)),
		entityRoles:  make(map[int64]EntityRole, len(entityScopes)),
		groupRoles:   make(map[int64]GroupRole, len(groupScopes)),
	}
	for _, s := range entityScopes {
		ctx.entityScopes = append(ctx.entityScopes, s)
		ctx.entityRoles[s.EntityID] = s.Role
	}
	for _, g := range groupScopes {
		members := append([]int64(nil), g.MemberEntityIDs...)
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		if members == nil {
			members = []int64{}
		}
		g.MemberEntityIDs = members
		ctx.groupScopes = append(ctx.groupScopes, g)
		ctx.groupRoles[g.GroupID] = g.Role
	}
	sort.Slice(ctx.entityScopes, func(i, j int) bool { return ctx.entityScopes[i].EntityID < ctx.entityScopes[j].EntityID })
	sort.Slice(ctx.groupScopes, func(i, j int) bool { return ctx.groupScopes[i].GroupID < ctx.groupScopes[j].GroupID })
	return ctx
}

func (c *AuthContext) UserID() string     { return c.userID }
func (c *AuthContext) UserName() string   { return c.userName }
func (c *AuthContext) PlatformRole() Role { return c.platformRole }

// EntityScopes returns a copy of the direct entity scopes, ordered by entity id.
func (c *AuthContext) EntityScopes() []EntityScope {
	return append(make([]EntityScope, 0, len(c.entityScopes)), c.entityScopes...)
}

// GroupScopes returns a deep copy of the group scopes, ordered by group id.
func (c *AuthContext) GroupScopes() []GroupScope {
	out := make([]GroupScope, len(c.groupScopes))
	for i, g := range c.groupScopes {
		g.MemberEntityIDs = append(make([]int64, 0, len(g.MemberEntityIDs)), g.MemberEntityIDs...)
		out[i] = g
	}
	return out
}

// EntityRole returns the user's direct role on entityID.
func (c *AuthContext) EntityRole(entityID int64) (EntityRole, bool) {
	r, ok := c.entityRoles[entityID]
	return r, ok
}

// GroupRole returns the user's role on groupID.
func (c *AuthContext) GroupRole(groupID int64) (GroupRole, bool) {
	r, ok := c.groupRoles[groupID]
	return r, ok
}

// Actor identifies who acted, as recorded in evidence.
func (c *AuthContext) Actor() Actor {
	return Actor{ID: c.userID, Name: c.userName, Role: c.platformRole}
}

// Actor is the identity sealed into an evidence pack.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// User is a directory record.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// EntityRoleAssignment is one row of the entity-role table.
type EntityRoleAssignment struct {
	UserID    string     `json:"user_id"`
	EntityID  int64      `json:"entity_id"`
	LegalName string     `json:"legal_name"`
	Role      EntityRole `json:"role"`
}

// GroupRoleAssignment is one row of the group-role table.
type GroupRoleAssignment struct {
	UserID    string    `json:"user_id"`
	GroupID   int64     `json:"group_id"`
	GroupName string    `json:"group_name"`
	Role      GroupRole `json:"role"`
}

// GroupMembership links an entity to a group.
type GroupMembership struct {
	GroupID  int64            `json:"group_id"`
	EntityID int64            `json:"entity_id"`
	Status   MembershipStatus `json:"status"`
}

// ============================================================================
// DECISIONS, POLICIES & EVIDENCE
// ============================================================================

// Decision is a governed request awaiting human authority.
type Decision struct {
	ID                string         `json:"id"`
	EntityID          *int64         `json:"entity_id,omitempty"`
	GroupID           *int64         `json:"group_id,omitempty"`
	Type              DecisionType   `json:"type"`
	Subject           string         `json:"subject"`
	PolicyCode        string         `json:"policy_code"`
	Risk              string         `json:"risk"`
	RequiredAuthority Role           `json:"required_authority"`
	Status            DecisionStatus `json:"status"`
	SLADeadline       time.Time      `json:"sla_deadline"`
	AmountMinor       *int64         `json:"amount_minor,omitempty"`
	Currency          string         `json:"currency,omitempty"`
	Beneficiary       string         `json:"beneficiary,omitempty"`
	Context           map[string]any `json:"context,omitempty"`
	DecidedAt         *time.Time     `json:"decided_at,omitempty"`
	DecidedBy         string         `json:"decided_by,omitempty"`
	Justification     string         `json:"justification,omitempty"`
	ExecutionRef      string         `json:"execution_ref,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// SLABreached reports whether a pending decision is past its deadline.
func (d *Decision) SLABreached(now time.Time) bool {
	return d.Status == StatusPending && !d.SLADeadline.IsZero() && now.After(d.SLADeadline)
}

// Clone returns a deep copy so callers cannot mutate stored records.
func (d *Decision) Clone() *Decision {
	if d == nil {
		return nil
	}
	dup := *d
	if d.EntityID != nil {
		v := *d.EntityID
		dup.EntityID = &v
	}
	if d.GroupID != nil {
		v := *d.GroupID
		dup.GroupID = &v
	}
	if d.AmountMinor != nil {
		v := *d.AmountMinor
		dup.AmountMinor = &v
	}
	if d.DecidedAt != nil {
		v := *d.DecidedAt
		dup.DecidedAt = &v
	}
	if d.Context != nil {
		dup.Context = make(map[string]any, len(d.Context))
		for k, v := range d.Context {
			dup.Context[k] = v
		}
	}
	return &dup
}

// Policy is a governance policy referenced by code.
type Policy struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	RequiredAuthority Role   `json:"required_authority"`
	RiskLevel         string `json:"risk_level"`
	Version           int    `json:"version"`
	IsActive          bool   `json:"is_active"`
}

// PolicySnapshot freezes the policy and matrix state at the moment of action.
type PolicySnapshot struct {
	Code              string `json:"code"`
	Version           int    `json:"version"`
	Name              string `json:"name"`
	RequiredAuthority Role   `json:"required_authority"`
	RiskLevel         string `json:"risk_level"`
	DualControl       bool   `json:"dual_control"`
	MatrixVersion     int    `json:"matrix_version"`
}

// EvidencePack is the sealed, append-only record of one transition.
type EvidencePack struct {
	ID             string         `json:"id"`
	DecisionID     string         `json:"decision_id"`
	ActorID        string         `json:"actor_id"`
	ActorName      string         `json:"actor_name"`
	ActorRole      Role           `json:"actor_role"`
	Action         EvidenceAction `json:"action"`
	Justification  string         `json:"justification"`
	PolicySnapshot PolicySnapshot `json:"policy_snapshot"`
	MerkleHash     string         `json:"merkle_hash"`
	LedgerID       string         `json:"ledger_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Transition is the conditional status write handed to a DecisionStore.
type Transition struct {
	DecisionID    string
	From          DecisionStatus
	To            DecisionStatus
	DecidedAt     time.Time
	DecidedBy     string
	Justification string
	ExecutionRef  string
}

// TransitionResult is returned to callers on a committed transition.
type TransitionResult struct {
	Success    bool           `json:"success"`
	DecisionID string         `json:"decision_id"`
	Status     DecisionStatus `json:"status"`
	EvidenceID string         `json:"evidence_id"`
	MerkleHash string         `json:"merkle_hash"`
}
