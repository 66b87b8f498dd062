package govern

import (
	"context"
	"time"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// Directory serves users and their scope assignments.
type Directory interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	ListEntityRoles(ctx context.Context, userID string) ([]EntityRoleAssignment, error)
	ListGroupRoles(ctx context.Context, userID string) ([]GroupRoleAssignment, error)
	// ListActiveMembers returns entity ids whose membership status is ACTIVE.
	ListActiveMembers(ctx context.Context, groupID int64) ([]int64, error)
}

// DecisionStore persists decisions. CommitTransition must apply the status write
// only if the stored status equals t.From, and insert the evidence pack in the
// same unit of work. It returns ErrConflict when the conditional write matched
// nothing and leaves the decision untouched when the evidence insert fails.
type DecisionStore interface {
	CreateDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, id string) (*Decision, error)
	ListDecisions(ctx context.Context, filter DecisionFilter) ([]*Decision, error)
	CommitTransition(ctx context.Context, t Transition, pack *EvidencePack) error
	// MarkExecuted moves an APPROVED decision to EXECUTED without evidence.
	MarkExecuted(ctx context.Context, id, executionRef string, at time.Time) error
}

// PolicyStore serves policies by code.
type PolicyStore interface {
	GetPolicy(ctx context.Context, code string) (*Policy, error)
	ListPolicies(ctx context.Context) ([]*Policy, error)
}

// EvidenceStore reads sealed evidence. Inserts happen only through CommitTransition.
type EvidenceStore interface {
	GetEvidence(ctx context.Context, id string) (*EvidencePack, error)
	GetEvidenceByDecision(ctx context.Context, decisionID string) (*EvidencePack, error)
	ListEvidence(ctx context.Context, filter EvidenceFilter) ([]*EvidencePack, error)
}

// EvidenceWriter is the append-only insert used by stores inside CommitTransition.
type EvidenceWriter interface {
	InsertEvidence(ctx context.Context, pack *EvidencePack) error
}

// DecisionFilter for listing decisions.
type DecisionFilter struct {
	Status    DecisionStatus
	Types     []DecisionType
	EntityIDs []int64
	GroupIDs  []int64
	// IncludeUnanchored keeps decisions that have neither entity nor group.
	IncludeUnanchored bool
	// AnyScope disables the entity/group filter entirely.
	AnyScope bool
	Limit    int
}

// Matches applies the filter to a decision in memory.
func (f DecisionFilter) Matches(d *Decision) bool {
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == d.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.AnyScope {
		return true
	}
	switch {
	case d.EntityID != nil:
		return containsID(f.EntityIDs, *d.EntityID)
	case d.GroupID != nil:
		return containsID(f.GroupIDs, *d.GroupID)
	default:
		return f.IncludeUnanchored
	}
}

// EvidenceFilter for querying evidence packs.
type EvidenceFilter struct {
	DecisionID string
	ActorID    string
	Action     EvidenceAction
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}

// Matches applies the filter to a pack in memory.
func (f EvidenceFilter) Matches(p *EvidencePack) bool {
	if f.DecisionID != "" && p.DecisionID != f.DecisionID {
		return false
	}
	if f.ActorID != "" && p.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && p.Action != f.Action {
		return false
	}
	if !f.StartTime.IsZero() && p.CreatedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && p.CreatedAt.After(f.EndTime) {
		return false
	}
	return true
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
