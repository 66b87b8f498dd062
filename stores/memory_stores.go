package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oarkflow/govern"
)

// MemoryDirectory implements govern.Directory in-memory for testing/demo.
type MemoryDirectory struct {
	mu          sync.RWMutex
	users       map[string]*govern.User
	entityRoles map[string]map[int64]govern.EntityRoleAssignment
	groupRoles  map[string]map[int64]govern.GroupRoleAssignment
	memberships map[int64]map[int64]govern.MembershipStatus
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		users:       make(map[string]*govern.User),
		entityRoles: make(map[string]map[int64]govern.EntityRoleAssignment),
		groupRoles:  make(map[string]map[int64]govern.GroupRoleAssignment),
		memberships: make(map[int64]map[int64]govern.MembershipStatus),
	}
}

func (d *MemoryDirectory) PutUser(u govern.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = &u
}

// AssignEntityRole replaces any previous role the user had on the entity.
func (d *MemoryDirectory) AssignEntityRole(a govern.EntityRoleAssignment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.entityRoles[a.UserID] == nil {
		d.entityRoles[a.UserID] = make(map[int64]govern.EntityRoleAssignment)
	}
	d.entityRoles[a.UserID][a.EntityID] = a
}

// AssignGroupRole replaces any previous role the user had on the group.
func (d *MemoryDirectory) AssignGroupRole(a govern.GroupRoleAssignment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.groupRoles[a.UserID] == nil {
		d.groupRoles[a.UserID] = make(map[int64]govern.GroupRoleAssignment)
	}
	d.groupRoles[a.UserID][a.GroupID] = a
}

func (d *MemoryDirectory) SetMembership(m govern.GroupMembership) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.memberships[m.GroupID] == nil {
		d.memberships[m.GroupID] = make(map[int64]govern.MembershipStatus)
	}
	d.memberships[m.GroupID][m.EntityID] = m.Status
}

func (d *MemoryDirectory) GetUser(ctx context.Context, userID string) (*govern.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, govern.ErrNotFound)
	}
	dup := *u
	return &dup, nil
}

func (d *MemoryDirectory) ListEntityRoles(ctx context.Context, userID string) ([]govern.EntityRoleAssignment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]govern.EntityRoleAssignment, 0, len(d.entityRoles[userID]))
	for _, a := range d.entityRoles[userID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (d *MemoryDirectory) ListGroupRoles(ctx context.Context, userID string) ([]govern.GroupRoleAssignment, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]govern.GroupRoleAssignment, 0, len(d.groupRoles[userID]))
	for _, a := range d.groupRoles[userID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out, nil
}

func (d *MemoryDirectory) ListActiveMembers(ctx context.Context, groupID int64) ([]int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]int64, 0)
	for id, status := range d.memberships[groupID] {
		if status == govern.MembershipActive {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// MemoryPolicyStore implements govern.PolicyStore.
type MemoryPolicyStore struct {
	mu       sync.RWMutex
	policies map[string]*govern.Policy
}

func NewMemoryPolicyStore() *MemoryPolicyStore {
	return &MemoryPolicyStore{policies: make(map[string]*govern.Policy)}
}

// PutPolicy stores p. Re-putting an existing code bumps its version.
func (s *MemoryPolicyStore) PutPolicy(p govern.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.policies[p.Code]; ok && p.Version <= old.Version {
		p.Version = old.Version + 1
	}
	if p.Version == 0 {
		p.Version = 1
	}
	s.policies[p.Code] = &p
}

func (s *MemoryPolicyStore) GetPolicy(ctx context.Context, code string) (*govern.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[code]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", code, govern.ErrNotFound)
	}
	dup := *p
	return &dup, nil
}

func (s *MemoryPolicyStore) ListPolicies(ctx context.Context) ([]*govern.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*govern.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		dup := *p
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// MemoryEvidenceStore is an append-only evidence log.
type MemoryEvidenceStore struct {
	mu         sync.RWMutex
	packs      map[string]*govern.EvidencePack
	byDecision map[string]string
	order      []string
}

func NewMemoryEvidenceStore() *MemoryEvidenceStore {
	return &MemoryEvidenceStore{
		packs:      make(map[string]*govern.EvidencePack),
		byDecision: make(map[string]string),
	}
}

func (s *MemoryEvidenceStore) InsertEvidence(ctx context.Context, p *govern.EvidencePack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.packs[p.ID]; dup {
		return fmt.Errorf("evidence %s already exists", p.ID)
	}
	if _, dup := s.byDecision[p.DecisionID]; dup {
		return fmt.Errorf("decision %s already has evidence", p.DecisionID)
	}
	cp := *p
	s.packs[p.ID] = &cp
	s.byDecision[p.DecisionID] = p.ID
	s.order = append(s.order, p.ID)
	return nil
}

func (s *MemoryEvidenceStore) GetEvidence(ctx context.Context, id string) (*govern.EvidencePack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.packs[id]
	if !ok {
		return nil, fmt.Errorf("evidence %s: %w", id, govern.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryEvidenceStore) GetEvidenceByDecision(ctx context.Context, decisionID string) (*govern.EvidencePack, error) {
	s.mu.RLock()
	id, ok := s.byDecision[decisionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("evidence for decision %s: %w", decisionID, govern.ErrNotFound)
	}
	return s.GetEvidence(ctx, id)
}

func (s *MemoryEvidenceStore) ListEvidence(ctx context.Context, filter govern.EvidenceFilter) ([]*govern.EvidencePack, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*govern.EvidencePack, 0)
	for _, id := range s.order {
		p := s.packs[id]
		if !filter.Matches(p) {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of sealed packs.
func (s *MemoryEvidenceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.packs)
}

// MemoryDecisionStore keeps decisions in a map guarded by one mutex, so the
// PENDING check, the evidence insert and the status write happen atomically.
// Every transition needs an evidence writer and a pack; without either the
// commit fails with ErrEvidenceWrite.
type MemoryDecisionStore struct {
	mu        sync.Mutex
	decisions map[string]*govern.Decision
	evidence  govern.EvidenceWriter
}

func NewMemoryDecisionStore(evidence govern.EvidenceWriter) *MemoryDecisionStore {
	return &MemoryDecisionStore{decisions: make(map[string]*govern.Decision), evidence: evidence}
}

func (s *MemoryDecisionStore) CreateDecision(ctx context.Context, d *govern.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.decisions[d.ID]; dup {
		return fmt.Errorf("decision %s already exists", d.ID)
	}
	cp := d.Clone()
	now := time.Now().UTC()
	if cp.Status == "" {
		cp.Status = govern.StatusPending
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = cp.CreatedAt
	s.decisions[d.ID] = cp
	return nil
}

func (s *MemoryDecisionStore) GetDecision(ctx context.Context, id string) (*govern.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, fmt.Errorf("decision %s: %w", id, govern.ErrNotFound)
	}
	return d.Clone(), nil
}

func (s *MemoryDecisionStore) ListDecisions(ctx context.Context, filter govern.DecisionFilter) ([]*govern.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*govern.Decision, 0)
	for _, d := range s.decisions {
		if filter.Matches(d) {
			out = append(out, d.Clone())
		}
	}
	sortDecisions(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryDecisionStore) CommitTransition(ctx context.Context, t govern.Transition, pack *govern.EvidencePack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[t.DecisionID]
	if !ok {
		return fmt.Errorf("decision %s: %w", t.DecisionID, govern.ErrNotFound)
	}
	if d.Status != t.From {
		return govern.ErrConflict
	}
	switch {
	case s.evidence == nil:
		return fmt.Errorf("%w: no evidence writer configured", govern.ErrEvidenceWrite)
	case pack == nil:
		return fmt.Errorf("%w: no evidence pack for %s", govern.ErrEvidenceWrite, t.DecisionID)
	}
	if err := s.evidence.InsertEvidence(ctx, pack); err != nil {
		return fmt.Errorf("%w: %v", govern.ErrEvidenceWrite, err)
	}
	decidedAt := t.DecidedAt
	d.Status = t.To
	d.DecidedAt = &decidedAt
	d.DecidedBy = t.DecidedBy
	d.Justification = t.Justification
	d.UpdatedAt = decidedAt
	return nil
}

func (s *MemoryDecisionStore) MarkExecuted(ctx context.Context, id, executionRef string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return fmt.Errorf("decision %s: %w", id, govern.ErrNotFound)
	}
	if d.Status != govern.StatusApproved {
		return govern.ErrConflict
	}
	d.Status = govern.StatusExecuted
	d.ExecutionRef = executionRef
	d.UpdatedAt = at
	return nil
}

// sortDecisions orders by SLA deadline, then id; decisions without a deadline go last.
func sortDecisions(list []*govern.Decision) {
	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.SLADeadline.IsZero() != b.SLADeadline.IsZero() {
			return !a.SLADeadline.IsZero()
		}
		if !a.SLADeadline.Equal(b.SLADeadline) {
			return a.SLADeadline.Before(b.SLADeadline)
		}
		return a.ID < b.ID
	})
}
