package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oarkflow/govern"
)

func int64p(v int64) *int64 { return &v }

func TestMemoryDirectoryActiveMembers(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory()
	d.SetMembership(govern.GroupMembership{GroupID: 1, EntityID: 9, Status: govern.MembershipActive})
	d.SetMembership(govern.GroupMembership{GroupID: 1, EntityID: 7, Status: govern.MembershipActive})
	d.SetMembership(govern.GroupMembership{GroupID: 1, EntityID: 8, Status: govern.MembershipInactive})
	got, err := d.ListActiveMembers(ctx, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0] != 7 || got[1] != 9 {
		t.Fatalf("unexpected members %v", got)
	}
	if _, err := d.GetUser(ctx, "nobody"); !errors.Is(err, govern.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryPolicyStoreBumpsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryPolicyStore()
	s.PutPolicy(govern.Policy{Code: "PAY-STD", Name: "v1"})
	s.PutPolicy(govern.Policy{Code: "PAY-STD", Name: "v2"})
	p, err := s.GetPolicy(ctx, "PAY-STD")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Version != 2 || p.Name != "v2" {
		t.Fatalf("unexpected policy %+v", p)
	}
}

func TestMemoryEvidenceStoreIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEvidenceStore()
	p := &govern.EvidencePack{ID: "ev-1", DecisionID: "DEC-1", ActorID: "u1", Action: govern.ActionApproved, CreatedAt: time.Now()}
	if err := s.InsertEvidence(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertEvidence(ctx, &govern.EvidencePack{ID: "ev-2", DecisionID: "DEC-1"}); err == nil {
		t.Fatalf("second pack for a decision must be refused")
	}
	p.Justification = "mutated by caller"
	got, _ := s.GetEvidence(ctx, "ev-1")
	if got.Justification != "" {
		t.Fatalf("store must keep its own copy")
	}
	list, _ := s.ListEvidence(ctx, govern.EvidenceFilter{ActorID: "u1"})
	if len(list) != 1 {
		t.Fatalf("expected one pack, got %d", len(list))
	}
}

func TestMemoryDecisionStoreCommitTransition(t *testing.T) {
	ctx := context.Background()
	ev := NewMemoryEvidenceStore()
	s := NewMemoryDecisionStore(ev)
	if err := s.CreateDecision(ctx, &govern.Decision{ID: "DEC-1", EntityID: int64p(7), Type: govern.DecisionPayment}); err != nil {
		t.Fatalf("create: %v", err)
	}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := govern.Transition{DecisionID: "DEC-1", From: govern.StatusPending, To: govern.StatusApproved, DecidedAt: at, DecidedBy: "u1", Justification: "fine by me, verified"}
	if err := s.CommitTransition(ctx, tr, &govern.EvidencePack{ID: "ev-1", DecisionID: "DEC-1"}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.CommitTransition(ctx, tr, &govern.EvidencePack{ID: "ev-2", DecisionID: "DEC-1"}); !errors.Is(err, govern.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if ev.Len() != 1 {
		t.Fatalf("losing transition must not write evidence")
	}
	tr.DecisionID = "DEC-404"
	if err := s.CommitTransition(ctx, tr, nil); !errors.Is(err, govern.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDecisionStoreRequiresEvidence(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := govern.Transition{DecisionID: "DEC-1", From: govern.StatusPending, To: govern.StatusApproved, DecidedAt: at, DecidedBy: "u1"}

	orphan := NewMemoryDecisionStore(nil)
	mustCreate(t, orphan, &govern.Decision{ID: "DEC-1", EntityID: int64p(7), Type: govern.DecisionPayment})
	if err := orphan.CommitTransition(ctx, tr, &govern.EvidencePack{ID: "ev-1", DecisionID: "DEC-1"}); !errors.Is(err, govern.ErrEvidenceWrite) {
		t.Fatalf("store without a writer: expected ErrEvidenceWrite, got %v", err)
	}

	ev := NewMemoryEvidenceStore()
	s := NewMemoryDecisionStore(ev)
	mustCreate(t, s, &govern.Decision{ID: "DEC-1", EntityID: int64p(7), Type: govern.DecisionPayment})
	if err := s.CommitTransition(ctx, tr, nil); !errors.Is(err, govern.ErrEvidenceWrite) {
		t.Fatalf("nil pack: expected ErrEvidenceWrite, got %v", err)
	}
	for _, store := range []*MemoryDecisionStore{orphan, s} {
		d, _ := store.GetDecision(ctx, "DEC-1")
		if d.Status != govern.StatusPending {
			t.Fatalf("decision must stay pending, got %s", d.Status)
		}
	}
	if ev.Len() != 0 {
		t.Fatalf("no evidence expected, got %d", ev.Len())
	}
}

func mustCreate(t *testing.T, s *MemoryDecisionStore, d *govern.Decision) {
	t.Helper()
	if err := s.CreateDecision(context.Background(), d); err != nil {
		t.Fatalf("create %s: %v", d.ID, err)
	}
}

func TestMemoryDecisionFilterScopes(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDecisionStore(NewMemoryEvidenceStore())
	now := time.Now()
	_ = s.CreateDecision(ctx, &govern.Decision{ID: "A", EntityID: int64p(7), SLADeadline: now.Add(2 * time.Hour)})
	_ = s.CreateDecision(ctx, &govern.Decision{ID: "B", EntityID: int64p(9), SLADeadline: now.Add(time.Hour)})
	_ = s.CreateDecision(ctx, &govern.Decision{ID: "C", GroupID: int64p(1)})
	_ = s.CreateDecision(ctx, &govern.Decision{ID: "D"})

	got, _ := s.ListDecisions(ctx, govern.DecisionFilter{EntityIDs: []int64{7, 9}})
	if len(got) != 2 || got[0].ID != "B" || got[1].ID != "A" {
		t.Fatalf("expected SLA order B, A; got %v", decisionIDs(got))
	}
	got, _ = s.ListDecisions(ctx, govern.DecisionFilter{GroupIDs: []int64{1}, IncludeUnanchored: true})
	if len(got) != 2 || got[0].ID != "C" || got[1].ID != "D" {
		t.Fatalf("unexpected %v", decisionIDs(got))
	}
	got, _ = s.ListDecisions(ctx, govern.DecisionFilter{AnyScope: true, Limit: 3})
	if len(got) != 3 {
		t.Fatalf("limit not applied: %v", decisionIDs(got))
	}
}

func decisionIDs(list []*govern.Decision) []string {
	out := make([]string, len(list))
	for i, d := range list {
		out[i] = d.ID
	}
	return out
}
