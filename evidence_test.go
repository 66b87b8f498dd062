package govern

import (
	"strings"
	"testing"
	"time"
)

var testSnapshot = PolicySnapshot{
	Code:              "PAY-STD",
	Version:           3,
	Name:              "Standard payment release",
	RequiredAuthority: RoleSupervisor,
	RiskLevel:         "MEDIUM",
	MatrixVersion:     1,
}

func TestMerkleHashIsDeterministic(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	first, err := ComputeMerkleHash("DEC-1", "u-sup", ActionApproved, "Verified with counterparty directly.", testSnapshot, at)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for i := 0; i < 50; i++ {
		again, err := ComputeMerkleHash("DEC-1", "u-sup", ActionApproved, "Verified with counterparty directly.", testSnapshot, at)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		if again != first {
			t.Fatalf("hash changed between runs: %s vs %s", first, again)
		}
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha-256, got %q", first)
	}
	// the same instant in another zone seals to the same bytes
	local := at.In(time.FixedZone("CET", 3600))
	if h, _ := ComputeMerkleHash("DEC-1", "u-sup", ActionApproved, "Verified with counterparty directly.", testSnapshot, local); h != first {
		t.Fatalf("zone changed the hash")
	}
}

func TestMerkleHashCoversEveryField(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	base, _ := ComputeMerkleHash("DEC-1", "u-sup", ActionApproved, "Verified with counterparty.", testSnapshot, at)
	changed := testSnapshot
	changed.Version = 4
	variants := []string{}
	h, _ := ComputeMerkleHash("DEC-2", "u-sup", ActionApproved, "Verified with counterparty.", testSnapshot, at)
	variants = append(variants, h)
	h, _ = ComputeMerkleHash("DEC-1", "u-other", ActionApproved, "Verified with counterparty.", testSnapshot, at)
	variants = append(variants, h)
	h, _ = ComputeMerkleHash("DEC-1", "u-sup", ActionRejected, "Verified with counterparty.", testSnapshot, at)
	variants = append(variants, h)
	h, _ = ComputeMerkleHash("DEC-1", "u-sup", ActionApproved, "Verified with counterparty!", testSnapshot, at)
	variants = append(variants, h)
	h, _ = ComputeMerkleHash("DEC-1", "u-sup", ActionApproved, "Verified with counterparty.", changed, at)
	variants = append(variants, h)
	h, _ = ComputeMerkleHash("DEC-1", "u-sup", ActionApproved, "Verified with counterparty.", testSnapshot, at.Add(time.Microsecond))
	variants = append(variants, h)
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d did not change the hash", i)
		}
	}
}

func TestCanonicalEvidenceNormalizesUnicode(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	composed := "Caf\u00e9 supplier verified"
	decomposed := "Cafe\u0301 supplier verified"
	a, _ := CanonicalEvidence("DEC-1", "u1", ActionApproved, composed, testSnapshot, at)
	b, _ := CanonicalEvidence("DEC-1", "u1", ActionApproved, decomposed, testSnapshot, at)
	if string(a) != string(b) {
		t.Fatalf("canonical forms differ:\n%s\n%s", a, b)
	}
	if !strings.HasPrefix(string(a), `{"action":"APPROVED","actorId":"u1","decisionId":"DEC-1"`) {
		t.Fatalf("keys not sorted: %s", a)
	}
}

func TestGeneratorCreateAndVerify(t *testing.T) {
	g := NewEvidenceGenerator()
	g.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 123456789, time.UTC) }
	g.newID = func() string { return "ev-1" }
	p, err := g.Create("DEC-1", Actor{ID: "u-sup", Name: "Sam", Role: RoleSupervisor}, ActionApproved, "Verified with counterparty.", testSnapshot)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if p.ID != "ev-1" || p.ActorRole != RoleSupervisor || p.Action != ActionApproved {
		t.Fatalf("unexpected pack %+v", p)
	}
	if p.CreatedAt.Nanosecond()%1000 != 0 {
		t.Fatalf("timestamp not truncated to microseconds: %v", p.CreatedAt)
	}
	if err := VerifyEvidence(p); err != nil {
		t.Fatalf("verify: %v", err)
	}
	p.Justification = "Edited after the fact."
	err = VerifyEvidence(p)
	if err == nil || !IsIntegrity(err) {
		t.Fatalf("expected integrity error after tampering, got %v", err)
	}
	if VerifyEvidence(nil) == nil {
		t.Fatalf("nil pack must not verify")
	}
}

func TestDefaultGeneratorUsesUUIDs(t *testing.T) {
	g := NewEvidenceGenerator()
	a, _ := g.Create("DEC-1", Actor{ID: "u1"}, ActionEscalated, "needs compliance", testSnapshot)
	b, _ := g.Create("DEC-1", Actor{ID: "u1"}, ActionEscalated, "needs compliance", testSnapshot)
	if a.ID == b.ID || len(a.ID) != 36 {
		t.Fatalf("expected distinct uuids, got %q and %q", a.ID, b.ID)
	}
}
