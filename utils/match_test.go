package utils

import "testing"

func TestMatchArea(t *testing.T) {
	cases := []struct {
		value, pattern string
		want           bool
	}{
		{"DECISION_QUEUE", "DECISION_QUEUE", true},
		{"DECISION_QUEUE", "decision_queue", true},
		{"GROUP_CONSOLIDATED", "GROUP_*", true},
		{"PLATFORM_ADMIN_CONSOLE", "*_CONSOLE", true},
		{"PLATFORM_ADMIN_CONSOLE", "*ADMIN*", true},
		{"ENTITY_ADMIN", "*ADMIN*", true},
		{"EVIDENCE_VAULT", "GROUP_*", false},
		{"DASHBOARD", "*", true},
		{"DASHBOARD", "DASH", false},
		{"DASH", "DASHBOARD", false},
	}
	for _, c := range cases {
		if got := MatchArea(c.value, c.pattern); got != c.want {
			t.Fatalf("MatchArea(%q, %q) = %v, want %v", c.value, c.pattern, got, c.want)
		}
	}
}

func TestExpandPatterns(t *testing.T) {
	got := ExpandPatterns([]string{"A_ONE", "B_TWO", "A_THREE"}, []string{"A_*", "A_ONE"})
	if len(got) != 2 || got[0] != "A_ONE" || got[1] != "A_THREE" {
		t.Fatalf("unexpected expansion %v", got)
	}
}
