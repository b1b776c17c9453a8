package normalize

import (
	"testing"

	"reportline/internal/domain"
)

func TestFlattenPrecedence(t *testing.T) {
	raw := domain.Raw{
		"incident":        map[string]any{"title": "from incident", "severity": "Minor"},
		"incidentPreview": map[string]any{"title": "from preview"},
		"data":            map[string]any{"status": "active"},
		"incidentID":      "42",
	}
	flat := Flatten(raw)
	// Later wrappers override earlier ones; bare payload wins over all.
	if flat["title"] != "from preview" {
		t.Fatalf("title = %v", flat["title"])
	}
	if flat["severity"] != "Minor" {
		t.Fatalf("severity = %v", flat["severity"])
	}
	if flat["status"] != "active" {
		t.Fatalf("status = %v", flat["status"])
	}
	if flat["incidentID"] != "42" {
		t.Fatalf("incidentID = %v", flat["incidentID"])
	}
}

func TestFlattenBarePayloadWins(t *testing.T) {
	raw := domain.Raw{
		"incident": map[string]any{"title": "nested"},
		"title":    "bare",
	}
	if got := Flatten(raw)["title"]; got != "bare" {
		t.Fatalf("title = %v", got)
	}
}

func TestFlattenSeverityLabelFallback(t *testing.T) {
	flat := Flatten(domain.Raw{"severityLabel": "Major"})
	if flat["severity"] != "Major" {
		t.Fatalf("severity = %v", flat["severity"])
	}

	// Canonical key wins when both are present.
	flat = Flatten(domain.Raw{"severity": "Critical", "severityLabel": "Major"})
	if flat["severity"] != "Critical" {
		t.Fatalf("severity = %v", flat["severity"])
	}
}

func TestIsHumanUser(t *testing.T) {
	cases := []struct {
		user domain.Raw
		want bool
	}{
		{nil, false},
		{domain.Raw{}, false},
		{domain.Raw{"name": ""}, false},
		{domain.Raw{"name": "   "}, false},
		{domain.Raw{"name": "Service Account sa-grafana"}, false},
		{domain.Raw{"name": "Pager Bot"}, false},
		{domain.Raw{"name": "robot-deployer"}, false},
		{domain.Raw{"name": "Alice Nguyen"}, true},
		{domain.Raw{"name": "bo"}, true},
	}
	for _, tc := range cases {
		if got := IsHumanUser(tc.user); got != tc.want {
			t.Fatalf("IsHumanUser(%v) = %v, want %v", tc.user, got, tc.want)
		}
	}
}

func TestExtractMembershipFull(t *testing.T) {
	raw := domain.Raw{
		"incidentMembership": map[string]any{
			"users": []any{
				map[string]any{"user": map[string]any{"name": "Pager Bot"}},
				map[string]any{"user": map[string]any{"name": "Alice Nguyen"}},
			},
		},
	}
	m := ExtractMembership(raw)
	if !m.HasAssignee {
		t.Fatal("expected assignee")
	}
	if m.Assignee != "Alice" {
		t.Fatalf("assignee = %q, want first name of first human", m.Assignee)
	}
	if len(m.Assignees) != 2 {
		t.Fatalf("assignees = %d", len(m.Assignees))
	}
}

func TestExtractMembershipPreviewFallback(t *testing.T) {
	raw := domain.Raw{
		"incidentMembershipPreview": map[string]any{
			"importantAssignments": []any{
				map[string]any{"user": map[string]any{"name": "Bob Chen"}},
			},
		},
	}
	m := ExtractMembership(raw)
	if !m.HasAssignee || m.Assignee != "Bob" {
		t.Fatalf("membership = %+v", m)
	}
	if len(m.Assignees) != 1 {
		t.Fatalf("assignees = %d, want the preview assignment", len(m.Assignees))
	}
}

func TestExtractMembershipTeamsCountAsAssigned(t *testing.T) {
	raw := domain.Raw{
		"incidentMembership": map[string]any{
			"teams": []any{map[string]any{"name": "platform"}},
			"users": []any{
				map[string]any{"user": map[string]any{"name": "Deploy Bot"}},
			},
		},
	}
	m := ExtractMembership(raw)
	if !m.HasAssignee {
		t.Fatal("team assignment should count")
	}
	if m.Assignee != "" {
		t.Fatalf("bot-only assignees should give no display name, got %q", m.Assignee)
	}
}

func TestExtractMembershipNone(t *testing.T) {
	m := ExtractMembership(domain.Raw{"title": "no members"})
	if m.HasAssignee || m.Assignee != "" {
		t.Fatalf("membership = %+v", m)
	}
}

func TestHelpers(t *testing.T) {
	m := domain.Raw{"a": "", "b": "x", "n": 3, "list": []any{map[string]any{"k": 1}, "junk"}}
	if got := String(m, "a", "b"); got != "x" {
		t.Fatalf("String = %q", got)
	}
	if got := String(m, "n"); got != "" {
		t.Fatalf("non-string should yield empty, got %q", got)
	}
	if got := List(m, "list"); len(got) != 1 {
		t.Fatalf("List should skip non-map entries, got %d", len(got))
	}
	converted := domain.Raw{"list": []domain.Raw{{"k": 1}, {"k": 2}}}
	if got := List(converted, "list"); len(got) != 2 {
		t.Fatalf("List should accept converted lists, got %d", len(got))
	}
	if Map(nil, "x") != nil {
		t.Fatal("Map on nil should be nil")
	}
}
