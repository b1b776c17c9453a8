// Package normalize reconciles the inconsistent payload shapes the IRM API
// returns for the same logical incident.
package normalize

import (
	"strings"

	"reportline/internal/domain"
)

// wrapperKeys are the nesting shapes an incident payload may arrive in, in
// merge order: later sources override earlier ones on key collision, and the
// bare payload always wins.
var wrapperKeys = []string{"incident", "incidentPreview", "data"}

// Flatten merges the possible wrapper shapes of an incident payload into one
// record. The alternate severityLabel field fills severity only when the
// canonical key is absent.
func Flatten(raw domain.Raw) domain.Raw {
	merged := domain.Raw{}
	for _, key := range wrapperKeys {
		if nested, ok := raw[key].(map[string]any); ok {
			for k, v := range nested {
				merged[k] = v
			}
		}
	}
	for k, v := range raw {
		merged[k] = v
	}
	if _, ok := merged["severity"]; !ok {
		if label := String(merged, "severityLabel"); label != "" {
			merged["severity"] = label
		}
	}
	return merged
}

// IsHumanUser reports whether a user payload names a human rather than a bot
// or service account.
func IsHumanUser(user domain.Raw) bool {
	if user == nil {
		return false
	}
	name := strings.ToLower(strings.TrimSpace(String(user, "name")))
	if name == "" {
		return false
	}
	if strings.HasPrefix(name, "service account") {
		return false
	}
	if strings.Contains(name, "bot") {
		return false
	}
	return true
}

// ExtractMembership pulls assignment info from an incident payload, falling
// back to the membership preview summary when full membership is absent.
func ExtractMembership(raw domain.Raw) domain.Membership {
	flat := Flatten(raw)
	members := Map(flat, "incidentMembership")
	if members == nil {
		if preview := Map(flat, "incidentMembershipPreview"); preview != nil {
			if important := List(preview, "importantAssignments"); len(important) > 0 {
				members = domain.Raw{"assignments": important}
			}
		}
	}
	if members == nil {
		members = domain.Raw{}
	}

	assignees := List(members, "users")
	if len(assignees) == 0 {
		assignees = List(members, "assignments")
	}
	teams := List(members, "teams")

	hasAssignee := len(teams) > 0
	if !hasAssignee {
		for _, assignment := range assignees {
			if IsHumanUser(Map(assignment, "user")) {
				hasAssignee = true
				break
			}
		}
	}

	// First human assignee's first name token, in assignment order.
	display := ""
	for _, assignment := range assignees {
		user := Map(assignment, "user")
		name := strings.TrimSpace(String(user, "name"))
		if name == "" || !IsHumanUser(user) {
			continue
		}
		display = strings.Fields(name)[0]
		break
	}

	return domain.Membership{
		HasAssignee: hasAssignee,
		Teams:       teams,
		Assignees:   assignees,
		Assignee:    display,
	}
}

// String returns the first non-empty string value under the given keys.
func String(m domain.Raw, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// Map returns the value under key as a payload map, or nil.
func Map(m domain.Raw, key string) domain.Raw {
	if m == nil {
		return nil
	}
	nested, _ := m[key].(map[string]any)
	return nested
}

// List returns the value under key as a slice of payload maps, skipping
// entries of other types. Accepts both decoded JSON lists and lists that
// were already converted, such as the reassembled preview assignments.
func List(m domain.Raw, key string) []domain.Raw {
	if m == nil {
		return nil
	}
	switch items := m[key].(type) {
	case []domain.Raw:
		return items
	case []any:
		out := make([]domain.Raw, 0, len(items))
		for _, item := range items {
			if entry, ok := item.(map[string]any); ok {
				out = append(out, entry)
			}
		}
		return out
	}
	return nil
}
