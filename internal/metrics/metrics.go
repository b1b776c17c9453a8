// Package metrics computes aggregate reliability statistics over enriched
// incident sets: MTTR, MTTD (mean time to de-escalation), oldest-active age,
// daily breakdowns, and active-set summaries.
package metrics

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"reportline/internal/domain"
	"reportline/internal/normalize"
	"reportline/internal/timeutil"
)

// ActivitySource resolves an incident's activity history, cache-first. The
// enricher satisfies this, so metric passes reuse activity already fetched
// for last-update scans.
type ActivitySource interface {
	FetchLastUpdate(ctx context.Context, id, modifiedTime string) (domain.ActivityRecord, error)
}

// Calculator derives metrics from enriched incidents. Activity may be nil,
// in which case de-escalation metrics are absent.
type Calculator struct {
	Activity ActivitySource
	Log      *slog.Logger
}

// New creates a calculator sharing the given activity source.
func New(activity ActivitySource) *Calculator {
	return &Calculator{Activity: activity, Log: slog.Default()}
}

// MTTR returns mean time to resolve in hours. When opened is non-nil, only
// incidents appearing in both sets count (complete lifecycle inside one
// window); otherwise every resolved incident with both timestamps counts.
// Nil when no incident qualifies.
func (c *Calculator) MTTR(resolved, opened []domain.Incident) *float64 {
	var openedIDs map[string]struct{}
	if opened != nil {
		openedIDs = make(map[string]struct{}, len(opened))
		for _, inc := range opened {
			openedIDs[inc.ID] = struct{}{}
		}
	}
	var durations []float64
	for _, inc := range resolved {
		if openedIDs != nil {
			if _, ok := openedIDs[inc.ID]; !ok {
				continue
			}
		}
		if inc.CreatedAt == nil || inc.ResolvedAt == nil {
			continue
		}
		durations = append(durations, inc.ResolvedAt.Sub(*inc.CreatedAt).Hours())
	}
	return mean(durations)
}

var (
	highSeverities = []string{"critical", "major"}
	lowSeverities  = []string{"minor", "low"}
)

// IsDeescalation reports whether a severity change downgrades from
// Critical/Major to Minor/Low.
func IsDeescalation(oldSeverity, newSeverity string) bool {
	return slices.Contains(highSeverities, strings.ToLower(oldSeverity)) &&
		slices.Contains(lowSeverities, strings.ToLower(newSeverity))
}

// FirstDeescalation returns the hours from createdAt to the first severity
// de-escalation in the incident's activity history, or nil when none exists.
// The scan sorts items chronologically first, so input ordering is
// irrelevant. Any missing data or fetch failure yields nil, never an error.
func (c *Calculator) FirstDeescalation(ctx context.Context, id string, createdAt time.Time, modifiedTime string) *float64 {
	if c.Activity == nil {
		return nil
	}
	rec, err := c.Activity.FetchLastUpdate(ctx, id, modifiedTime)
	if err != nil {
		c.Log.Debug("de-escalation scan skipped", "incident", id, "err", err)
		return nil
	}

	items := append([]domain.Raw(nil), rec.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return eventTimeKey(items[i]) < eventTimeKey(items[j])
	})

	for _, item := range items {
		eventType := normalize.String(item, "eventType", "activityKind")
		if !strings.Contains(strings.ToLower(eventType), "severity") && eventType != "incidentFieldsUpdated" {
			continue
		}
		updates := normalize.List(item, "fieldUpdates")
		if len(updates) == 0 {
			updates = normalize.List(item, "updates")
		}
		for _, update := range updates {
			fieldName := normalize.String(update, "fieldName", "field")
			if !strings.Contains(strings.ToLower(fieldName), "severity") {
				continue
			}
			oldSev := normalize.String(update, "previousValue", "oldValue")
			newSev := normalize.String(update, "newValue", "value")
			if !IsDeescalation(oldSev, newSev) {
				continue
			}
			eventTime, ok := timeutil.ParseTimestamp(normalize.String(item, "eventTime", "createdTime", "createdAt"))
			if !ok {
				continue
			}
			hours := eventTime.Sub(createdAt).Hours()
			return &hours
		}
	}
	return nil
}

// MTTD returns mean time to de-escalation in hours over incidents that have
// an id and a created timestamp, or nil when none de-escalated.
func (c *Calculator) MTTD(ctx context.Context, incidents []domain.Incident) *float64 {
	var hours []float64
	for _, inc := range incidents {
		if inc.ID == "" || inc.CreatedAt == nil {
			continue
		}
		if h := c.FirstDeescalation(ctx, inc.ID, *inc.CreatedAt, inc.ModifiedTime); h != nil {
			hours = append(hours, *h)
		}
	}
	return mean(hours)
}

// OldestActiveAge returns the age in hours of the oldest incident in the set,
// measured against reference (default: now). Nil when the set is empty or no
// incident has a positive age.
func (c *Calculator) OldestActiveAge(active []domain.Incident, reference *time.Time) *float64 {
	ref := time.Now().UTC()
	if reference != nil {
		ref = *reference
	}
	oldest := 0.0
	for _, inc := range active {
		if inc.CreatedAt == nil {
			continue
		}
		if age := ref.Sub(*inc.CreatedAt).Hours(); age > oldest {
			oldest = age
		}
	}
	if oldest <= 0 {
		return nil
	}
	return &oldest
}

// DailyBreakdown counts opened incidents per UTC calendar date. Every date in
// the window is initialized to zero; creations outside the initialized range
// are skipped.
func (c *Calculator) DailyBreakdown(opened []domain.Incident, w timeutil.Window) map[string]int {
	counts := map[string]int{}
	for d := w.Start; d.Before(w.End); d = d.Add(24 * time.Hour) {
		counts[d.UTC().Format("2006-01-02")] = 0
	}
	for _, inc := range opened {
		if inc.CreatedAt == nil {
			continue
		}
		key := inc.CreatedAt.UTC().Format("2006-01-02")
		if _, ok := counts[key]; ok {
			counts[key]++
		}
	}
	return counts
}

// ActiveStats summarizes an active incident set.
type ActiveStats struct {
	Total           int `json:"total"`
	WithoutSeverity int `json:"without_severity"`
	WithoutAssignee int `json:"without_assignee"`
	MissingUpdates  int `json:"missing_updates"`
	OverSLA         int `json:"over_sla"`
}

// ComputeStats tallies the summary counters for a set of incidents.
func ComputeStats(items []domain.Incident) ActiveStats {
	stats := ActiveStats{Total: len(items)}
	for _, inc := range items {
		if inc.Severity == "" || inc.Severity == "Pending" {
			stats.WithoutSeverity++
		}
		if !inc.HasAssignee {
			stats.WithoutAssignee++
		}
		if inc.LastUpdateTime == "" {
			stats.MissingUpdates++
		}
		if inc.OverSLA {
			stats.OverSLA++
		}
	}
	return stats
}

var severityRank = map[string]int{"Critical": 0, "Major": 1, "Minor": 2, "Pending": 3}

// SortActive returns incidents ordered by attention priority: over-SLA first,
// most days over SLA, then severity, then age.
func SortActive(items []domain.Incident) []domain.Incident {
	sorted := append([]domain.Incident(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.OverSLA != b.OverSLA {
			return a.OverSLA
		}
		if a.DaysOverSLA != b.DaysOverSLA {
			return a.DaysOverSLA > b.DaysOverSLA
		}
		ra, rb := rankSeverity(a.Severity), rankSeverity(b.Severity)
		if ra != rb {
			return ra < rb
		}
		return a.AgeDays > b.AgeDays
	})
	return sorted
}

func rankSeverity(severity string) int {
	if rank, ok := severityRank[severity]; ok {
		return rank
	}
	return 4
}

func eventTimeKey(item domain.Raw) string {
	return normalize.String(item, "eventTime", "createdTime")
}

func mean(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	avg := sum / float64(len(values))
	return &avg
}
