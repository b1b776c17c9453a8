package domain

import "time"

// Raw is an incident or activity payload as returned by the IRM API. Response
// shapes vary by endpoint and API version, so raw payloads stay schemaless
// until normalization.
type Raw = map[string]any

// Incident is a flattened, enriched incident record. Raw keeps every upstream
// field; the typed fields are derived during enrichment and win on collision.
type Incident struct {
	ID           string     `json:"incident_id"`
	Title        string     `json:"title,omitempty"`
	Slug         string     `json:"slug,omitempty"`
	Severity     string     `json:"severity"`
	Status       string     `json:"status,omitempty"`
	CreatedAt    *time.Time `json:"created_at,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ModifiedTime string     `json:"modified_time,omitempty"`

	AgeHours    float64 `json:"age_hours"`
	AgeDays     float64 `json:"age_days"`
	SLADays     int     `json:"sla_days"`
	DaysOverSLA float64 `json:"days_over_sla"`
	OverSLA     bool    `json:"over_sla"`

	HasAssignee bool   `json:"has_assignee"`
	Assignee    string `json:"assignee,omitempty"`
	Teams       []Raw  `json:"teams,omitempty"`
	Assignees   []Raw  `json:"assignees,omitempty"`

	LastUpdateTime string `json:"last_update_time,omitempty"`
	LastUpdateKind string `json:"last_update_kind,omitempty"`
	LastUpdateBody string `json:"last_update_body,omitempty"`

	Raw Raw `json:"-"`
}

// Membership is the assignment summary extracted from an incident payload.
type Membership struct {
	HasAssignee bool   `json:"has_assignee"`
	Teams       []Raw  `json:"teams"`
	Assignees   []Raw  `json:"assignees"`
	Assignee    string `json:"assignee,omitempty"`
}

// ActivityRecord is the cached result of an activity-history scan: the first
// human touchpoint plus the full item list so later metric passes reuse it
// without refetching.
type ActivityRecord struct {
	LastUpdateTime string `json:"last_update_time,omitempty"`
	LastUpdateKind string `json:"last_update_kind,omitempty"`
	LastUpdateBody string `json:"last_update_body,omitempty"`
	Items          []Raw  `json:"activityItems"`
}

// Run is one archived report run.
type Run struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	WindowStart  string   `json:"window_start"`
	WindowEnd    string   `json:"window_end"`
	Opened       int      `json:"opened"`
	Resolved     int      `json:"resolved"`
	Active       int      `json:"active"`
	OverSLA      int      `json:"over_sla"`
	MTTRHours    *float64 `json:"mttr_hours,omitempty"`
	MTTDHours    *float64 `json:"mttd_hours,omitempty"`
	OldestHours  *float64 `json:"oldest_active_hours,omitempty"`
	CacheHits    int64    `json:"cache_hits"`
	CacheMisses  int64    `json:"cache_misses"`
	APICallCount int64    `json:"api_calls"`
	Body         string   `json:"body,omitempty"`
	CreatedAt    string   `json:"created_at"`
}
