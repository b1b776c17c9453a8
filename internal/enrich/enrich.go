// Package enrich builds complete incident records from raw API payloads:
// cache-first detail and activity lookups plus the derived age, SLA, and
// assignment fields reports consume.
package enrich

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"reportline/internal/cache"
	"reportline/internal/domain"
	"reportline/internal/normalize"
	"reportline/internal/timeutil"
)

// PendingSeverity is assumed when an incident has no severity yet.
const PendingSeverity = "Pending"

// Fetcher is the remote fetch capability the enricher depends on.
type Fetcher interface {
	GetIncident(ctx context.Context, id string) (domain.Raw, error)
	QueryActivityPages(ctx context.Context, id string) ([]domain.Raw, error)
}

// Enricher resolves incident details and activity histories, preferring the
// in-process memo, then the disk cache, then the remote API.
type Enricher struct {
	Fetcher Fetcher
	Cache   *cache.Cache
	// SLADays maps a severity to its SLA threshold in days.
	SLADays func(severity string) int
	Log     *slog.Logger
	Now     func() time.Time

	mu       sync.Mutex
	details  map[string]domain.Raw
	activity map[string]domain.ActivityRecord

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates an enricher over the given fetch capability and disk cache.
func New(f Fetcher, c *cache.Cache, slaDays func(string) int) *Enricher {
	if c == nil {
		c = cache.Disabled()
	}
	return &Enricher{
		Fetcher:  f,
		Cache:    c,
		SLADays:  slaDays,
		Log:      slog.Default(),
		Now:      time.Now,
		details:  map[string]domain.Raw{},
		activity: map[string]domain.ActivityRecord{},
	}
}

// CacheHits returns the number of lookups served from cache.
func (e *Enricher) CacheHits() int64 { return e.hits.Load() }

// CacheMisses returns the number of lookups that went to the API.
func (e *Enricher) CacheMisses() int64 { return e.misses.Load() }

// Options select what BuildRecord fetches and which instant ages are measured
// against. Exactly one reference applies per call: the resolution time when
// UseResolvedTime is set and the incident is resolved, else ReferenceTime,
// else the current time.
type Options struct {
	FetchDetail     bool
	FetchLastUpdate bool
	UseResolvedTime bool
	ReferenceTime   *time.Time
}

// BuildRecord flattens a raw incident and attaches every derived field.
// Missing timestamps and severities degrade to zero values; only remote fetch
// failures return an error.
func (e *Enricher) BuildRecord(ctx context.Context, raw domain.Raw, opts Options) (domain.Incident, error) {
	flat := normalize.Flatten(raw)
	id := normalize.String(flat, "incidentID", "id")
	modifiedTime := normalize.String(flat, "modifiedTime", "updatedAt")

	if opts.FetchDetail && id != "" {
		detail, err := e.FetchDetail(ctx, id, modifiedTime)
		if err != nil {
			return domain.Incident{}, err
		}
		flat = normalize.Flatten(detail)
	}

	created := parseField(flat, "createdAt", "createdTime")
	resolved := parseField(flat, "resolvedAt", "closedTime")

	var ref time.Time
	switch {
	case opts.UseResolvedTime && resolved != nil:
		ref = *resolved
	case opts.ReferenceTime != nil:
		ref = *opts.ReferenceTime
	default:
		ref = e.Now().UTC()
	}

	var ageHours float64
	if created != nil {
		ageHours = ref.Sub(*created).Hours()
	}
	ageDays := ageHours / 24

	severity := normalize.String(flat, "severity")
	if severity == "" {
		severity = PendingSeverity
	}
	slaDays := e.SLADays(severity)
	daysOverSLA := ageDays - float64(slaDays)

	membership := normalize.ExtractMembership(raw)

	inc := domain.Incident{
		ID:           id,
		Title:        normalize.String(flat, "title"),
		Slug:         normalize.String(flat, "slug"),
		Severity:     severity,
		Status:       normalize.String(flat, "status"),
		CreatedAt:    created,
		ResolvedAt:   resolved,
		ModifiedTime: modifiedTime,
		AgeHours:     ageHours,
		AgeDays:      ageDays,
		SLADays:      slaDays,
		DaysOverSLA:  daysOverSLA,
		OverSLA:      daysOverSLA >= 0,
		HasAssignee:  membership.HasAssignee,
		Assignee:     membership.Assignee,
		Teams:        membership.Teams,
		Assignees:    membership.Assignees,
		Raw:          flat,
	}

	if opts.FetchLastUpdate && id != "" {
		rec, err := e.FetchLastUpdate(ctx, id, modifiedTime)
		if err != nil {
			return domain.Incident{}, err
		}
		inc.LastUpdateTime = rec.LastUpdateTime
		inc.LastUpdateKind = rec.LastUpdateKind
		inc.LastUpdateBody = rec.LastUpdateBody
	}
	return inc, nil
}

// FetchDetail returns the full incident payload, cache-first. The fetched
// detail is persisted keyed by the incident's modifiedTime token so the entry
// self-invalidates when the incident changes upstream.
func (e *Enricher) FetchDetail(ctx context.Context, id, modifiedTime string) (domain.Raw, error) {
	memoKey := id + "|" + modifiedTime
	e.mu.Lock()
	memo, ok := e.details[memoKey]
	e.mu.Unlock()
	if ok {
		e.hits.Add(1)
		return memo, nil
	}
	if cached, ok := e.Cache.GetIncident(id, modifiedTime); ok {
		e.hits.Add(1)
		e.memoDetail(memoKey, cached)
		return cached, nil
	}
	e.misses.Add(1)

	detail, err := e.Fetcher.GetIncident(ctx, id)
	if err != nil {
		return nil, err
	}
	if modifiedTime != "" {
		e.Cache.SaveIncident(id, detail, modifiedTime)
	}
	e.memoDetail(memoKey, detail)
	return detail, nil
}

// FetchLastUpdate returns the first human touchpoint in an incident's
// activity history, newest first. The full item list is cached alongside so
// metric passes reuse it without another fetch. An incident with no human
// activity yields an empty record, not an error.
func (e *Enricher) FetchLastUpdate(ctx context.Context, id, modifiedTime string) (domain.ActivityRecord, error) {
	memoKey := id + "|" + modifiedTime
	e.mu.Lock()
	memo, ok := e.activity[memoKey]
	e.mu.Unlock()
	if ok {
		e.hits.Add(1)
		return memo, nil
	}
	if modifiedTime != "" {
		if cached, ok := e.Cache.GetActivity(id, modifiedTime); ok {
			e.hits.Add(1)
			e.memoActivity(memoKey, *cached)
			return *cached, nil
		}
	}
	e.misses.Add(1)

	items, err := e.Fetcher.QueryActivityPages(ctx, id)
	if err != nil {
		return domain.ActivityRecord{}, err
	}

	rec := domain.ActivityRecord{Items: items}
	for _, item := range items {
		author := normalize.Map(item, "user")
		if author == nil {
			author = normalize.Map(item, "createdBy")
		}
		if !normalize.IsHumanUser(author) {
			continue
		}
		eventTime := normalize.String(item, "eventTime", "createdTime")
		if eventTime == "" {
			continue
		}
		rec.LastUpdateTime = eventTime
		rec.LastUpdateKind = normalize.String(item, "activityKind", "eventType")
		rec.LastUpdateBody = normalize.String(item, "body", "text")
		break
	}

	if modifiedTime != "" {
		e.Cache.SaveActivity(id, rec, modifiedTime)
	}
	e.memoActivity(memoKey, rec)
	return rec, nil
}

// EnrichActive enriches active incidents, including their last human update.
func (e *Enricher) EnrichActive(ctx context.Context, incidents []domain.Raw, reference *time.Time) ([]domain.Incident, error) {
	return e.enrichAll(ctx, incidents, Options{FetchLastUpdate: true, ReferenceTime: reference})
}

// EnrichRecent enriches opened or resolved incidents. useResolvedTime
// measures age up to resolution instead of the reference instant.
func (e *Enricher) EnrichRecent(ctx context.Context, incidents []domain.Raw, useResolvedTime bool, reference *time.Time) ([]domain.Incident, error) {
	return e.enrichAll(ctx, incidents, Options{
		FetchLastUpdate: true,
		UseResolvedTime: useResolvedTime,
		ReferenceTime:   reference,
	})
}

func (e *Enricher) enrichAll(ctx context.Context, incidents []domain.Raw, opts Options) ([]domain.Incident, error) {
	out := make([]domain.Incident, 0, len(incidents))
	for _, raw := range incidents {
		inc, err := e.BuildRecord(ctx, raw, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

func (e *Enricher) memoDetail(key string, detail domain.Raw) {
	e.mu.Lock()
	e.details[key] = detail
	e.mu.Unlock()
}

func (e *Enricher) memoActivity(key string, rec domain.ActivityRecord) {
	e.mu.Lock()
	e.activity[key] = rec
	e.mu.Unlock()
}

func parseField(m domain.Raw, keys ...string) *time.Time {
	s := normalize.String(m, keys...)
	if s == "" {
		return nil
	}
	t, ok := timeutil.ParseTimestamp(s)
	if !ok {
		return nil
	}
	return &t
}
