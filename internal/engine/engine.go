// Package engine orchestrates one report run: resolve the window, load
// incident previews cache-first, split them into opened/resolved/active sets,
// enrich, render, archive, and deliver.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"reportline/internal/archive"
	"reportline/internal/cache"
	"reportline/internal/config"
	"reportline/internal/domain"
	"reportline/internal/enrich"
	"reportline/internal/irm"
	"reportline/internal/metrics"
	"reportline/internal/normalize"
	"reportline/internal/report"
	"reportline/internal/timeutil"
	"reportline/internal/webhook"
)

// Engine wires the full pipeline. Archive and Sender are optional; a nil
// archive skips run history and a nil sender skips chat delivery.
type Engine struct {
	Client    *irm.Client
	Cache     *cache.Cache
	Enricher  *enrich.Enricher
	Metrics   *metrics.Calculator
	Formatter *report.Formatter
	Archive   *archive.Repo
	Sender    *webhook.Sender
	Config    *config.Config
	Log       *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// New assembles an engine from config plus the already-constructed transport
// and storage pieces.
func New(cfg *config.Config, client *irm.Client, c *cache.Cache, repo *archive.Repo) Engine {
	enricher := enrich.New(client, c, cfg.SLADays)
	calc := metrics.New(enricher)
	zone := timeutil.Zone(cfg.Report.TimezoneOffsetHours)
	return Engine{
		Client:    client,
		Cache:     c,
		Enricher:  enricher,
		Metrics:   calc,
		Formatter: report.New(calc, cfg.Report.MaxActive, linkBaseURL(cfg), zone),
		Archive:   repo,
		Sender:    webhook.New(cfg.Webhooks),
		Config:    cfg,
		Log:       slog.Default(),
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
}

// Incident links fall back to the provider's IRM incident page when no
// explicit base is configured.
func linkBaseURL(cfg *config.Config) string {
	if cfg.Report.LinkBaseURL != "" {
		return cfg.Report.LinkBaseURL
	}
	return strings.TrimRight(cfg.Provider.URL, "/") + "/a/grafana-irm-app/incidents"
}

// Options select delivery and export behavior for one run.
type Options struct {
	NoChat       bool
	SaveMarkdown bool
	MarkdownPath string
}

// Result is the outcome of one report run.
type Result struct {
	Run          domain.Run
	Body         string
	Delivered    int
	MarkdownFile string
}

// Run generates the report for the window and performs the configured side
// effects. A fetch failure aborts the run; archive and delivery failures only
// log.
func (e Engine) Run(ctx context.Context, w timeutil.Window, opts Options) (Result, error) {
	previews, err := e.loadPreviews(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load incident previews: %w", err)
	}
	e.Log.Info("previews loaded", "count", len(previews), "window", w.Kind,
		"start", w.Start.Format(time.RFC3339), "end", w.End.Format(time.RFC3339))

	openedRaw, resolvedRaw, activeRaw := splitWindow(previews, w)

	// Weekly and monthly reports measure every age against the window end so
	// a late run reproduces the same report; daily reports use now.
	var ref *time.Time
	if w.Kind != "daily" {
		ref = &w.End
	}

	opened, err := e.Enricher.EnrichRecent(ctx, openedRaw, false, ref)
	if err != nil {
		return Result{}, fmt.Errorf("enrich opened: %w", err)
	}
	resolved, err := e.Enricher.EnrichRecent(ctx, resolvedRaw, true, ref)
	if err != nil {
		return Result{}, fmt.Errorf("enrich resolved: %w", err)
	}
	active, err := e.Enricher.EnrichActive(ctx, activeRaw, ref)
	if err != nil {
		return Result{}, fmt.Errorf("enrich active: %w", err)
	}

	var body string
	switch w.Kind {
	case "daily":
		body = e.Formatter.Daily(opened, resolved, active)
	case "monthly":
		body = e.Formatter.Monthly(ctx, opened, resolved, active, w, e.currentActive(previews))
	default:
		body = e.Formatter.Weekly(ctx, opened, resolved, active, w, e.currentActive(previews))
	}

	run := e.buildRun(ctx, w, opened, resolved, active, body)
	if e.Archive != nil {
		if err := e.Archive.SaveRun(ctx, run); err != nil {
			e.Log.Warn("archive run failed", "run", run.ID, "err", err)
		}
	}

	res := Result{Run: run, Body: body}
	if opts.SaveMarkdown {
		file, err := e.saveMarkdown(w, body, opts.MarkdownPath)
		if err != nil {
			e.Log.Warn("markdown export failed", "err", err)
		} else {
			res.MarkdownFile = file
		}
	}
	if e.Sender != nil && !opts.NoChat {
		res.Delivered = e.Sender.Send(ctx, body)
	}
	return res, nil
}

// WarmCache fetches previews fresh and enriches every incident from January 1
// of the current year through yesterday, populating detail and activity
// caches for later runs.
func (e Engine) WarmCache(ctx context.Context) (int, error) {
	previews, err := e.Client.QueryIncidentPreviews(ctx, domain.Raw{}, true)
	if err != nil {
		return 0, fmt.Errorf("fetch previews: %w", err)
	}
	e.Cache.SavePreviewList(previews)

	zone := timeutil.Zone(e.Config.Report.TimezoneOffsetHours)
	now := e.Now().In(zone)
	start := time.Date(now.Year(), 1, 1, 0, 0, 0, 0, zone)
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, zone)
	w := timeutil.Window{Kind: "range", Start: start.UTC(), End: end.UTC()}

	warmed := 0
	for _, raw := range previews {
		flat := normalize.Flatten(raw)
		created := createdAt(flat)
		if created != nil && !w.Contains(*created) {
			continue
		}
		if _, err := e.Enricher.BuildRecord(ctx, raw, enrich.Options{FetchDetail: true, FetchLastUpdate: true}); err != nil {
			return warmed, fmt.Errorf("warm incident %s: %w", normalize.String(flat, "incidentID", "id"), err)
		}
		warmed++
	}
	e.Log.Info("cache warmed", "incidents", warmed, "previews", len(previews))
	return warmed, nil
}

func (e Engine) loadPreviews(ctx context.Context) ([]domain.Raw, error) {
	ttl := time.Duration(e.Config.Cache.PreviewTTLHours) * time.Hour
	if cached, ok := e.Cache.GetPreviewList(ttl); ok {
		e.Log.Debug("preview list served from cache", "count", len(cached))
		return cached, nil
	}
	previews, err := e.Client.QueryIncidentPreviews(ctx, domain.Raw{}, true)
	if err != nil {
		return nil, err
	}
	e.Cache.SavePreviewList(previews)
	return previews, nil
}

// splitWindow classifies previews against the window: opened (created inside),
// resolved (resolved inside), and active at window end (created before the end
// and not yet resolved by it; previews with no created timestamp count as
// active while their status says so).
func splitWindow(previews []domain.Raw, w timeutil.Window) (opened, resolved, active []domain.Raw) {
	for _, raw := range previews {
		flat := normalize.Flatten(raw)
		created := createdAt(flat)
		closed := resolvedAt(flat)

		if created != nil && w.Contains(*created) {
			opened = append(opened, raw)
		}
		if closed != nil && w.Contains(*closed) {
			resolved = append(resolved, raw)
		}
		if activeAt(flat, created, closed, w.End) {
			active = append(active, raw)
		}
	}
	return opened, resolved, active
}

func activeAt(flat domain.Raw, created, closed *time.Time, end time.Time) bool {
	if created != nil {
		return created.Before(end) && (closed == nil || !closed.Before(end))
	}
	status := strings.ToLower(normalize.String(flat, "status"))
	return status == "active" || status == "open"
}

func (e Engine) currentActive(previews []domain.Raw) *int {
	now := e.Now().UTC()
	count := 0
	for _, raw := range previews {
		flat := normalize.Flatten(raw)
		if activeAt(flat, createdAt(flat), resolvedAt(flat), now) {
			count++
		}
	}
	return &count
}

func (e Engine) buildRun(ctx context.Context, w timeutil.Window, opened, resolved, active []domain.Incident, body string) domain.Run {
	stats := metrics.ComputeStats(active)
	calcTime := w.End
	return domain.Run{
		ID:           e.NewID(),
		Kind:         w.Kind,
		WindowStart:  w.Start.Format(time.RFC3339),
		WindowEnd:    w.End.Format(time.RFC3339),
		Opened:       len(opened),
		Resolved:     len(resolved),
		Active:       len(active),
		OverSLA:      stats.OverSLA,
		MTTRHours:    e.Metrics.MTTR(resolved, nil),
		MTTDHours:    e.Metrics.MTTD(ctx, resolved),
		OldestHours:  e.Metrics.OldestActiveAge(active, &calcTime),
		CacheHits:    e.Enricher.CacheHits(),
		CacheMisses:  e.Enricher.CacheMisses(),
		APICallCount: e.Client.APICallCount(),
		Body:         body,
		CreatedAt:    e.Now().UTC().Format(time.RFC3339),
	}
}

func (e Engine) saveMarkdown(w timeutil.Window, body, dir string) (string, error) {
	if dir == "" {
		dir = "report"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	var name string
	switch w.Kind {
	case "daily":
		name = "REPORT_DAILY_" + w.Start.In(timeutil.Zone(e.Config.Report.TimezoneOffsetHours)).Format("2006-01-02") + ".md"
	case "monthly":
		name = "REPORT_MONTHLY_" + w.Start.UTC().Format("2006-01") + ".md"
	default:
		name = fmt.Sprintf("REPORT_WEEKLY_%s_%s.md",
			w.Start.UTC().Format("2006-01-02"),
			w.End.AddDate(0, 0, -1).UTC().Format("2006-01-02"))
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func createdAt(flat domain.Raw) *time.Time {
	return parseField(flat, "createdAt", "createdTime")
}

func resolvedAt(flat domain.Raw) *time.Time {
	return parseField(flat, "resolvedAt", "closedTime")
}

func parseField(flat domain.Raw, keys ...string) *time.Time {
	s := normalize.String(flat, keys...)
	if s == "" {
		return nil
	}
	t, ok := timeutil.ParseTimestamp(s)
	if !ok {
		return nil
	}
	return &t
}
