// Package report renders daily, weekly, and monthly incident report bodies.
// Output is lightweight HTML suitable for chat cards and terminals alike.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"reportline/internal/domain"
	"reportline/internal/metrics"
	"reportline/internal/timeutil"
)

const (
	separator   = "========================================"
	rule        = "----------------------------------------"
	maxTitleLen = 65
)

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Formatter renders report bodies from enriched incident sets.
type Formatter struct {
	Metrics *metrics.Calculator
	// MaxActive caps the active-incident listing; 0 shows everything.
	MaxActive   int
	LinkBaseURL string
	// Zone frames daily report headers and relative update times.
	Zone *time.Location
	Now  func() time.Time
}

// New creates a formatter. zone defaults to the standard reporting zone.
func New(calc *metrics.Calculator, maxActive int, linkBaseURL string, zone *time.Location) *Formatter {
	if zone == nil {
		zone = timeutil.DefaultZone
	}
	return &Formatter{
		Metrics:     calc,
		MaxActive:   maxActive,
		LinkBaseURL: strings.TrimRight(linkBaseURL, "/"),
		Zone:        zone,
		Now:         time.Now,
	}
}

// Daily renders the daily report: summary counters plus active, opened, and
// resolved listings.
func (f *Formatter) Daily(opened, resolved, active []domain.Incident) string {
	today := f.Now().In(f.Zone)
	stats := metrics.ComputeStats(active)

	var b builder
	b.line(separator)
	b.line("📊 <b>Daily Incident Report</b>")
	b.linef("📅 %d-%s (GMT+7)", today.Day(), today.Format("Jan-2006"))
	b.line(separator)
	b.line("")
	b.line("📋 <b>Summary</b>")
	b.line(rule)
	b.linef("• 🔥 Total Active: %d", stats.Total)
	if stats.WithoutSeverity > 0 {
		b.linef("• ❓ Without Severity: %d", stats.WithoutSeverity)
	}
	if stats.WithoutAssignee > 0 {
		b.linef("• ❌👤 Without Assignee: %d", stats.WithoutAssignee)
	}
	if stats.MissingUpdates > 0 {
		b.linef("• 📝 Missing Status Updates: %d", stats.MissingUpdates)
	}
	b.linef("• ⏰ Over SLA: %d", stats.OverSLA)
	b.linef("• 🆕 Opened Yesterday: %d", len(opened))
	b.linef("• ✅ Resolved Yesterday: %d", len(resolved))
	b.line("")

	f.activeSection(&b, active)
	f.listSection(&b, fmt.Sprintf("🔴 <b>Opened Yesterday</b>: %d", len(opened)), opened)
	b.line("")
	f.listSection(&b, fmt.Sprintf("✅ <b>Resolved Yesterday</b>: %d", len(resolved)), resolved)
	return b.String()
}

// Weekly renders the weekly report for the given window. currentActive, when
// non-nil, is the open-incident count at generation time rather than at
// window end.
func (f *Formatter) Weekly(ctx context.Context, opened, resolved, active []domain.Incident, w timeutil.Window, currentActive *int) string {
	return f.periodic(ctx, opened, resolved, active, w, periodLabels{
		title:     "Weekly Incident Report",
		dateLine:  weekRange(w),
		period:    "Week",
		periodLow: "week",
		breakdown: true,
	}, currentActive)
}

// Monthly renders the monthly report for the given window.
func (f *Formatter) Monthly(ctx context.Context, opened, resolved, active []domain.Incident, w timeutil.Window, currentActive *int) string {
	lastDay := w.End.AddDate(0, 0, -1).UTC()
	return f.periodic(ctx, opened, resolved, active, w, periodLabels{
		title:     "Monthly Incident Report",
		dateLine:  lastDay.Format("January 2006"),
		period:    "Month",
		periodLow: "month",
	}, currentActive)
}

type periodLabels struct {
	title     string
	dateLine  string
	period    string
	periodLow string
	breakdown bool
}

func (f *Formatter) periodic(ctx context.Context, opened, resolved, active []domain.Incident, w timeutil.Window, labels periodLabels, currentActive *int) string {
	stats := metrics.ComputeStats(active)
	calcTime := w.End

	openedIDs := make(map[string]struct{}, len(opened))
	criticalOpened := 0
	for _, inc := range opened {
		openedIDs[inc.ID] = struct{}{}
		if strings.EqualFold(inc.Severity, "critical") {
			criticalOpened++
		}
	}
	openedAndResolved := 0
	for _, inc := range resolved {
		if _, ok := openedIDs[inc.ID]; ok {
			openedAndResolved++
		}
	}

	mttr := f.Metrics.MTTR(resolved, nil)
	mttd := f.Metrics.MTTD(ctx, resolved)
	oldest := f.Metrics.OldestActiveAge(active, &calcTime)

	// Incidents active at window end, minus opened, plus resolved, is the
	// count the window started with.
	carryOver := stats.Total - len(opened) + len(resolved)
	netChange := stats.Total - carryOver

	var b builder
	b.line(separator)
	b.linef("📊 <b>%s</b>", labels.title)
	b.linef("📅 %s (UTC)", labels.dateLine)
	b.line(separator)
	b.line("")
	b.line("📋 <b>Summary</b>")
	b.line(rule)

	b.line("📊 <b>Current Status</b>")
	if currentActive != nil {
		b.linef("• 🔥 Current Open Incidents: %d", *currentActive)
	}
	sign := ""
	if netChange >= 0 {
		sign = "+"
	}
	b.linef("• 🔥 Total Active (end of %s): %d (%s%d from last %s)", labels.periodLow, stats.Total, sign, netChange, labels.periodLow)
	switch {
	case stats.Total == 0 || oldest == nil:
		b.line("• ⏳ Oldest Active: -")
	case *oldest < 24:
		b.linef("• ⏳ Oldest Active: %.1f hours", *oldest)
	default:
		b.linef("• ⏳ Oldest Active: %.1f days", *oldest/24)
	}
	b.linef("• ⏰ Over SLA: %d", stats.OverSLA)
	b.linef("• ❌👤 Without Assignee: %d", stats.WithoutAssignee)
	b.line("")

	b.linef("📈 <b>%sly Activity</b>", labels.period)
	b.linef("• 🔄 Started with: %d incident%s", carryOver, plural(carryOver))
	b.linef("• 🆕 Opened This %s: %d", labels.period, len(opened))
	b.linef("  ↳ 🔴 Critical: %d", criticalOpened)
	b.linef("• ✅ Resolved This %s: %d", labels.period, len(resolved))
	b.linef("  ↳ Opened & Resolved in %s: %d", labels.period, openedAndResolved)
	b.line("")

	b.line("⏱️ <b>Performance Metrics</b>")
	b.line("• MTTR: " + hoursOrDash(mttr, len(resolved)))
	b.line("• MTTD: " + hoursOrDash(mttd, len(resolved)))
	b.line("")

	if labels.breakdown {
		breakdown := f.Metrics.DailyBreakdown(opened, w)
		keys := make([]string, 0, len(breakdown))
		for k := range breakdown {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.line("📅 <b>Daily Breakdown</b>")
		b.line(rule)
		for _, key := range keys {
			count := breakdown[key]
			day, err := time.Parse("2006-01-02", key)
			label := key
			if err == nil {
				label = day.Format("Mon 02 Jan")
			}
			b.linef("  %s: %d incident%s", label, count, plural(count))
		}
		b.line("")
	}

	f.activeSection(&b, active)
	f.listSection(&b, fmt.Sprintf("🔴 <b>Opened This %s</b>: %d", labels.period, len(opened)), opened)
	b.line("")
	f.listSection(&b, fmt.Sprintf("✅ <b>Resolved This %s</b>: %d", labels.period, len(resolved)), resolved)
	return b.String()
}

func (f *Formatter) activeSection(b *builder, active []domain.Incident) {
	sorted := metrics.SortActive(active)
	top := sorted
	if f.MaxActive > 0 && len(sorted) > f.MaxActive {
		top = sorted[:f.MaxActive]
	}
	if f.MaxActive > 0 {
		b.linef("🔥 <b>Active Incidents</b> — showing %d of %d", len(top), len(active))
	} else {
		b.line("🔥 <b>Active Incidents</b>")
	}
	b.line(rule)
	if len(top) == 0 {
		b.line("  No active incidents")
	}
	for _, inc := range top {
		b.line(f.Entry(inc))
	}
	b.line("")
}

func (f *Formatter) listSection(b *builder, header string, items []domain.Incident) {
	b.line(header)
	b.line(rule)
	if len(items) == 0 {
		b.line("  None")
	}
	for _, inc := range items {
		b.line(f.Entry(inc))
	}
}

// Entry formats one incident line: severity emoji, linked title, age,
// assignee, then SLA breach and last-update markers when present.
func (f *Formatter) Entry(inc domain.Incident) string {
	title := cleanTitle(inc.Title)
	if title == "" {
		title = "Untitled"
	}
	link := fmt.Sprintf(`<a href="%s/%s/%s">%s</a>`, f.LinkBaseURL, inc.ID, inc.Slug, title)

	assignee := "❌👤"
	if inc.HasAssignee && inc.Assignee != "" {
		assignee = "👤 " + htmlEscaper.Replace(inc.Assignee)
	}

	parts := []string{SeverityEmoji(inc.Severity), link, "|", formatAge(inc.AgeDays), "|", assignee}
	if inc.OverSLA {
		parts = append(parts, "|", fmt.Sprintf("⏰ <b>+%dd</b>", int(inc.DaysOverSLA+0.5)))
	}
	parts = append(parts, "|", f.lastUpdate(inc.LastUpdateTime))
	return "  " + strings.Join(parts, " ")
}

// SeverityEmoji maps a severity label to its display marker.
func SeverityEmoji(severity string) string {
	switch strings.ToLower(severity) {
	case "critical":
		return "🔴"
	case "major":
		return "🟠"
	case "minor":
		return "🟡"
	case "low":
		return "🟢"
	default:
		return "❓"
	}
}

func (f *Formatter) lastUpdate(lastTime string) string {
	if lastTime == "" {
		return "⚠️ Missing status update"
	}
	t, ok := timeutil.ParseTimestamp(lastTime)
	if !ok {
		return "⚠️ Missing status update"
	}
	secs := int(f.Now().Sub(t).Seconds())
	if secs < 0 {
		secs = 0
	}
	var rel string
	switch {
	case secs < 60:
		rel = "just now"
	case secs < 3600:
		rel = fmt.Sprintf("%dm ago", secs/60)
	case secs < 86400:
		rel = fmt.Sprintf("%dh ago", secs/3600)
	default:
		rel = fmt.Sprintf("%dd ago", secs/86400)
	}
	return "📝 " + rel
}

func cleanTitle(title string) string {
	if title == "" {
		return ""
	}
	title = htmlEscaper.Replace(title)
	if runes := []rune(title); len(runes) > maxTitleLen {
		title = string(runes[:maxTitleLen]) + "..."
	}
	return title
}

func formatAge(ageDays float64) string {
	switch {
	case ageDays < 1:
		return "< 1 day"
	case ageDays < 2:
		return fmt.Sprintf("%.1f day", ageDays)
	default:
		return fmt.Sprintf("%d days", int(ageDays+0.5))
	}
}

func weekRange(w timeutil.Window) string {
	start := w.Start.UTC()
	end := w.End.AddDate(0, 0, -1).UTC()
	switch {
	case start.Year() == end.Year() && start.Month() == end.Month():
		return fmt.Sprintf("%d-%d %s", start.Day(), end.Day(), end.Format("Jan 2006"))
	case start.Year() == end.Year():
		return fmt.Sprintf("%d %s - %d %s", start.Day(), start.Format("Jan"), end.Day(), end.Format("Jan 2006"))
	default:
		return start.Format("02 Jan 2006") + " - " + end.Format("02 Jan 2006")
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func hoursOrDash(v *float64, resolvedTotal int) string {
	if resolvedTotal == 0 || v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fh", *v)
}

type builder struct {
	lines []string
}

func (b *builder) line(s string)                    { b.lines = append(b.lines, s) }
func (b *builder) linef(format string, args ...any) { b.line(fmt.Sprintf(format, args...)) }
func (b *builder) String() string                   { return strings.Join(b.lines, "\n") }
