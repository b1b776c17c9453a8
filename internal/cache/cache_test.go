package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"reportline/internal/domain"
)

func writeGarbage(dir, name string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte("{not json"), 0o644)
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir(), true, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestIncidentRoundTrip(t *testing.T) {
	c := newTestCache(t)
	data := domain.Raw{"incidentID": "42", "title": "db down"}

	c.SaveIncident("42", data, "2025-06-01T10:00:00Z")
	got, ok := c.GetIncident("42", "2025-06-01T10:00:00Z")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got["title"] != "db down" {
		t.Fatalf("title = %v", got["title"])
	}
}

func TestStaleTokenMisses(t *testing.T) {
	c := newTestCache(t)
	c.SaveIncident("42", domain.Raw{"title": "old"}, "2025-06-01T10:00:00Z")

	// Incident changed upstream after caching.
	if _, ok := c.GetIncident("42", "2025-06-02T00:00:00Z"); ok {
		t.Fatal("stale entry should miss")
	}
	// Same or older token still serves.
	if _, ok := c.GetIncident("42", "2025-06-01T09:00:00Z"); !ok {
		t.Fatal("older token should hit")
	}
}

func TestEmptyTokenServesAnyEntry(t *testing.T) {
	c := newTestCache(t)
	c.SaveIncident("done", domain.Raw{"status": "resolved"}, "2025-06-01T10:00:00Z")
	if _, ok := c.GetIncident("done", ""); !ok {
		t.Fatal("closed incident should hit without a token")
	}
}

func TestEntityTTLCeiling(t *testing.T) {
	c, err := New(t.TempDir(), true, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return base }
	c.SaveIncident("42", domain.Raw{"title": "x"}, "2025-05-01T00:00:00Z")

	c.Now = func() time.Time { return base.Add(30 * time.Minute) }
	if _, ok := c.GetIncident("42", "2025-05-01T00:00:00Z"); !ok {
		t.Fatal("entry inside TTL should hit")
	}

	c.Now = func() time.Time { return base.Add(2 * time.Hour) }
	if _, ok := c.GetIncident("42", "2025-05-01T00:00:00Z"); ok {
		t.Fatal("entry past TTL ceiling should miss even with a valid token")
	}
}

func TestActivityRoundTrip(t *testing.T) {
	c := newTestCache(t)
	rec := domain.ActivityRecord{
		LastUpdateTime: "2025-06-01T09:00:00Z",
		LastUpdateKind: "statusUpdate",
		LastUpdateBody: "mitigated",
		Items:          []domain.Raw{{"eventTime": "2025-06-01T09:00:00Z"}},
	}
	c.SaveActivity("42", rec, "2025-06-01T10:00:00Z")

	got, ok := c.GetActivity("42", "2025-06-01T10:00:00Z")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.LastUpdateBody != "mitigated" || len(got.Items) != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestPreviewListTTL(t *testing.T) {
	c := newTestCache(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return base }
	c.SavePreviewList([]domain.Raw{{"incidentID": "1"}, {"incidentID": "2"}})

	c.Now = func() time.Time { return base.Add(23 * time.Hour) }
	items, ok := c.GetPreviewList(24 * time.Hour)
	if !ok || len(items) != 2 {
		t.Fatalf("fresh list: ok=%v len=%d", ok, len(items))
	}

	c.Now = func() time.Time { return base.Add(25 * time.Hour) }
	if _, ok := c.GetPreviewList(24 * time.Hour); ok {
		t.Fatal("expired list should miss")
	}
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t)
	c.SaveIncident("42", domain.Raw{"title": "x"}, "t")
	c.InvalidateIncident("42")
	if _, ok := c.GetIncident("42", ""); ok {
		t.Fatal("invalidated entry should miss")
	}
	// Invalidating a missing entry is a no-op.
	c.InvalidateIncident("nope")
}

func TestClearAndStats(t *testing.T) {
	c := newTestCache(t)
	c.SaveIncident("1", domain.Raw{"a": 1}, "t")
	c.SaveIncident("2", domain.Raw{"b": 2}, "t")
	c.SaveActivity("1", domain.ActivityRecord{}, "t")
	c.SavePreviewList([]domain.Raw{})

	stats := c.Stats()
	if !stats.Enabled {
		t.Fatal("stats should report enabled")
	}
	if stats.Incidents != 2 || stats.Activity != 1 || stats.PreviewLists != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.TotalSizeBytes == 0 {
		t.Fatal("expected nonzero size")
	}

	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	stats = c.Stats()
	if stats.Incidents+stats.Activity+stats.PreviewLists != 0 {
		t.Fatalf("stats after clear = %+v", stats)
	}
}

func TestDisabledCache(t *testing.T) {
	c := Disabled()
	c.SaveIncident("42", domain.Raw{"a": 1}, "t")
	if _, ok := c.GetIncident("42", "t"); ok {
		t.Fatal("disabled cache should always miss")
	}
	if _, ok := c.GetPreviewList(time.Hour); ok {
		t.Fatal("disabled preview list should miss")
	}
	if err := c.Clear(); err != nil {
		t.Fatal(err)
	}
	if stats := c.Stats(); stats.Enabled {
		t.Fatal("disabled stats should report disabled")
	}
}

func TestCorruptEntryIsMiss(t *testing.T) {
	c := newTestCache(t)
	c.SaveIncident("42", domain.Raw{"a": 1}, "t")
	// Overwrite with garbage.
	if err := writeGarbage(c.Dir(), "42.json"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.GetIncident("42", "t"); ok {
		t.Fatal("corrupt entry should be a miss, not an error")
	}
}
