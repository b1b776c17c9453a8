// Package cache persists incident data as JSON files under the workspace so
// repeated report runs avoid refetching unchanged incidents.
//
// Three entry families share the directory: one file per incident detail, one
// per incident activity history (id + "_activity" suffix), and a single global
// preview-list file. Detail and activity entries are validated against the
// incident's own modifiedTime token; the preview list is validated by wall
// clock TTL because the upstream list endpoint has no per-item modification
// semantics. All IO failures degrade to cache misses.
package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reportline/internal/domain"
)

const (
	activitySuffix  = "_activity.json"
	previewListFile = "preview_list_global.json"
)

// Cache is a disk-backed incident cache. The zero value is disabled; use New.
type Cache struct {
	dir       string
	enabled   bool
	entityTTL time.Duration
	log       *slog.Logger
	Now       func() time.Time
}

type entry struct {
	ModifiedTime string          `json:"modifiedTime,omitempty"`
	CachedAt     string          `json:"cachedAt"`
	Data         json.RawMessage `json:"data"`
}

// Stats is a point-in-time scan of the cache directory. Scan failures surface
// in Err, never as an error return.
type Stats struct {
	Enabled        bool   `json:"enabled"`
	Dir            string `json:"dir,omitempty"`
	Incidents      int    `json:"incidents"`
	Activity       int    `json:"activity"`
	PreviewLists   int    `json:"preview_lists"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	Err            string `json:"error,omitempty"`
}

// New opens a cache rooted at dir. entityTTLHours bounds how long a
// token-valid detail or activity entry may still be served; 0 disables the
// ceiling and trusts the token comparison alone.
func New(dir string, enabled bool, entityTTLHours int, log *slog.Logger) (*Cache, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Cache{
		dir:       dir,
		enabled:   enabled,
		entityTTL: time.Duration(entityTTLHours) * time.Hour,
		log:       log,
		Now:       time.Now,
	}
	if !enabled {
		return c, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return c, nil
}

// Disabled returns a cache where every operation is a no-op or miss.
func Disabled() *Cache {
	return &Cache{log: slog.Default(), Now: time.Now}
}

// Enabled reports whether the cache is active.
func (c *Cache) Enabled() bool { return c.enabled }

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// GetIncident returns the cached incident detail if present and still valid
// for the given modifiedTime token. An empty token means the incident is
// closed and any cached copy is acceptable.
func (c *Cache) GetIncident(id, modifiedTime string) (domain.Raw, bool) {
	raw, ok := c.getEntity(id+".json", modifiedTime)
	if !ok {
		return nil, false
	}
	var data domain.Raw
	if err := json.Unmarshal(raw, &data); err != nil {
		c.log.Warn("cache read error", "incident", id, "err", err)
		return nil, false
	}
	return data, true
}

// SaveIncident stores an incident detail keyed by its modifiedTime token.
// Caching is best effort: write failures are logged and dropped.
func (c *Cache) SaveIncident(id string, data domain.Raw, modifiedTime string) {
	c.putEntity(id+".json", data, modifiedTime, "incident", id)
}

// InvalidateIncident removes the detail entry for id if present.
func (c *Cache) InvalidateIncident(id string) {
	if !c.enabled {
		return
	}
	path := filepath.Join(c.dir, id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.log.Warn("cache invalidation error", "incident", id, "err", err)
	}
}

// GetActivity returns the cached activity record if still valid for the
// modifiedTime token.
func (c *Cache) GetActivity(id, modifiedTime string) (*domain.ActivityRecord, bool) {
	raw, ok := c.getEntity(id+activitySuffix, modifiedTime)
	if !ok {
		return nil, false
	}
	var rec domain.ActivityRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.log.Warn("activity cache read error", "incident", id, "err", err)
		return nil, false
	}
	return &rec, true
}

// SaveActivity stores an activity record keyed by the incident's modifiedTime.
func (c *Cache) SaveActivity(id string, rec domain.ActivityRecord, modifiedTime string) {
	c.putEntity(id+activitySuffix, rec, modifiedTime, "activity", id)
}

// GetPreviewList returns the global preview list if cached within ttl.
func (c *Cache) GetPreviewList(ttl time.Duration) ([]domain.Raw, bool) {
	if !c.enabled {
		return nil, false
	}
	raw, err := os.ReadFile(filepath.Join(c.dir, previewListFile))
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("preview list cache read error", "err", err)
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warn("preview list cache read error", "err", err)
		return nil, false
	}
	cachedAt, ok := parseCachedAt(e.CachedAt)
	if !ok || c.Now().UTC().Sub(cachedAt) > ttl {
		return nil, false
	}
	var items []domain.Raw
	if err := json.Unmarshal(e.Data, &items); err != nil {
		c.log.Warn("preview list cache read error", "err", err)
		return nil, false
	}
	return items, true
}

// SavePreviewList overwrites the global preview list entry.
func (c *Cache) SavePreviewList(items []domain.Raw) {
	c.putEntity(previewListFile, items, "", "preview list", "")
}

// Clear deletes every cache entry.
func (c *Cache) Clear() error {
	if !c.enabled {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}

// Stats scans the cache directory and reports entry counts and total size.
func (c *Cache) Stats() Stats {
	if !c.enabled {
		return Stats{}
	}
	stats := Stats{Enabled: true, Dir: c.dir}
	matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
	if err != nil {
		stats.Err = err.Error()
		return stats
	}
	for _, path := range matches {
		name := filepath.Base(path)
		switch {
		case strings.HasSuffix(name, activitySuffix):
			stats.Activity++
		case strings.HasPrefix(name, "preview_list_"):
			stats.PreviewLists++
		default:
			stats.Incidents++
		}
		if info, err := os.Stat(path); err == nil {
			stats.TotalSizeBytes += info.Size()
		}
	}
	return stats
}

func (c *Cache) getEntity(file, modifiedTime string) (json.RawMessage, bool) {
	if !c.enabled {
		return nil, false
	}
	raw, err := os.ReadFile(filepath.Join(c.dir, file))
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("cache read error", "file", file, "err", err)
		}
		return nil, false
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.log.Warn("cache read error", "file", file, "err", err)
		return nil, false
	}
	if c.entityTTL > 0 {
		cachedAt, ok := parseCachedAt(e.CachedAt)
		if !ok || c.Now().UTC().Sub(cachedAt) > c.entityTTL {
			return nil, false
		}
	}
	// No caller token means the entity is closed; any cached copy serves.
	// Otherwise the entry is valid only if it was cached at or after the
	// incident's current modification time. Tokens are RFC3339 strings, so
	// lexicographic comparison orders them chronologically.
	if modifiedTime != "" && (e.ModifiedTime == "" || e.ModifiedTime < modifiedTime) {
		return nil, false
	}
	return e.Data, true
}

func (c *Cache) putEntity(file string, data any, modifiedTime, kind, id string) {
	if !c.enabled {
		return
	}
	raw, err := json.Marshal(data)
	if err != nil {
		c.log.Warn("cache write error", "kind", kind, "id", id, "err", err)
		return
	}
	e := entry{
		ModifiedTime: modifiedTime,
		CachedAt:     c.Now().UTC().Format(time.RFC3339Nano),
		Data:         raw,
	}
	out, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		c.log.Warn("cache write error", "kind", kind, "id", id, "err", err)
		return
	}
	if err := os.WriteFile(filepath.Join(c.dir, file), out, 0o644); err != nil {
		c.log.Warn("cache write error", "kind", kind, "id", id, "err", err)
	}
}

func parseCachedAt(s string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
