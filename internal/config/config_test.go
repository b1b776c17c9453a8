package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.SLADays("Critical"); got != 1 {
		t.Fatalf("Critical SLA = %d", got)
	}
	if got := cfg.SLADays("Major"); got != 2 {
		t.Fatalf("Major SLA = %d", got)
	}
	if got := cfg.SLADays("Minor"); got != 3 {
		t.Fatalf("Minor SLA = %d", got)
	}
	if got := cfg.SLADays("Unknown"); got != 999 {
		t.Fatalf("unknown severity SLA = %d, want default 999", got)
	}
	if cfg.Cache.PreviewTTLHours != 24 {
		t.Fatalf("preview ttl = %d", cfg.Cache.PreviewTTLHours)
	}
	if cfg.Report.TimezoneOffsetHours != 7 {
		t.Fatalf("tz offset = %d", cfg.Report.TimezoneOffsetHours)
	}
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
provider:
  url: https://example.grafana.net
sla:
  days:
    Critical: 2
report:
  max_active: 15
webhooks:
  - url: https://chat.example.com/hook
    timeout_seconds: 3
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.URL != "https://example.grafana.net" {
		t.Fatalf("url = %s", cfg.Provider.URL)
	}
	if got := cfg.SLADays("Critical"); got != 2 {
		t.Fatalf("Critical SLA = %d", got)
	}
	if cfg.Report.MaxActive != 15 {
		t.Fatalf("max active = %d", cfg.Report.MaxActive)
	}
	if len(cfg.Webhooks) != 1 || cfg.Webhooks[0].TimeoutSeconds != 3 {
		t.Fatalf("webhooks = %+v", cfg.Webhooks)
	}
	// Unmentioned defaults survive a partial file.
	if cfg.Cache.PreviewTTLHours != 24 {
		t.Fatalf("preview ttl = %d", cfg.Cache.PreviewTTLHours)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []string{
		"sla:\n  default_days: 0\n",
		"sla:\n  days:\n    Critical: -1\n",
		"cache:\n  preview_ttl_hours: 0\n",
		"cache:\n  entity_ttl_hours: -1\n",
		"report:\n  timezone_offset_hours: 30\n",
		"report:\n  max_active: -1\n",
		"webhooks:\n  - url: \"\"\n",
	}
	for _, yml := range cases {
		if _, err := FromYAML([]byte(yml)); err == nil {
			t.Fatalf("expected validation error for %q", yml)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.SLA.DefaultDays != 999 {
		t.Fatalf("missing file should yield defaults, got %d", cfg.SLA.DefaultDays)
	}

	if err := os.WriteFile(filepath.Join(dir, "reportline.yml"), []byte("provider:\n  url: https://x\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.URL != "https://x" {
		t.Fatalf("url = %s", cfg.Provider.URL)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config")
	}
}
