package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models reportline.yml.
type Config struct {
	Provider struct {
		URL string `yaml:"url"`
	} `yaml:"provider"`
	SLA struct {
		Days        map[string]int `yaml:"days"`
		DefaultDays int            `yaml:"default_days"`
	} `yaml:"sla"`
	Cache struct {
		Dir             string `yaml:"dir"`
		PreviewTTLHours int    `yaml:"preview_ttl_hours"`
		EntityTTLHours  int    `yaml:"entity_ttl_hours"`
	} `yaml:"cache"`
	Report struct {
		TimezoneOffsetHours int    `yaml:"timezone_offset_hours"`
		MaxActive           int    `yaml:"max_active"`
		LinkBaseURL         string `yaml:"link_base_url"`
	} `yaml:"report"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one outbound report delivery target.
type WebhookConfig struct {
	URL            string `yaml:"url"`
	Enabled        *bool  `yaml:"enabled"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "reportline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run with defaults or create it first", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.SLA.DefaultDays <= 0 {
		return fmt.Errorf("config.sla.default_days must be positive")
	}
	for severity, days := range c.SLA.Days {
		if severity == "" {
			return fmt.Errorf("config.sla.days contains empty severity")
		}
		if days <= 0 {
			return fmt.Errorf("sla for severity %s must be positive, got %d", severity, days)
		}
	}
	if c.Cache.PreviewTTLHours <= 0 {
		return fmt.Errorf("config.cache.preview_ttl_hours must be positive")
	}
	if c.Cache.EntityTTLHours < 0 {
		return fmt.Errorf("config.cache.entity_ttl_hours must not be negative")
	}
	if c.Report.TimezoneOffsetHours < -12 || c.Report.TimezoneOffsetHours > 14 {
		return fmt.Errorf("config.report.timezone_offset_hours out of range")
	}
	if c.Report.MaxActive < 0 {
		return fmt.Errorf("config.report.max_active must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// SLADays returns the SLA threshold in days for a severity, falling back to
// the default for unknown severities.
func (c *Config) SLADays(severity string) int {
	if days, ok := c.SLA.Days[severity]; ok {
		return days
	}
	return c.SLA.DefaultDays
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `provider:
  url: ""

sla:
  days:
    Critical: 1
    Major: 2
    Minor: 3
  default_days: 999

cache:
  dir: ""
  preview_ttl_hours: 24
  entity_ttl_hours: 720

report:
  timezone_offset_hours: 7
  max_active: 0
  link_base_url: ""

webhooks: []
`
