package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models fieldline.yml.
type Config struct {
	App struct {
		ID   string `yaml:"id" json:"id"`
		Kind string `yaml:"kind" json:"kind"`
	} `yaml:"app" json:"app"`
	Scheduling struct {
		// Timezone names the location used to compute "start of day" for
		// DAILY questionnaires. All deployments of one database must agree.
		Timezone string `yaml:"timezone" json:"timezone"`
	} `yaml:"scheduling" json:"scheduling"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url" json:"url"`
	Events []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret string   `yaml:"secret,omitempty" json:"secret,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with fl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.App.ID == "" {
		return fmt.Errorf("config.app.id is required")
	}
	if c.App.Kind != "citizen-science" {
		return fmt.Errorf("config.app.kind must be 'citizen-science'")
	}
	if c.Scheduling.Timezone == "" {
		return fmt.Errorf("config.scheduling.timezone is required")
	}
	if _, err := time.LoadLocation(c.Scheduling.Timezone); err != nil {
		return fmt.Errorf("config.scheduling.timezone: %w", err)
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Location resolves the configured scheduling timezone. Validate guarantees
// this succeeds for validated configs; callers with an unvalidated config
// fall back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduling.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fieldline.yml")
}

// Default returns the default Config struct for an app id.
func Default(appID string) *Config {
	var cfg Config
	cfg.App.ID = appID
	cfg.App.Kind = "citizen-science"
	cfg.Scheduling.Timezone = "UTC"
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(appID string) string {
	return fmt.Sprintf(defaultTemplate, appID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `app:
  id: %s
  kind: citizen-science

scheduling:
  timezone: UTC

# webhooks:
#   - url: https://example.org/hooks/fieldline
#     events: [response.created, campaign.updated]
`
