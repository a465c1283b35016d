package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gigboard.yml, the marketplace document: which categories a job
// may carry, the copy used for system messages, posting limits, and outbound
// webhooks. The authoritative copy lives in the database; files are imported.
type Config struct {
	Marketplace struct {
		Name string `yaml:"name" json:"name"`
	} `yaml:"marketplace" json:"marketplace"`
	Categories struct {
		Catalog map[string]struct {
			Description string `yaml:"description" json:"description"`
		} `yaml:"catalog" json:"catalog"`
	} `yaml:"categories" json:"categories"`
	Limits struct {
		MaxTitleLen   int `yaml:"max_title_len" json:"max_title_len"`
		MaxMessageLen int `yaml:"max_message_len" json:"max_message_len"`
		MaxPrice      int `yaml:"max_price" json:"max_price"`
	} `yaml:"limits" json:"limits"`
	SystemMessages struct {
		Assigned  string `yaml:"assigned" json:"assigned"`
		Completed string `yaml:"completed" json:"completed"`
		Cancelled string `yaml:"cancelled" json:"cancelled"`
	} `yaml:"system_messages" json:"system_messages"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gb config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.Name == "" {
		return fmt.Errorf("config.marketplace.name is required")
	}
	for name, cat := range c.Categories.Catalog {
		if name == "" {
			return fmt.Errorf("categories.catalog contains an empty category id")
		}
		_ = cat
	}
	if c.Limits.MaxTitleLen < 0 || c.Limits.MaxMessageLen < 0 || c.Limits.MaxPrice < 0 {
		return fmt.Errorf("config.limits values must be non-negative")
	}
	if c.SystemMessages.Assigned == "" || c.SystemMessages.Completed == "" || c.SystemMessages.Cancelled == "" {
		return fmt.Errorf("config.system_messages requires assigned, completed and cancelled templates")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// KnownCategory reports whether the category is listed in the catalog. An
// empty catalog accepts anything.
func (c *Config) KnownCategory(category string) bool {
	if len(c.Categories.Catalog) == 0 {
		return true
	}
	_, ok := c.Categories.Catalog[category]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
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

// Default returns the default Config struct for a marketplace.
func Default(name string) *Config {
	var cfg Config
	cfg.Marketplace.Name = name
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, name))).Decode(&cfg)
	return &cfg
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

const defaultTemplate = `marketplace:
  name: %s

categories:
  catalog:
    moving:
      description: "Carrying, moving and assembly help"
    tutoring:
      description: "Study help and exam prep"
    errands:
      description: "Pickups, deliveries, queueing"
    tech:
      description: "Laptop, phone and printer fixes"
    events:
      description: "Event setup and staffing"
    other:
      description: "Anything else"

limits:
  max_title_len: 120
  max_message_len: 4000
  max_price: 100000

system_messages:
  assigned: "You've been selected for \"%%s\". Agree on the details here in the chat."
  completed: "\"%%s\" was marked as completed. You can now rate each other."
  cancelled: "\"%%s\" was cancelled by the poster."
`
