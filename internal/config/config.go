package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models pfmt.yml.
type Config struct {
	Wizard struct {
		MaxSteps          int  `yaml:"max_steps"`
		OptimisticLocking bool `yaml:"optimistic_locking"`
	} `yaml:"wizard"`
	Enums struct {
		Categories     []string `yaml:"categories"`
		ProjectTypes   []string `yaml:"project_types"`
		Regions        []string `yaml:"regions"`
		Ministries     []string `yaml:"ministries"`
		FundingSources []string `yaml:"funding_sources"`
	} `yaml:"enums"`
	Budget struct {
		Ceiling float64 `yaml:"ceiling"`
	} `yaml:"budget"`
	Region    RegionFormat        `yaml:"region"`
	Templates map[string]Template `yaml:"templates"`
	Policy    Policy              `yaml:"policy"`
	Webhooks  []WebhookConfig     `yaml:"webhooks"`
}

// WebhookConfig is an outbound receiver of committed events. An empty
// Events list receives every event type.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// RegionFormat describes what a valid location looks like.
type RegionFormat struct {
	Name          string   `yaml:"name"`
	PostalPattern string   `yaml:"postal_pattern"`
	Bounds        Bounds   `yaml:"bounds"`
	Meridians     []string `yaml:"meridians"`
}

type Bounds struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLng float64 `yaml:"min_lng"`
	MaxLng float64 `yaml:"max_lng"`
}

// Contains reports whether the point lies inside the box, edges included.
func (b Bounds) Contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Template pre-fills wizard steps. Defaults are keyed by step key.
type Template struct {
	Name        string                    `yaml:"name" json:"name"`
	Description string                    `yaml:"description" json:"description,omitempty"`
	Defaults    map[string]map[string]any `yaml:"defaults" json:"defaults,omitempty"`
}

// Policy lists the roles allowed to run each role-gated operation.
type Policy struct {
	Initiate   []string `yaml:"initiate"`
	Assign     []string `yaml:"assign"`
	Finalize   []string `yaml:"finalize"`
	Transition []string `yaml:"transition"`
	Approve    []string `yaml:"approve"`
	Draft      []string `yaml:"draft"`
}

// Allows reports whether role appears in roles.
func Allows(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Wizard.MaxSteps < 1 {
		return fmt.Errorf("config.wizard.max_steps must be at least 1")
	}
	if c.Wizard.MaxSteps > 5 {
		return fmt.Errorf("config.wizard.max_steps must be at most 5, the number of wizard steps")
	}
	if len(c.Enums.Categories) == 0 {
		return fmt.Errorf("config.enums.categories is required")
	}
	if c.Budget.Ceiling <= 0 {
		return fmt.Errorf("config.budget.ceiling must be positive")
	}
	if c.Region.PostalPattern != "" {
		if _, err := regexp.Compile(c.Region.PostalPattern); err != nil {
			return fmt.Errorf("config.region.postal_pattern: %w", err)
		}
	}
	b := c.Region.Bounds
	if b != (Bounds{}) && (b.MinLat >= b.MaxLat || b.MinLng >= b.MaxLng) {
		return fmt.Errorf("config.region.bounds is empty or inverted")
	}
	for id, tpl := range c.Templates {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("config.templates contains empty template id")
		}
		for step := range tpl.Defaults {
			if !knownStep(step) {
				return fmt.Errorf("template %s has defaults for unknown step %s", id, step)
			}
		}
	}
	for name, roles := range map[string][]string{
		"initiate":   c.Policy.Initiate,
		"assign":     c.Policy.Assign,
		"finalize":   c.Policy.Finalize,
		"transition": c.Policy.Transition,
		"approve":    c.Policy.Approve,
		"draft":      c.Policy.Draft,
	} {
		if len(roles) == 0 {
			return fmt.Errorf("config.policy.%s needs at least one role", name)
		}
		for _, r := range roles {
			if r == "" {
				return fmt.Errorf("config.policy.%s has empty role", name)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func knownStep(key string) bool {
	switch key {
	case "basic_info", "location", "budget", "team", "review":
		return true
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pfmt.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Load reads config from the workspace, falling back to defaults when the
// file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys left out
// keep their default values.
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `wizard:
  max_steps: 5
  optimistic_locking: false

enums:
  categories:
    - Infrastructure
    - Education
    - Healthcare
    - Transportation
    - Community
    - Environmental
  project_types:
    - New Construction
    - Renovation
    - Expansion
    - Maintenance
    - Demolition
  regions:
    - Calgary
    - Edmonton
    - Central
    - North
    - South
  ministries:
    - Infrastructure
    - Education
    - Health
    - Transportation and Economic Corridors
    - Seniors, Community and Social Services
  funding_sources:
    - Provincial
    - Federal
    - Municipal
    - Cost Shared
    - P3

budget:
  ceiling: 999999999999

region:
  name: Alberta
  postal_pattern: '^[ABCEGHJ-NPRSTVXY]\d[ABCEGHJ-NPRSTV-Z][ -]?\d[ABCEGHJ-NPRSTV-Z]\d$'
  bounds:
    min_lat: 49
    max_lat: 60
    min_lng: -120
    max_lng: -110
  meridians: [W4, W5, W6]

templates:
  infrastructure:
    name: Infrastructure project
    description: Roads, bridges and utilities
    defaults:
      basic_info:
        category: Infrastructure
        projectType: New Construction
        ministry: Transportation and Economic Corridors
      budget:
        fundingSource: Provincial
  school:
    name: School modernization
    description: Renovation of an existing school
    defaults:
      basic_info:
        category: Education
        projectType: Renovation
        ministry: Education
  blank:
    name: Blank project

policy:
  initiate: [admin, director, senior_project_manager]
  assign: [admin, director]
  finalize: [admin]
  transition: [admin, director, senior_project_manager]
  approve: [admin, director]
  draft: [admin, director, senior_project_manager, project_manager]
`
