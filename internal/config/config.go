package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gatherline.yml.
type Config struct {
	Event struct {
		ID string `yaml:"id"`
	} `yaml:"event"`
	Acknowledgement struct {
		MinImpactLength int `yaml:"min_impact_length"`
		// Keyword heuristic for the impact statement content check: it must
		// mention an affected party or a mitigation action.
		PartyKeywords      []string                  `yaml:"party_keywords"`
		MitigationKeywords []string                  `yaml:"mitigation_keywords"`
		MitigationTypes    map[string]MitigationType `yaml:"mitigation_types"`
	} `yaml:"acknowledgement"`
	Conflicts struct {
		Types map[string]ConflictType `yaml:"types"`
	} `yaml:"conflicts"`
}

type MitigationType struct {
	Description string `yaml:"description"`
}

type ConflictType struct {
	Description string `yaml:"description"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gl event config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Event.ID == "" {
		return fmt.Errorf("config.event.id is required")
	}
	if c.Acknowledgement.MinImpactLength <= 0 {
		return fmt.Errorf("config.acknowledgement.min_impact_length must be positive")
	}
	if len(c.Acknowledgement.MitigationTypes) == 0 {
		return fmt.Errorf("config.acknowledgement.mitigation_types is required")
	}
	for id, mt := range c.Acknowledgement.MitigationTypes {
		if id == "" {
			return fmt.Errorf("config.acknowledgement.mitigation_types contains empty id")
		}
		if mt.Description == "" {
			return fmt.Errorf("mitigation type %s has no description", id)
		}
	}
	if len(c.Acknowledgement.PartyKeywords) == 0 && len(c.Acknowledgement.MitigationKeywords) == 0 {
		return fmt.Errorf("config.acknowledgement needs party_keywords or mitigation_keywords")
	}
	for id, ct := range c.Conflicts.Types {
		if id == "" {
			return fmt.Errorf("config.conflicts.types contains empty id")
		}
		if ct.Description == "" {
			return fmt.Errorf("conflict type %s has no description", id)
		}
	}
	return nil
}

// HasMitigationType reports whether the id is in the catalog.
func (c *Config) HasMitigationType(id string) bool {
	_, ok := c.Acknowledgement.MitigationTypes[id]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gatherline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(eventID string) string {
	return fmt.Sprintf(defaultTemplate, eventID)
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

// Default returns the default Config struct for an event.
func Default(eventID string) *Config {
	var cfg Config
	cfg.Event.ID = eventID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, eventID))).Decode(&cfg)
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

const defaultTemplate = `event:
  id: %s

acknowledgement:
  min_impact_length: 40

  party_keywords:
    - guest
    - guests
    - attendee
    - attendees
    - vegetarian
    - vegan
    - allergy
    - allergies
    - children
    - kids
    - team
    - coordinator

  mitigation_keywords:
    - backup
    - substitute
    - alternative
    - borrow
    - rent
    - buy
    - purchase
    - reduce
    - reassign
    - "will bring"
    - "will provide"
    - "plan to"

  mitigation_types:
    ALTERNATIVE_SOURCE:
      description: "Another supplier or person will cover the gap"
    REDUCE_SCOPE:
      description: "Scale the plan down so the gap no longer matters"
    ACCEPT_SHORTFALL:
      description: "Proceed knowingly without covering the gap"
    DELEGATE:
      description: "Hand the risk to a named coordinator to resolve"
    CONTINGENCY_BUDGET:
      description: "Reserve money to buy a replacement on the day"

conflicts:
  types:
    quantity.shortfall:
      description: "Planned quantity does not cover the guest count"
    dietary.uncovered:
      description: "A dietary group has no matching items"
    equipment.missing:
      description: "Venue equipment needed by an item is not available"
    timing.clash:
      description: "Item due times collide with the venue schedule"
`
