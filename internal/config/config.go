package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"parcelfetch/internal/domain"
)

const FileName = "parcelfetch.yml"

// Config models parcelfetch.yml.
type Config struct {
	Output struct {
		Dir              string `yaml:"dir"`
		MinDocumentBytes int    `yaml:"min_document_bytes"`
	} `yaml:"output"`
	Engine struct {
		Concurrency    int      `yaml:"concurrency"`
		StepTimeout    Duration `yaml:"step_timeout"`
		AcquireTimeout Duration `yaml:"acquire_timeout"`
	} `yaml:"engine"`
	Retry  RetryConfig  `yaml:"retry"`
	Parser ParserConfig `yaml:"parser"`
	Defaults struct {
		County string `yaml:"county"`
	} `yaml:"defaults"`
	Counties      map[string]County      `yaml:"counties"`
	DocumentTypes map[string]DocumentType `yaml:"document_types"`
}

type RetryConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	BaseDelay   Duration `yaml:"base_delay"`
	Multiplier  float64  `yaml:"multiplier"`
	MaxDelay    Duration `yaml:"max_delay"`
	Jitter      float64  `yaml:"jitter"`
}

type ParserConfig struct {
	Strategy       string   `yaml:"strategy"`
	Endpoint       string   `yaml:"endpoint"`
	Timeout        Duration `yaml:"timeout"`
	FuzzyThreshold float64  `yaml:"fuzzy_threshold"`
}

type County struct {
	Name            string            `yaml:"name"`
	Aliases         []string          `yaml:"aliases"`
	TMSPattern      string            `yaml:"tms_pattern"`
	Domain          string            `yaml:"domain"`
	BaseURL         string            `yaml:"base_url"`
	DocURLs         map[string]string `yaml:"doc_urls"`
	DocTypes        []string          `yaml:"doc_types"`
	DefaultDocTypes []string          `yaml:"default_doc_types"`
	RateLimit       struct {
		RequestsPerMinute int `yaml:"requests_per_minute"`
		Burst             int `yaml:"burst"`
	} `yaml:"rate_limit"`
}

type DocumentType struct {
	Name          string   `yaml:"name"`
	Aliases       []string `yaml:"aliases"`
	MultiInstance bool     `yaml:"multi_instance"`
}

// Duration decodes "30s"-style YAML scalars.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with parcelfetch config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the built-in default when the config file does not exist.
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

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// FromYAML parses config from raw YAML bytes on top of the default template
// and validates the result.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		return nil, fmt.Errorf("invalid default config yaml: %w", err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.merge(&overlay)
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

// merge overwrites non-zero overlay values. Counties and document types are
// replaced wholesale when the overlay defines any.
func (c *Config) merge(o *Config) {
	if o.Output.Dir != "" {
		c.Output.Dir = o.Output.Dir
	}
	if o.Output.MinDocumentBytes != 0 {
		c.Output.MinDocumentBytes = o.Output.MinDocumentBytes
	}
	if o.Engine.Concurrency != 0 {
		c.Engine.Concurrency = o.Engine.Concurrency
	}
	if o.Engine.StepTimeout != 0 {
		c.Engine.StepTimeout = o.Engine.StepTimeout
	}
	if o.Engine.AcquireTimeout != 0 {
		c.Engine.AcquireTimeout = o.Engine.AcquireTimeout
	}
	if o.Retry.MaxAttempts != 0 {
		c.Retry.MaxAttempts = o.Retry.MaxAttempts
	}
	if o.Retry.BaseDelay != 0 {
		c.Retry.BaseDelay = o.Retry.BaseDelay
	}
	if o.Retry.Multiplier != 0 {
		c.Retry.Multiplier = o.Retry.Multiplier
	}
	if o.Retry.MaxDelay != 0 {
		c.Retry.MaxDelay = o.Retry.MaxDelay
	}
	if o.Retry.Jitter != 0 {
		c.Retry.Jitter = o.Retry.Jitter
	}
	if o.Parser.Strategy != "" {
		c.Parser.Strategy = o.Parser.Strategy
	}
	if o.Parser.Endpoint != "" {
		c.Parser.Endpoint = o.Parser.Endpoint
	}
	if o.Parser.Timeout != 0 {
		c.Parser.Timeout = o.Parser.Timeout
	}
	if o.Parser.FuzzyThreshold != 0 {
		c.Parser.FuzzyThreshold = o.Parser.FuzzyThreshold
	}
	if o.Defaults.County != "" {
		c.Defaults.County = o.Defaults.County
	}
	if len(o.Counties) > 0 {
		c.Counties = o.Counties
		if _, ok := o.Counties[c.Defaults.County]; !ok && o.Defaults.County == "" {
			c.Defaults.County = ""
		}
	}
	if len(o.DocumentTypes) > 0 {
		c.DocumentTypes = o.DocumentTypes
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Output.Dir == "" {
		return fmt.Errorf("config.output.dir is required")
	}
	if c.Output.MinDocumentBytes < 1 {
		return fmt.Errorf("config.output.min_document_bytes must be positive")
	}
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("config.engine.concurrency must be positive")
	}
	if c.Engine.StepTimeout <= 0 || c.Engine.AcquireTimeout <= 0 {
		return fmt.Errorf("config.engine timeouts must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config.retry.max_attempts must be positive")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("config.retry.multiplier must be >= 1")
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("config.retry.jitter must be in [0,1)")
	}
	switch c.Parser.Strategy {
	case "deterministic":
	case "delegated":
		if c.Parser.Endpoint == "" {
			return fmt.Errorf("config.parser.endpoint is required for the delegated strategy")
		}
	default:
		return fmt.Errorf("config.parser.strategy must be deterministic or delegated")
	}
	if c.Parser.FuzzyThreshold <= 0 || c.Parser.FuzzyThreshold > 1 {
		return fmt.Errorf("config.parser.fuzzy_threshold must be in (0,1]")
	}
	if len(c.DocumentTypes) == 0 {
		return fmt.Errorf("config.document_types is required")
	}
	for id, dt := range c.DocumentTypes {
		if dt.Name == "" {
			return fmt.Errorf("document type %s has no name", id)
		}
	}
	if len(c.Counties) == 0 {
		return fmt.Errorf("config.counties is required")
	}
	for id, county := range c.Counties {
		if id == "" {
			return fmt.Errorf("config.counties contains empty county id")
		}
		if county.TMSPattern == "" {
			return fmt.Errorf("county %s has no tms_pattern", id)
		}
		if _, err := regexp.Compile(county.TMSPattern); err != nil {
			return fmt.Errorf("county %s tms_pattern: %w", id, err)
		}
		if len(county.DocTypes) == 0 {
			return fmt.Errorf("county %s supports no document types", id)
		}
		for _, dt := range append(append([]string{}, county.DocTypes...), county.DefaultDocTypes...) {
			if _, ok := c.DocumentTypes[dt]; !ok {
				return fmt.Errorf("county %s references unknown document type %s", id, dt)
			}
		}
	}
	if c.Defaults.County != "" {
		if _, ok := c.Counties[c.Defaults.County]; !ok {
			return fmt.Errorf("config.defaults.county %s is not a configured county", c.Defaults.County)
		}
	}
	return nil
}

// CountyIDs returns configured county ids in sorted order.
func (c *Config) CountyIDs() []domain.CountyID {
	ids := make([]domain.CountyID, 0, len(c.Counties))
	for id := range c.Counties {
		ids = append(ids, domain.CountyID(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DocTypeIDs returns configured document type ids in sorted order.
func (c *Config) DocTypeIDs() []domain.DocTypeID {
	ids := make([]domain.DocTypeID, 0, len(c.DocumentTypes))
	for id := range c.DocumentTypes {
		ids = append(ids, domain.DocTypeID(id))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Supports reports whether county can serve docType.
func (c *Config) Supports(county domain.CountyID, docType domain.DocTypeID) bool {
	cc, ok := c.Counties[string(county)]
	if !ok {
		return false
	}
	for _, dt := range cc.DocTypes {
		if dt == string(docType) {
			return true
		}
	}
	return false
}

// DomainFor returns the rate-limit domain of a county, falling back to its id.
func (c *Config) DomainFor(county domain.CountyID) string {
	if cc, ok := c.Counties[string(county)]; ok && cc.Domain != "" {
		return cc.Domain
	}
	return string(county)
}

// Marshal renders the effective config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `output:
  dir: ./output
  min_document_bytes: 100

engine:
  concurrency: 3
  step_timeout: 30s
  acquire_timeout: 60s

retry:
  max_attempts: 3
  base_delay: 1s
  multiplier: 2
  max_delay: 30s
  jitter: 0.2

parser:
  strategy: deterministic
  timeout: 10s
  fuzzy_threshold: 0.85

defaults:
  county: charleston

document_types:
  property_card:
    name: Property Card
    aliases: [property card, property cards, property record card, prc]
  tax_info:
    name: Tax Info
    aliases: [tax info, tax information, tax record, tax records]
  tax_bill:
    name: Tax Bill
    aliases: [tax bill, tax bills]
  tax_receipt:
    name: Tax Receipt
    aliases: [tax receipt, tax receipts]
  deed:
    name: Deeds
    aliases: [deed, deeds, deed book, deed record, deed records]
    multi_instance: true

counties:
  charleston:
    name: Charleston County
    aliases: [charleston, charleston county, chas]
    tms_pattern: '^\d{10}$'
    domain: www.charlestoncounty.org
    base_url: https://www.charlestoncounty.org
    doc_urls:
      property_card: https://www.charlestoncounty.org/departments/prc/property-search.php?pin={tms}
      tax_info: https://www.charlestoncounty.org/departments/prc/tax-info.php?pin={tms}
      deed: https://www.charlestoncounty.org/departments/prc/deeds.php?pin={tms}
    doc_types: [property_card, tax_info, deed]
    default_doc_types: [property_card, tax_info, deed]
    rate_limit:
      requests_per_minute: 30
      burst: 3
  berkeley:
    name: Berkeley County
    aliases: [berkeley, berkeley county]
    tms_pattern: '^\d{10}$'
    domain: www.berkeleycountysc.gov
    base_url: https://www.berkeleycountysc.gov
    doc_urls:
      property_card: https://www.berkeleycountysc.gov/departments/assessor/property-search?tms={tms}
      tax_bill: https://www.berkeleycountysc.gov/departments/treasurer/tax-bills?tms={tms}
      tax_receipt: https://www.berkeleycountysc.gov/departments/treasurer/tax-receipts?tms={tms}
      deed: https://www.berkeleycountysc.gov/departments/clerk-of-court/deeds?tms={tms}
    doc_types: [property_card, tax_bill, tax_receipt, deed]
    default_doc_types: [property_card, tax_bill, deed]
    rate_limit:
      requests_per_minute: 20
      burst: 2
`
