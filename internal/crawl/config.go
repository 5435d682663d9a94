package crawl

import (
	"fmt"
	"net/url"
	"strings"
)

// ExtractionStrategy selects how page content is distilled.
type ExtractionStrategy string

// Supported extraction strategies.
const (
	ExtractDefault ExtractionStrategy = "default"
	ExtractLLM     ExtractionStrategy = "llm"
	ExtractCSS     ExtractionStrategy = "css"
	ExtractRegex   ExtractionStrategy = "regex"
)

// Config captures per-task crawl options requested by the client. A copy
// is snapshotted onto the task at submission for traceability.
type Config struct {
	WordCountThreshold      int                `json:"word_count_threshold" mapstructure:"word_count_threshold"`
	ExtractionStrategy      ExtractionStrategy `json:"extraction_strategy" mapstructure:"extraction_strategy"`
	CSSSelector             string             `json:"css_selector,omitempty" mapstructure:"css_selector"`
	WaitFor                 string             `json:"wait_for,omitempty" mapstructure:"wait_for"`
	Screenshot              bool               `json:"screenshot" mapstructure:"screenshot"`
	PDF                     bool               `json:"pdf" mapstructure:"pdf"`
	RemoveOverlayElements   bool               `json:"remove_overlay_elements" mapstructure:"remove_overlay_elements"`
	ExcludeExternalLinks    bool               `json:"exclude_external_links" mapstructure:"exclude_external_links"`
	ExcludeSocialMediaLinks bool               `json:"exclude_social_media_links" mapstructure:"exclude_social_media_links"`
	UserAgent               string             `json:"user_agent,omitempty" mapstructure:"user_agent"`
	Headers                 map[string]string  `json:"headers,omitempty" mapstructure:"headers"`
	TimeoutSeconds          int                `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig returns the option set used when the client omits one.
func DefaultConfig() Config {
	return Config{
		WordCountThreshold:      200,
		ExtractionStrategy:      ExtractDefault,
		RemoveOverlayElements:   true,
		ExcludeExternalLinks:    true,
		ExcludeSocialMediaLinks: true,
		TimeoutSeconds:          30,
	}
}

// ApplyDefaults fills zero-valued knobs that have non-zero defaults.
func (c *Config) ApplyDefaults() {
	if c.WordCountThreshold == 0 {
		c.WordCountThreshold = 200
	}
	if c.ExtractionStrategy == "" {
		c.ExtractionStrategy = ExtractDefault
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

// Validate enforces the bounds the API accepts.
func (c Config) Validate() error {
	if c.WordCountThreshold < 1 || c.WordCountThreshold > 10000 {
		return fmt.Errorf("%w: word_count_threshold must be in [1, 10000]", ErrValidation)
	}
	switch c.ExtractionStrategy {
	case ExtractDefault, ExtractLLM, ExtractCSS, ExtractRegex:
	default:
		return fmt.Errorf("%w: unknown extraction_strategy %q", ErrValidation, c.ExtractionStrategy)
	}
	if c.TimeoutSeconds < 5 || c.TimeoutSeconds > 300 {
		return fmt.Errorf("%w: timeout must be in [5, 300]", ErrValidation)
	}
	return nil
}

// Clone returns a deep copy of the config snapshot.
func (c Config) Clone() Config {
	cp := c
	if c.Headers != nil {
		cp.Headers = make(map[string]string, len(c.Headers))
		for k, v := range c.Headers {
			cp.Headers[k] = v
		}
	}
	return cp
}

// Hosts that may never be crawled, regardless of configuration.
var blockedHosts = []string{"localhost", "127.0.0.1", "0.0.0.0", "::1"}

// ValidateTargetURL rejects targets that are not plain http(s) URLs or
// that point at loopback style hosts.
func ValidateTargetURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid url: %v", ErrValidation, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: url must use http or https", ErrValidation)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: url host is required", ErrValidation)
	}
	host := strings.ToLower(parsed.Hostname())
	for _, blocked := range blockedHosts {
		if host == blocked {
			return fmt.Errorf("%w: access to %s is not allowed", ErrValidation, blocked)
		}
	}
	return nil
}
