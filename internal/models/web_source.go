// -----------------------------------------------------------------------
// Web Source - A website the operator extracts data from
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// ScraperType selects how pages of a web source are fetched.
type ScraperType string

const (
	ScraperTypeHTTP    ScraperType = "http"
	ScraperTypeBrowser ScraperType = "browser"
	ScraperTypeHybrid  ScraperType = "hybrid"
)

// AuthType selects how credentials are attached to outgoing requests.
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeCookie AuthType = "cookie"
	AuthTypeHeader AuthType = "header"
	AuthTypeBasic  AuthType = "basic"
)

// Cookie is a single named cookie attached to requests for a web source
type Cookie struct {
	Name   string `json:"name" toml:"name"`
	Value  string `json:"value" toml:"value"`
	Domain string `json:"domain,omitempty" toml:"domain"`
	Path   string `json:"path,omitempty" toml:"path"`
}

// AuthConfig holds decrypted credentials for a web source.
// Instances are resolved per job from the secret store and are never persisted.
type AuthConfig struct {
	Type     AuthType          `json:"type" toml:"type"`
	Cookies  []Cookie          `json:"cookies,omitempty" toml:"cookies"`
	Headers  map[string]string `json:"headers,omitempty" toml:"headers"`
	Username string            `json:"username,omitempty" toml:"username"`
	Password string            `json:"-" toml:"password"`
}

// ScraperConfig controls fetching and pacing for a web source
type ScraperConfig struct {
	Type           ScraperType       `json:"type" validate:"omitempty,oneof=http browser hybrid"`
	AuthType       AuthType          `json:"auth_type" validate:"omitempty,oneof=none cookie header basic"`
	SecretRef      string            `json:"secret_ref,omitempty"`                      // Key into the secret store, required when AuthType != none
	RequestDelay   time.Duration     `json:"request_delay"`                             // Minimum delay between requests to this source
	MaxConcurrent  int               `json:"max_concurrent" validate:"omitempty,min=1"` // In-flight request cap for this source
	Timeout        time.Duration     `json:"timeout"`                                   // Per-fetch timeout
	UserAgent      string            `json:"user_agent,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"` // Non-secret headers sent with every request
	WaitSelector   string            `json:"wait_selector,omitempty"`
	JavaScriptWait time.Duration     `json:"javascript_wait"`
}

// WebSource is a website registered for extraction
type WebSource struct {
	ID         string            `json:"id"`
	Name       string            `json:"name" validate:"required,max=200"`
	BaseURL    string            `json:"base_url" validate:"required,url"`
	Config     ScraperConfig     `json:"config"`
	Structure  *WebsiteStructure `json:"structure,omitempty"` // Cached analysis, replaced on re-analysis
	AnalyzedAt *time.Time        `json:"analyzed_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// ScraperTypeOrDefault returns the configured scraper type, defaulting to http
func (c ScraperConfig) ScraperTypeOrDefault() ScraperType {
	if c.Type == "" {
		return ScraperTypeHTTP
	}
	return c.Type
}
