package models

// FetchStrategy is the concrete strategy used for a single fetch
type FetchStrategy string

const (
	FetchHTTP    FetchStrategy = "http"
	FetchBrowser FetchStrategy = "browser"
)

// FetchRequest is one page fetch for a web source
type FetchRequest struct {
	SourceID    string        // Pacing key
	URL         string
	Strategy    FetchStrategy
	Config      ScraperConfig
	Auth        *AuthConfig // Pre-resolved credentials, nil for none
	ScrollSteps int         // Browser only: scroll to the bottom this many times before reading
}

// PageResult is the content of one fetched page
type PageResult struct {
	HTML       string        `json:"html"`
	FinalURL   string        `json:"final_url"`
	StatusCode int           `json:"status_code"`
	Strategy   FetchStrategy `json:"strategy"`
}
