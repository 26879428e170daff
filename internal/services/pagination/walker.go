// Package pagination turns a start URL and a pagination config into a lazy,
// bounded sequence of page fetch instructions.
package pagination

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ternarybob/quarry/internal/models"
)

// DefaultMaxPages bounds the walk when neither the assignment nor the caller sets a limit
const DefaultMaxPages = 50

// Stop reasons reported by StopReason
const (
	StopSinglePage = "single_page"
	StopMaxPages   = "max_pages"
	StopEmptyPage  = "empty_page"
	StopNoNextLink = "no_next_link"
	StopRepeatURL  = "repeated_url"
	StopNoGrowth   = "no_new_items"
)

// Step is one page to fetch
type Step struct {
	Number      int    // 1-based page number in walk order
	URL         string // Absolute URL to fetch
	ScrollSteps int    // infinite_scroll: scrolls before reading the page
	SkipItems   int    // infinite_scroll: items already seen on earlier steps
}

// Observation is what the caller learned from processing a step
type Observation struct {
	Items   int    // Repeating elements found on the page
	NextURL string // next_button: continuation link discovered on the page
	Failed  bool   // The page could not be fetched
}

// Walker produces page steps one at a time. A fresh walker always starts
// again from the first page. Walkers are not safe for concurrent use.
type Walker struct {
	config   models.PaginationConfig
	start    *url.URL
	maxPages int

	emitted   int
	observed  int
	nextURL   string
	lastItems int
	visited   map[string]bool
	stop      string
}

// NewWalker validates the config and creates a walker over startURL.
// ceiling caps MaxPages; zero means DefaultMaxPages.
func NewWalker(startURL string, config models.PaginationConfig, ceiling int) (*Walker, error) {
	start, err := url.Parse(startURL)
	if err != nil || start.Scheme == "" || start.Host == "" {
		return nil, models.NewConfigurationError("start_url", "invalid start URL %q", startURL)
	}
	if err := Validate(config); err != nil {
		return nil, err
	}

	if ceiling <= 0 {
		ceiling = DefaultMaxPages
	}
	maxPages := config.MaxPages
	if maxPages <= 0 || maxPages > ceiling {
		maxPages = ceiling
	}
	if config.TypeOrDefault() == models.PaginationNone {
		maxPages = 1
	}

	return &Walker{
		config:   config,
		start:    start,
		maxPages: maxPages,
		visited:  make(map[string]bool),
	}, nil
}

// Validate checks the type-specific parameters of a pagination config
func Validate(config models.PaginationConfig) error {
	switch config.TypeOrDefault() {
	case models.PaginationNone, models.PaginationInfiniteScroll:
	case models.PaginationQueryParam:
		if strings.ContainsAny(config.Param, "&=?#") {
			return models.NewConfigurationError("pagination.param", "invalid query parameter name %q", config.Param)
		}
	case models.PaginationPath:
		if config.PathTemplate != "" && !strings.Contains(config.PathTemplate, "{page}") {
			return models.NewConfigurationError("pagination.path_template", "template must contain {page}")
		}
	case models.PaginationNextButton:
		if strings.TrimSpace(config.NextSelector) == "" {
			return models.NewConfigurationError("pagination.next_selector", "next_button pagination requires a selector")
		}
	default:
		return models.NewConfigurationError("pagination.type", "unknown pagination type %q", config.Type)
	}
	if config.MaxPages < 0 {
		return models.NewConfigurationError("pagination.max_pages", "must not be negative")
	}
	if config.MinPages < 0 {
		return models.NewConfigurationError("pagination.min_pages", "must not be negative")
	}
	return nil
}

// MaxPages returns the effective page limit
func (w *Walker) MaxPages() int {
	return w.maxPages
}

// Pages returns the number of steps handed out so far
func (w *Walker) Pages() int {
	return w.emitted
}

// StopReason explains why the walk ended, or is empty while it continues
func (w *Walker) StopReason() string {
	return w.stop
}

// Next returns the next step, or false when the walk is over. Step-dependent
// modes need an Observe call for the previous step before Next can continue.
func (w *Walker) Next() (Step, bool) {
	if w.stop != "" {
		return Step{}, false
	}
	if w.emitted >= w.maxPages {
		w.stop = StopMaxPages
		if w.config.TypeOrDefault() == models.PaginationNone {
			w.stop = StopSinglePage
		}
		return Step{}, false
	}

	number := w.emitted + 1
	step := Step{Number: number}

	switch w.config.TypeOrDefault() {
	case models.PaginationNone:
		step.URL = w.start.String()
	case models.PaginationQueryParam:
		step.URL = w.queryParamURL(w.pageNumber(number))
	case models.PaginationPath:
		u, err := w.pathURL(w.pageNumber(number), number)
		if err != nil {
			w.stop = StopNoNextLink
			return Step{}, false
		}
		step.URL = u
	case models.PaginationNextButton:
		if number == 1 {
			step.URL = w.start.String()
		} else {
			if w.observed < w.emitted || w.nextURL == "" {
				w.stop = StopNoNextLink
				return Step{}, false
			}
			step.URL = w.nextURL
		}
		if w.visited[step.URL] {
			w.stop = StopRepeatURL
			return Step{}, false
		}
	case models.PaginationInfiniteScroll:
		step.URL = w.start.String()
		step.ScrollSteps = number - 1
		step.SkipItems = w.lastItems
	}

	w.visited[step.URL] = true
	w.nextURL = ""
	w.emitted = number
	return step, true
}

// Observe feeds back the outcome of the most recent step
func (w *Walker) Observe(obs Observation) {
	if w.emitted == 0 || w.observed >= w.emitted {
		return
	}
	w.observed = w.emitted

	if obs.Failed {
		if w.config.TypeOrDefault() == models.PaginationNextButton || w.config.TypeOrDefault() == models.PaginationInfiniteScroll {
			w.stop = StopNoNextLink
		}
		return
	}

	pastMinimum := w.emitted >= w.config.MinPages

	switch w.config.TypeOrDefault() {
	case models.PaginationNone:
		return
	case models.PaginationNextButton:
		if obs.NextURL != "" {
			if next, err := w.start.Parse(obs.NextURL); err == nil {
				w.nextURL = next.String()
			}
		}
	case models.PaginationInfiniteScroll:
		if obs.Items <= w.lastItems && pastMinimum {
			w.stop = StopNoGrowth
			return
		}
		if obs.Items > w.lastItems {
			w.lastItems = obs.Items
		}
		return
	}

	if obs.Items == 0 && pastMinimum {
		w.stop = StopEmptyPage
	}
}

func (w *Walker) pageNumber(step int) int {
	first := w.config.StartPage
	if first <= 0 {
		first = 1
	}
	return first + step - 1
}

func (w *Walker) queryParamURL(page int) string {
	param := w.config.Param
	if param == "" {
		param = "page"
	}
	u := *w.start
	q := u.Query()
	q.Set(param, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// pathURL fills {page} in the template. Without a template the first page
// is the start URL and later pages append /page/N to its path.
func (w *Walker) pathURL(page, step int) (string, error) {
	if w.config.PathTemplate != "" {
		raw := strings.ReplaceAll(w.config.PathTemplate, "{page}", strconv.Itoa(page))
		u, err := w.start.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("invalid path template: %w", err)
		}
		return u.String(), nil
	}

	if step == 1 {
		return w.start.String(), nil
	}
	u := *w.start
	u.Path = strings.TrimSuffix(u.Path, "/") + "/page/" + strconv.Itoa(page)
	u.RawPath = ""
	return u.String(), nil
}
