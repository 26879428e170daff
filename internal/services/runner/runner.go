// -----------------------------------------------------------------------
// Extraction Runner - Walks an assignment's pages and assembles rows
// -----------------------------------------------------------------------

package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/extraction"
	"github.com/ternarybob/quarry/internal/services/pagination"
)

// DefaultSampleRows caps sample runs that do not set a row limit
const DefaultSampleRows = 5

// Mode selects between exploratory and staging runs
type Mode string

const (
	ModeSample Mode = "sample"
	ModeFull   Mode = "full"
)

// Request is everything one run needs. Rules must already be loaded;
// inactive rules are ignored.
type Request struct {
	Assignment *models.Assignment
	Source     *models.WebSource
	Rules      []*models.ExtractionRule
	Auth       *models.AuthConfig
	Mode       Mode
	MaxRows    int // Sample row cap; zero uses the configured default
}

// Outcome is the result of a run. It is returned alongside errors so the
// caller always sees the counters reached.
type Outcome struct {
	Rows           []models.Row         `json:"rows"`
	Columns        []string             `json:"columns"`
	PagesProcessed int                  `json:"pages_processed"`
	PagesTotal     int                  `json:"pages_total"`
	RowsExtracted  int                  `json:"rows_extracted"`
	RowsFailed     int                  `json:"rows_failed"`
	FirstFailure   *models.FieldFailure `json:"first_failure,omitempty"`
	FetchFailures  int                  `json:"fetch_failures"`
	LastFetchError string               `json:"last_fetch_error,omitempty"`
	Strategy       models.FetchStrategy `json:"strategy"`
	Escalated      bool                 `json:"escalated"`
	StopReason     string               `json:"stop_reason"`
	Duration       time.Duration        `json:"duration"`
}

// Runner composes the page fetcher, pagination walker and rule evaluator
type Runner struct {
	fetcher    interfaces.PageFetcher
	evaluator  *extraction.Evaluator
	capture    interfaces.CaptureRunner
	escalation EscalationPolicy
	sampleRows int
	maxPages   int
	logger     arbor.ILogger
}

// Option customises a Runner
type Option func(*Runner)

// WithEscalationPolicy replaces the hybrid escalation heuristic
func WithEscalationPolicy(policy EscalationPolicy) Option {
	return func(r *Runner) { r.escalation = policy }
}

// WithCaptureRunner enables llm-mode assignments
func WithCaptureRunner(capture interfaces.CaptureRunner) Option {
	return func(r *Runner) { r.capture = capture }
}

// NewRunner creates an extraction runner
func NewRunner(fetcher interfaces.PageFetcher, evaluator *extraction.Evaluator, config *common.JobsConfig, logger arbor.ILogger, opts ...Option) *Runner {
	if evaluator == nil {
		evaluator = extraction.NewEvaluator(nil)
	}
	r := &Runner{
		fetcher:    fetcher,
		evaluator:  evaluator,
		escalation: EmptyPagePolicy{},
		sampleRows: DefaultSampleRows,
		logger:     logger,
	}
	if config != nil {
		if config.SampleMaxRows > 0 {
			r.sampleRows = config.SampleMaxRows
		}
		r.maxPages = config.MaxPagesCeiling
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Evaluator returns the rule evaluator used by the runner
func (r *Runner) Evaluator() *extraction.Evaluator {
	return r.evaluator
}

// run holds the mutable state of one Run call
type run struct {
	req          Request
	reporter     Reporter
	rules        []*models.ExtractionRule
	itemSelector string
	scraper      models.ScraperType
	escalated    bool
	rowLimit     int
	rowIndex     int
	outcome      *Outcome
}

// Run executes the assignment once. Cancellation is observed between pages
// and between rows; a cancelled run returns the context error.
func (r *Runner) Run(ctx context.Context, req Request, reporter Reporter) (*Outcome, error) {
	if reporter == nil {
		reporter = NopReporter{}
	}
	start := time.Now()
	outcome := &Outcome{}

	state, err := r.prepare(req, reporter, outcome)
	if err != nil {
		return outcome, err
	}

	walker, err := pagination.NewWalker(req.Assignment.ResolveStartURL(req.Source), req.Assignment.Pagination, r.maxPages)
	if err != nil {
		return outcome, err
	}
	outcome.PagesTotal = walker.MaxPages()

	reporter.Log(models.LogLevelInfo, fmt.Sprintf("Run started: mode=%s method=%s scraper=%s pagination=%s item_selector=%q",
		state.req.Mode, req.Assignment.Method(), state.scraper, req.Assignment.Pagination.TypeOrDefault(), state.itemSelector), "", nil)

	for {
		if err := ctx.Err(); err != nil {
			return r.finish(outcome, start), err
		}
		if state.rowLimit > 0 && len(outcome.Rows) >= state.rowLimit {
			outcome.StopReason = "row_limit"
			break
		}

		step, ok := walker.Next()
		if !ok {
			outcome.StopReason = walker.StopReason()
			break
		}

		obs, err := r.processStep(ctx, state, step)
		if err != nil {
			return r.finish(outcome, start), err
		}
		walker.Observe(obs)
		outcome.PagesProcessed = step.Number

		reporter.Progress(Progress{
			PagesProcessed: outcome.PagesProcessed,
			PagesTotal:     outcome.PagesTotal,
			RowsExtracted:  len(outcome.Rows),
			RowsFailed:     outcome.RowsFailed,
			CurrentURL:     step.URL,
			Strategy:       outcome.Strategy,
		})
	}

	r.finish(outcome, start)
	r.logger.Debug().
		Str("assignment_id", req.Assignment.ID).
		Str("mode", string(state.req.Mode)).
		Int("pages", outcome.PagesProcessed).
		Int("rows", outcome.RowsExtracted).
		Int("rows_failed", outcome.RowsFailed).
		Bool("escalated", outcome.Escalated).
		Dur("duration", outcome.Duration).
		Msg("Extraction run finished")
	reporter.Log(models.LogLevelInfo, fmt.Sprintf("Run finished: pages=%d rows=%d failed=%d stop=%s",
		outcome.PagesProcessed, outcome.RowsExtracted, outcome.RowsFailed, outcome.StopReason), "", nil)

	if outcome.RowsExtracted == 0 {
		return outcome, noDataError(outcome)
	}
	return outcome, nil
}

func (r *Runner) prepare(req Request, reporter Reporter, outcome *Outcome) (*run, error) {
	if req.Assignment == nil || req.Source == nil {
		return nil, models.NewConfigurationError("assignment", "assignment and web source are required")
	}
	if req.Mode == "" {
		req.Mode = ModeFull
	}

	state := &run{
		req:      req,
		reporter: reporter,
		scraper:  req.Source.Config.ScraperTypeOrDefault(),
		outcome:  outcome,
	}
	if req.Mode == ModeSample {
		state.rowLimit = req.MaxRows
		if state.rowLimit <= 0 {
			state.rowLimit = r.sampleRows
		}
	}

	switch req.Assignment.Method() {
	case models.ExtractionLLM:
		if req.Assignment.Capture == nil || len(req.Assignment.Capture.Columns) == 0 {
			return nil, models.NewConfigurationError("capture", "llm extraction requires a capture configuration")
		}
		if r.capture == nil {
			return nil, models.NewConfigurationError("capture", "no LLM provider is configured")
		}
		for _, col := range req.Assignment.Capture.Columns {
			outcome.Columns = append(outcome.Columns, col.Name)
		}
	default:
		state.rules = activeRules(req.Rules)
		if len(state.rules) == 0 {
			return nil, models.NewConfigurationError("rules", "assignment has no active extraction rules")
		}
		for _, rule := range state.rules {
			outcome.Columns = append(outcome.Columns, rule.TargetColumn)
		}
		state.itemSelector = req.Assignment.ItemSelector
		if state.itemSelector == "" {
			state.itemSelector = extraction.InferItemSelector(state.rules)
		}
	}
	return state, nil
}

// processStep fetches one page, applies the hybrid policy and extracts its rows
func (r *Runner) processStep(ctx context.Context, state *run, step pagination.Step) (pagination.Observation, error) {
	strategy := r.initialStrategy(state, step)
	state.reporter.Progress(Progress{
		PagesProcessed: state.outcome.PagesProcessed,
		PagesTotal:     state.outcome.PagesTotal,
		RowsExtracted:  len(state.outcome.Rows),
		RowsFailed:     state.outcome.RowsFailed,
		CurrentURL:     step.URL,
		Strategy:       strategy,
	})

	result, err := r.fetch(ctx, state, step, strategy)
	if err != nil {
		if ctx.Err() != nil {
			return pagination.Observation{}, ctx.Err()
		}
		state.outcome.FetchFailures++
		state.outcome.LastFetchError = err.Error()
		state.reporter.Log(models.LogLevelWarn, "Page skipped: "+err.Error(), step.URL, nil)
		return pagination.Observation{Failed: true}, nil
	}

	page, err := extraction.ParseDocument(result.HTML, pageURL(result, step))
	if err != nil {
		state.outcome.FetchFailures++
		state.outcome.LastFetchError = err.Error()
		state.reporter.Log(models.LogLevelWarn, "Page skipped: "+err.Error(), step.URL, nil)
		return pagination.Observation{Failed: true}, nil
	}

	extracted, err := r.extract(ctx, state, page, result)
	if err != nil {
		return pagination.Observation{}, err
	}

	if state.scraper == models.ScraperTypeHybrid && result.Strategy == models.FetchHTTP &&
		r.escalation.ShouldEscalate(r.signal(state, result, extracted)) {
		state.reporter.Log(models.LogLevelInfo, "HTTP page looks empty, retrying with browser", step.URL, nil)
		rendered, err := r.fetch(ctx, state, step, models.FetchBrowser)
		switch {
		case err != nil && ctx.Err() != nil:
			return pagination.Observation{}, ctx.Err()
		case err != nil:
			state.reporter.Log(models.LogLevelWarn, "Browser retry failed: "+err.Error(), step.URL, nil)
		default:
			if renderedPage, perr := extraction.ParseDocument(rendered.HTML, pageURL(rendered, step)); perr == nil {
				state.escalated = true
				state.outcome.Escalated = true
				result, page = rendered, renderedPage
				if extracted, err = r.extract(ctx, state, page, result); err != nil {
					return pagination.Observation{}, err
				}
			}
		}
	}
	state.outcome.Strategy = result.Strategy

	if extracted.items == 0 {
		state.reporter.Log(models.LogLevelInfo, "Page contributed no items", step.URL, nil)
	}

	r.collect(ctx, state, step, extracted)

	obs := pagination.Observation{Items: extracted.items}
	if state.req.Assignment.Pagination.TypeOrDefault() == models.PaginationNextButton {
		obs.NextURL = r.nextLink(page, state.req.Assignment.Pagination.NextSelector)
	}
	return obs, nil
}

func (r *Runner) initialStrategy(state *run, step pagination.Step) models.FetchStrategy {
	switch state.scraper {
	case models.ScraperTypeBrowser:
		return models.FetchBrowser
	case models.ScraperTypeHybrid:
		if state.escalated || step.ScrollSteps > 0 {
			return models.FetchBrowser
		}
	}
	return models.FetchHTTP
}

func (r *Runner) fetch(ctx context.Context, state *run, step pagination.Step, strategy models.FetchStrategy) (*models.PageResult, error) {
	return r.fetcher.Fetch(ctx, models.FetchRequest{
		SourceID:    state.req.Source.ID,
		URL:         step.URL,
		Strategy:    strategy,
		Config:      state.req.Source.Config,
		Auth:        state.req.Auth,
		ScrollSteps: step.ScrollSteps,
	})
}

// pageExtraction is the raw outcome of evaluating one page
type pageExtraction struct {
	items    int
	rows     []models.Row
	failures [][]*models.FieldFailure // Parallel to rows; non-empty marks a failed row
}

func (r *Runner) extract(ctx context.Context, state *run, page *extraction.Fragment, result *models.PageResult) (*pageExtraction, error) {
	if state.req.Assignment.Method() == models.ExtractionLLM {
		rows, err := r.capture.Capture(ctx, state.req.Assignment.Capture, result)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			state.reporter.Log(models.LogLevelWarn, "Capture failed: "+err.Error(), result.FinalURL, nil)
			return &pageExtraction{}, nil
		}
		out := &pageExtraction{items: len(rows), rows: rows, failures: make([][]*models.FieldFailure, len(rows))}
		for i, row := range rows {
			out.failures[i] = captureFailures(state.req.Assignment.Capture, row)
		}
		return out, nil
	}

	items, err := r.evaluator.Items(page, state.itemSelector)
	if err != nil {
		return nil, models.NewConfigurationError("item_selector", "invalid item selector %q: %v", state.itemSelector, err)
	}

	out := &pageExtraction{items: len(items)}
	if state.itemSelector == "" && !r.anyRuleMatches(page, state.rules) {
		out.items = 0
		return out, nil
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, failures := r.evaluator.EvaluateRow(item, state.rules)
		out.rows = append(out.rows, row)
		out.failures = append(out.failures, failures)
	}
	return out, nil
}

// collect moves valid rows into the outcome, counting and logging failed ones
func (r *Runner) collect(ctx context.Context, state *run, step pagination.Step, extracted *pageExtraction) {
	for i, row := range extracted.rows {
		if i < step.SkipItems {
			continue
		}
		if ctx.Err() != nil || (state.rowLimit > 0 && len(state.outcome.Rows) >= state.rowLimit) {
			return
		}

		index := state.rowIndex
		state.rowIndex++

		if failures := extracted.failures[i]; len(failures) > 0 {
			state.outcome.RowsFailed++
			if state.outcome.FirstFailure == nil {
				state.outcome.FirstFailure = failures[0]
			}
			for _, failure := range failures {
				state.reporter.Log(models.LogLevelWarn, "Row excluded: "+failure.Error(), step.URL, &index)
			}
			continue
		}
		state.outcome.Rows = append(state.outcome.Rows, row)
	}
}

func (r *Runner) signal(state *run, result *models.PageResult, extracted *pageExtraction) PageSignal {
	return PageSignal{
		URL:          result.FinalURL,
		Strategy:     result.Strategy,
		StatusCode:   result.StatusCode,
		ItemSelector: state.itemSelector,
		ItemCount:    extracted.items,
		ContentBytes: len(result.HTML),
	}
}

func (r *Runner) anyRuleMatches(page *extraction.Fragment, rules []*models.ExtractionRule) bool {
	for _, rule := range rules {
		nodes, err := r.evaluator.Items(page, rule.Selector)
		if err == nil && len(nodes) > 0 {
			return true
		}
	}
	return false
}

// nextLink reads the continuation href for next_button pagination
func (r *Runner) nextLink(page *extraction.Fragment, selector string) string {
	rule := &models.ExtractionRule{
		TargetColumn: "next",
		Selector:     selector,
		SelectorKind: extraction.DetectSelectorKind(selector),
		Attribute:    models.AttributeHref,
		IsActive:     true,
	}
	value, err := r.evaluator.Evaluate(page, rule)
	if err != nil || value == nil {
		return ""
	}
	href, _ := value.(string)
	return href
}

func (r *Runner) finish(outcome *Outcome, start time.Time) *Outcome {
	outcome.RowsExtracted = len(outcome.Rows)
	outcome.Duration = time.Since(start)
	return outcome
}

func noDataError(outcome *Outcome) error {
	switch {
	case outcome.FirstFailure != nil:
		return fmt.Errorf("%w: %d rows failed, first: %s", models.ErrNoDataExtracted, outcome.RowsFailed, outcome.FirstFailure.Error())
	case outcome.LastFetchError != "":
		return fmt.Errorf("%w: %d pages failed to fetch, last: %s", models.ErrNoDataExtracted, outcome.FetchFailures, outcome.LastFetchError)
	default:
		return models.ErrNoDataExtracted
	}
}

func activeRules(rules []*models.ExtractionRule) []*models.ExtractionRule {
	active := make([]*models.ExtractionRule, 0, len(rules))
	for _, rule := range rules {
		if rule.IsActive {
			active = append(active, rule)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].SortOrder < active[j].SortOrder })
	return active
}

// captureFailures checks required capture columns, mirroring the rule path
func captureFailures(config *models.CaptureConfig, row models.Row) []*models.FieldFailure {
	var failures []*models.FieldFailure
	for _, col := range config.Columns {
		if !col.Required {
			continue
		}
		if v, ok := row[col.Name]; !ok || v == nil || v == "" {
			failures = append(failures, &models.FieldFailure{
				Kind:    models.FieldMissingRequired,
				Column:  col.Name,
				Message: "capture returned no value",
			})
		}
	}
	return failures
}

func pageURL(result *models.PageResult, step pagination.Step) string {
	if result.FinalURL != "" {
		return result.FinalURL
	}
	return step.URL
}

// IsCancellation reports whether err ended a run through cancellation
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, models.ErrCancelled)
}
