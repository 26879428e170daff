package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"

	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/extraction"
)

const maxPromptHTML = 40000

const analyzeSystemPrompt = `You map columns of a relational table onto a web page listing.
Reply with JSON only: {"suggestions":[{"column":"","selector":"","selector_kind":"css","attribute":"text","data_type":"string","confidence":0.0,"reasoning":""}]}.
Each selector must address the value inside every repeating item when evaluated against the whole page.
attribute is text, href, src, html or a literal attribute name. data_type is one of string, integer, number, boolean, date, json.
Omit columns the page does not contain.`

const captureConfigSystemPrompt = `You write capture configurations that let a model extract table rows from a page rendered as markdown.
Reply with JSON only: {"item_hint":"","instructions":"","columns":[{"name":"","description":"","data_type":"string","required":false}]}.
item_hint describes one repeating item in plain language. instructions covers formatting and edge cases.`

// Analyzer produces column suggestions and capture configurations with an LLM
type Analyzer struct {
	provider interfaces.LLMProvider
	logger   arbor.ILogger
}

// NewAnalyzer creates an analyzer backed by provider
func NewAnalyzer(provider interfaces.LLMProvider, logger arbor.ILogger) *Analyzer {
	return &Analyzer{provider: provider, logger: logger}
}

// AnalyzePage asks the provider to map columns onto selectors in html.
// Suggestions for unknown columns or with selectors that do not compile
// are dropped.
func (a *Analyzer) AnalyzePage(ctx context.Context, html string, columns []models.ColumnSchema) ([]models.ColumnSuggestion, error) {
	if len(columns) == 0 {
		return nil, models.NewConfigurationError("columns", "no target columns to analyze")
	}

	var prompt strings.Builder
	prompt.WriteString("Target columns:\n")
	for _, col := range columns {
		fmt.Fprintf(&prompt, "- %s (%s", col.Name, col.DataType)
		if !col.Nullable {
			prompt.WriteString(", not null")
		}
		if col.IsPrimaryKey {
			prompt.WriteString(", primary key")
		}
		prompt.WriteString(")\n")
	}
	prompt.WriteString("\nPage HTML:\n")
	prompt.WriteString(condenseHTML(html))

	reply, err := a.provider.Complete(ctx, analyzeSystemPrompt, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("page analysis failed: %w", err)
	}

	raw, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}
	list := gjson.Parse(raw)
	if !list.IsArray() {
		list = list.Get("suggestions")
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("LLM reply has no suggestions array")
	}

	var parsed []models.ColumnSuggestion
	if err := json.Unmarshal([]byte(list.Raw), &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode suggestions: %w", err)
	}

	byName := make(map[string]models.ColumnSchema, len(columns))
	for _, col := range columns {
		byName[strings.ToLower(col.Name)] = col
	}

	suggestions := make([]models.ColumnSuggestion, 0, len(parsed))
	for _, s := range parsed {
		col, ok := byName[strings.ToLower(s.Column)]
		if !ok || strings.TrimSpace(s.Selector) == "" {
			continue
		}
		s.Column = col.Name
		s.Selector = strings.TrimSpace(s.Selector)
		if s.SelectorKind != models.SelectorCSS && s.SelectorKind != models.SelectorXPath {
			s.SelectorKind = extraction.DetectSelectorKind(s.Selector)
		}
		if err := extraction.CompileSelector(s.SelectorKind, s.Selector); err != nil {
			a.logger.Debug().Str("column", s.Column).Str("selector", s.Selector).Err(err).Msg("Dropping suggestion with invalid selector")
			continue
		}
		if s.Attribute == "" {
			s.Attribute = string(models.AttributeText)
		}
		if !validDataType(s.DataType) {
			s.DataType = col.RuleDataType()
		}
		s.Confidence = clamp(s.Confidence)
		suggestions = append(suggestions, s)
	}

	a.logger.Info().
		Str("provider", a.provider.Name()).
		Int("columns", len(columns)).
		Int("suggestions", len(suggestions)).
		Msg("LLM page analysis complete")
	return suggestions, nil
}

// CreateCaptureConfig builds the capture configuration replayed on every
// page of an llm-mode run. Every analysed column is carried into the
// configuration even when the provider omits it.
func (a *Analyzer) CreateCaptureConfig(ctx context.Context, analysis []models.ColumnSuggestion, html string) (*models.CaptureConfig, error) {
	if len(analysis) == 0 {
		return nil, models.NewConfigurationError("analysis", "no column analysis to build a capture configuration from")
	}

	var prompt strings.Builder
	prompt.WriteString("Columns and where they were found:\n")
	for _, s := range analysis {
		fmt.Fprintf(&prompt, "- %s (%s): %s [%s]", s.Column, s.DataType, s.Selector, s.Attribute)
		if s.Reasoning != "" {
			fmt.Fprintf(&prompt, " - %s", s.Reasoning)
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("\nPage HTML:\n")
	prompt.WriteString(condenseHTML(html))

	reply, err := a.provider.Complete(ctx, captureConfigSystemPrompt, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("capture configuration failed: %w", err)
	}
	raw, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}

	var config models.CaptureConfig
	if err := json.Unmarshal([]byte(raw), &config); err != nil {
		return nil, fmt.Errorf("failed to decode capture configuration: %w", err)
	}

	returned := make(map[string]int, len(config.Columns))
	for i, col := range config.Columns {
		returned[strings.ToLower(col.Name)] = i
	}
	columns := make([]models.CaptureColumn, 0, len(analysis))
	for _, s := range analysis {
		col := models.CaptureColumn{Name: s.Column, DataType: s.DataType}
		if i, ok := returned[strings.ToLower(s.Column)]; ok {
			col.Description = config.Columns[i].Description
			col.Required = config.Columns[i].Required
			if validDataType(config.Columns[i].DataType) {
				col.DataType = config.Columns[i].DataType
			}
		}
		if !validDataType(col.DataType) {
			col.DataType = models.DataTypeString
		}
		columns = append(columns, col)
	}

	config.Columns = columns
	config.Provider = a.provider.Name()
	config.CreatedAt = time.Now()

	a.logger.Info().
		Str("provider", config.Provider).
		Int("columns", len(columns)).
		Msg("Capture configuration created")
	return &config, nil
}

// condenseHTML strips non-content elements from the body and truncates
// the result to fit a prompt
func condenseHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return truncate(html, maxPromptHTML)
	}
	doc.Find("script, style, noscript, svg, iframe, template, head").Remove()
	body, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(body) == "" {
		return truncate(html, maxPromptHTML)
	}
	return truncate(strings.TrimSpace(body), maxPromptHTML)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// extractJSON returns the JSON document inside a model reply, tolerating
// markdown fences and surrounding prose
func extractJSON(reply string) (string, error) {
	text := strings.TrimSpace(reply)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}
	if gjson.Valid(text) {
		return text, nil
	}

	start := strings.IndexAny(text, "[{")
	if start >= 0 {
		closer := "}"
		if text[start] == '[' {
			closer = "]"
		}
		if end := strings.LastIndex(text, closer); end > start {
			candidate := text[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("LLM reply did not contain valid JSON")
}

func validDataType(dt models.DataType) bool {
	switch dt {
	case models.DataTypeString, models.DataTypeInteger, models.DataTypeNumber,
		models.DataTypeBoolean, models.DataTypeDate, models.DataTypeJSON:
		return true
	}
	return false
}

func clamp(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
