package llm

import (
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/ternarybob/arbor"
	"github.com/tidwall/gjson"

	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
	"github.com/ternarybob/quarry/internal/services/extraction"
)

const maxPromptMarkdown = 60000

const captureSystemPrompt = `You extract table rows from a web page rendered as markdown.
Reply with a JSON array only, one object per item, using exactly the column names given as keys.
Use JSON numbers for integer and number columns, true/false for boolean columns and ISO-8601 for dates.
Use null when an item has no value for a column. Do not invent items.`

// CaptureRunner replays a capture configuration against fetched pages
type CaptureRunner struct {
	provider interfaces.LLMProvider
	logger   arbor.ILogger
}

// NewCaptureRunner creates a capture runner backed by provider
func NewCaptureRunner(provider interfaces.LLMProvider, logger arbor.ILogger) *CaptureRunner {
	return &CaptureRunner{provider: provider, logger: logger}
}

// Capture converts the page to markdown, asks the provider for rows and
// coerces each value to its column type. Values that fail coercion become
// null so required-column checks flag them.
func (c *CaptureRunner) Capture(ctx context.Context, config *models.CaptureConfig, page *models.PageResult) ([]models.Row, error) {
	if config == nil || len(config.Columns) == 0 {
		return nil, models.NewConfigurationError("capture", "capture configuration has no columns")
	}

	markdown := toMarkdown(page.HTML, page.FinalURL, c.logger)
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}

	var prompt strings.Builder
	if config.ItemHint != "" {
		fmt.Fprintf(&prompt, "Each item is: %s\n", config.ItemHint)
	}
	if config.Instructions != "" {
		fmt.Fprintf(&prompt, "Instructions: %s\n", config.Instructions)
	}
	prompt.WriteString("Columns:\n")
	for _, col := range config.Columns {
		fmt.Fprintf(&prompt, "- %s (%s)", col.Name, col.DataType)
		if col.Required {
			prompt.WriteString(" required")
		}
		if col.Description != "" {
			fmt.Fprintf(&prompt, ": %s", col.Description)
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("\nPage:\n")
	prompt.WriteString(truncate(markdown, maxPromptMarkdown))

	reply, err := c.provider.Complete(ctx, captureSystemPrompt, prompt.String())
	if err != nil {
		return nil, fmt.Errorf("llm capture failed: %w", err)
	}
	raw, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}

	items := gjson.Parse(raw)
	if !items.IsArray() {
		items = items.Get("rows")
	}
	if !items.IsArray() {
		return nil, fmt.Errorf("LLM capture reply is not an array of rows")
	}

	var rows []models.Row
	items.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		row := make(models.Row, len(config.Columns))
		for _, col := range config.Columns {
			field := item.Get(gjson.Escape(col.Name))
			if !field.Exists() || field.Type == gjson.Null {
				row[col.Name] = nil
				continue
			}
			value, err := extraction.Coerce(field.Value(), col.DataType)
			if err != nil {
				c.logger.Debug().Str("column", col.Name).Str("value", field.String()).Err(err).Msg("Captured value failed coercion")
				value = nil
			}
			row[col.Name] = value
		}
		rows = append(rows, row)
		return true
	})

	c.logger.Debug().
		Str("provider", c.provider.Name()).
		Str("url", page.FinalURL).
		Int("markdown_length", len(markdown)).
		Int("rows", len(rows)).
		Msg("LLM capture complete")
	return rows, nil
}

// toMarkdown converts page HTML to markdown, falling back to condensed
// HTML when conversion fails or produces nothing
func toMarkdown(html, baseURL string, logger arbor.ILogger) string {
	if html == "" {
		return ""
	}
	converter := md.NewConverter(baseURL, true, nil)
	converter.Remove("script", "style", "noscript", "iframe")
	converted, err := converter.ConvertString(html)
	if err != nil {
		logger.Warn().Err(err).Msg("HTML to markdown conversion failed, using condensed HTML")
		return condenseHTML(html)
	}
	if strings.TrimSpace(converted) == "" {
		return condenseHTML(html)
	}
	return converted
}
