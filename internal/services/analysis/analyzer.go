// -----------------------------------------------------------------------
// Structure Analyzer - Repeating elements, pagination and forms of a page
// -----------------------------------------------------------------------

package analysis

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/models"
)

const (
	minRepeatCount    = 3
	maxRepeating      = 5
	maxFieldsPerItem  = 12
	maxSampleHTML     = 2000
	maxSampleValueLen = 120
)

// Analyzer detects the extraction-relevant structure of a page
type Analyzer struct {
	sanitizer *bluemonday.Policy
	logger    arbor.ILogger
}

// NewAnalyzer creates a structure analyzer
func NewAnalyzer(logger arbor.ILogger) *Analyzer {
	return &Analyzer{
		sanitizer: bluemonday.UGCPolicy(),
		logger:    logger,
	}
}

// Analyze parses html fetched from pageURL and returns its structure
func (a *Analyzer) Analyze(pageURL, html string) (*models.WebsiteStructure, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML for analysis: %w", err)
	}

	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}

	structure := &models.WebsiteStructure{
		AnalyzedURL:       pageURL,
		RepeatingElements: a.detectRepeating(doc),
		Pagination:        detectPagination(doc, base),
		Forms:             detectForms(doc, base),
		AnalyzedAt:        time.Now(),
	}

	a.logger.Debug().
		Str("url", pageURL).
		Int("repeating_elements", len(structure.RepeatingElements)).
		Str("pagination", string(structure.Pagination.Type)).
		Int("forms", len(structure.Forms)).
		Msg("Page structure analyzed")
	return structure, nil
}

func (a *Analyzer) sampleHTML(sel *goquery.Selection) string {
	raw, err := goquery.OuterHtml(sel)
	if err != nil {
		return ""
	}
	clean := strings.TrimSpace(a.sanitizer.Sanitize(raw))
	if len(clean) > maxSampleHTML {
		clean = clean[:maxSampleHTML]
	}
	return clean
}

func detectForms(doc *goquery.Document, base *url.URL) []models.DetectedForm {
	var forms []models.DetectedForm
	doc.Find("form").Each(func(_ int, form *goquery.Selection) {
		action, _ := form.Attr("action")
		method := strings.ToUpper(strings.TrimSpace(form.AttrOr("method", "GET")))
		if method == "" {
			method = "GET"
		}

		var inputs []string
		form.Find("input[name], select[name], textarea[name]").Each(func(_ int, input *goquery.Selection) {
			inputs = append(inputs, input.AttrOr("name", ""))
		})

		forms = append(forms, models.DetectedForm{
			Action: resolve(base, action),
			Method: method,
			Inputs: inputs,
		})
	})
	return forms
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if base == nil || ref == "" {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
