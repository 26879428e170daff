package extraction

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ternarybob/quarry/internal/models"
)

// Fragment is a node of a parsed page together with the URL relative links resolve against
type Fragment struct {
	Node    *html.Node
	BaseURL *url.URL
}

// ParseDocument parses page HTML into a root fragment. A <base href> in the
// document overrides pageURL for link resolution.
func ParseDocument(content, pageURL string) (*Fragment, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var base *url.URL
	if pageURL != "" {
		base, err = url.Parse(pageURL)
		if err != nil {
			return nil, fmt.Errorf("invalid page URL %q: %w", pageURL, err)
		}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if baseHref, err := url.Parse(strings.TrimSpace(href)); err == nil {
			if base != nil {
				baseHref = base.ResolveReference(baseHref)
			}
			base = baseHref
		}
	}

	return &Fragment{Node: doc.Nodes[0], BaseURL: base}, nil
}

// HTML returns the outer markup of the fragment
func (f *Fragment) HTML() string {
	var b strings.Builder
	if err := html.Render(&b, f.Node); err != nil {
		return ""
	}
	return b.String()
}

// Resolve makes ref absolute against the fragment base URL
func (f *Fragment) Resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if f.BaseURL == nil || ref == "" {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return f.BaseURL.ResolveReference(u).String()
}

func (f *Fragment) child(n *html.Node) *Fragment {
	return &Fragment{Node: n, BaseURL: f.BaseURL}
}

// DetectSelectorKind guesses the selector language of an item selector
func DetectSelectorKind(selector string) models.SelectorKind {
	s := strings.TrimSpace(selector)
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") || strings.HasPrefix(s, "(") {
		return models.SelectorXPath
	}
	return models.SelectorCSS
}

// InferItemSelector derives the repeating element selector from the rules
// when every CSS rule starts with the same compound selector and descends
// from it. It returns "" when no common container exists, in which case the
// whole page is evaluated as a single item.
func InferItemSelector(rules []*models.ExtractionRule) string {
	common := ""
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		if rule.Kind() != models.SelectorCSS {
			return ""
		}
		tokens := strings.Fields(strings.ReplaceAll(rule.Selector, ">", " > "))
		if len(tokens) < 2 || strings.Contains(tokens[0], ",") {
			return ""
		}
		if common == "" {
			common = tokens[0]
		} else if common != tokens[0] {
			return ""
		}
	}
	return common
}
