package extraction

import (
	"fmt"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"

	"github.com/ternarybob/quarry/internal/models"
)

// selectorCache memoises compiled selectors keyed by kind and expression
type selectorCache struct {
	compiled sync.Map
}

type compiledSelector struct {
	css   cascadia.Selector
	xpath *xpath.Expr
}

// CompileSelector checks that expr is valid for kind
func CompileSelector(kind models.SelectorKind, expr string) error {
	_, err := compile(kind, expr)
	return err
}

func compile(kind models.SelectorKind, expr string) (*compiledSelector, error) {
	if expr == "" {
		return nil, fmt.Errorf("selector is empty")
	}
	switch kind {
	case models.SelectorCSS, "":
		sel, err := cascadia.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid css selector %q: %w", expr, err)
		}
		return &compiledSelector{css: sel}, nil
	case models.SelectorXPath:
		expression, err := xpath.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath expression %q: %w", expr, err)
		}
		return &compiledSelector{xpath: expression}, nil
	default:
		return nil, fmt.Errorf("unknown selector kind %q", kind)
	}
}

func (c *selectorCache) get(kind models.SelectorKind, expr string) (*compiledSelector, error) {
	key := string(kind) + "\x00" + expr
	if v, ok := c.compiled.Load(key); ok {
		return v.(*compiledSelector), nil
	}
	sel, err := compile(kind, expr)
	if err != nil {
		return nil, err
	}
	c.compiled.Store(key, sel)
	return sel, nil
}

// matchAll returns matching nodes in document order, including root itself
func (c *compiledSelector) matchAll(root *html.Node) []*html.Node {
	if c.css != nil {
		return c.css.MatchAll(root)
	}
	return htmlquery.QuerySelectorAll(root, c.xpath)
}
