// Package extraction turns page fragments into typed rows by applying
// extraction rules. Evaluation is a pure function of the fragment, the
// rule and the page base URL; the caches below only memoise compilation.
package extraction

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ternarybob/quarry/internal/models"
)

// Evaluator applies extraction rules to page fragments
type Evaluator struct {
	registry  *Registry
	selectors selectorCache
	patterns  patternCache
}

// NewEvaluator creates an evaluator. A nil registry uses the built-in transforms.
func NewEvaluator(registry *Registry) *Evaluator {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Evaluator{registry: registry}
}

// Registry returns the custom transform allow-list
func (e *Evaluator) Registry() *Registry {
	return e.registry
}

// Items locates the repeating element instances of a page in document order.
// An empty selector yields the whole page as the only item.
func (e *Evaluator) Items(page *Fragment, selector string) ([]*Fragment, error) {
	if strings.TrimSpace(selector) == "" {
		return []*Fragment{page}, nil
	}
	sel, err := e.selectors.get(DetectSelectorKind(selector), selector)
	if err != nil {
		return nil, err
	}
	nodes := sel.matchAll(page.Node)
	items := make([]*Fragment, len(nodes))
	for i, n := range nodes {
		items[i] = page.child(n)
	}
	return items, nil
}

// Evaluate applies one rule to one fragment. The returned error is always a
// *models.FieldFailure.
func (e *Evaluator) Evaluate(fragment *Fragment, rule *models.ExtractionRule) (interface{}, error) {
	sel, err := e.selectors.get(rule.Kind(), rule.Selector)
	if err != nil {
		return nil, e.failure(rule, models.FieldSelectorInvalid, "", err.Error())
	}

	raw, found := "", false
	if nodes := sel.matchAll(fragment.Node); len(nodes) > 0 {
		raw, found = readAttribute(fragment, nodes[0], rule.AttributeOrDefault())
		if strings.TrimSpace(raw) == "" {
			found = false
		}
	}

	if !found {
		return e.fallback(rule, "")
	}

	transformed, err := e.applyTransform(raw, rule.Transform)
	if err != nil {
		if rule.DefaultValue != nil {
			return e.fallback(rule, raw)
		}
		return nil, e.failure(rule, models.FieldTransformFailed, raw, err.Error())
	}

	value, err := coerce(transformed, rule.DataType)
	if err != nil {
		return nil, e.failure(rule, models.FieldCoercionFailed, fmt.Sprintf("%v", transformed), err.Error())
	}

	if rule.ValidationRegex != "" && value != nil {
		if err := e.validate(rule, value); err != nil {
			return nil, err
		}
	}
	return value, nil
}

// fallback resolves a field with no usable match: the default value coerced
// to the declared type, a missing-required failure, or null.
func (e *Evaluator) fallback(rule *models.ExtractionRule, raw string) (interface{}, error) {
	if rule.DefaultValue != nil {
		value, err := coerce(*rule.DefaultValue, rule.DataType)
		if err != nil {
			return nil, e.failure(rule, models.FieldCoercionFailed, *rule.DefaultValue, "default value: "+err.Error())
		}
		return value, nil
	}
	if rule.IsRequired {
		return nil, e.failure(rule, models.FieldMissingRequired, raw, fmt.Sprintf("no value for selector %q", rule.Selector))
	}
	return nil, nil
}

func (e *Evaluator) validate(rule *models.ExtractionRule, value interface{}) error {
	re, err := e.patterns.get(rule.ValidationRegex)
	if err != nil {
		return e.failure(rule, models.FieldValidationFailed, "", "invalid validation pattern: "+err.Error())
	}
	s, err := stringForm(value)
	if err != nil {
		return e.failure(rule, models.FieldValidationFailed, "", err.Error())
	}
	if !re.MatchString(s) {
		return e.failure(rule, models.FieldValidationFailed, s, fmt.Sprintf("value does not match %q", rule.ValidationRegex))
	}
	return nil
}

func (e *Evaluator) failure(rule *models.ExtractionRule, kind models.FieldFailureKind, value, message string) *models.FieldFailure {
	return &models.FieldFailure{
		Kind:    kind,
		Column:  rule.TargetColumn,
		RuleID:  rule.ID,
		Value:   value,
		Message: message,
	}
}

// EvaluateRow applies every active rule to one item. A row with any field
// failure is invalid and must be excluded by the caller.
func (e *Evaluator) EvaluateRow(item *Fragment, rules []*models.ExtractionRule) (models.Row, []*models.FieldFailure) {
	row := make(models.Row, len(rules))
	var failures []*models.FieldFailure
	for _, rule := range rules {
		if !rule.IsActive {
			continue
		}
		value, err := e.Evaluate(item, rule)
		if err != nil {
			failures = append(failures, err.(*models.FieldFailure))
			continue
		}
		row[rule.TargetColumn] = value
	}
	return row, failures
}

// readAttribute extracts the rule attribute from a matched node
func readAttribute(fragment *Fragment, n *html.Node, attribute string) (string, bool) {
	sel := goquery.NewDocumentFromNode(n).Selection

	switch attribute {
	case models.AttributeText:
		return strings.Join(strings.Fields(sel.Text()), " "), true
	case models.AttributeHTML:
		markup, err := sel.Html()
		if err != nil {
			return "", false
		}
		return markup, true
	case models.AttributeHref, models.AttributeSrc:
		value, ok := attributeValue(sel, n, attribute)
		if !ok {
			return "", false
		}
		return fragment.Resolve(value), true
	default:
		return attributeValue(sel, n, attribute)
	}
}

// attributeValue reads a DOM attribute. XPath attribute selections arrive as
// detached element nodes named after the attribute and holding its value as text.
func attributeValue(sel *goquery.Selection, n *html.Node, attribute string) (string, bool) {
	if value, ok := sel.Attr(attribute); ok {
		return value, true
	}
	if n.Parent == nil && n.Data == attribute && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
		return n.FirstChild.Data, true
	}
	return "", false
}

// ValidateRule checks a rule before it is persisted: the selector compiles,
// the transform is well formed (registered custom function, known date
// tokens and timezone) and the validation pattern compiles.
func (e *Evaluator) ValidateRule(rule *models.ExtractionRule) error {
	if err := CompileSelector(rule.Kind(), rule.Selector); err != nil {
		return models.NewConfigurationError("selector", "%v", err)
	}
	if rule.Transform != nil {
		if err := rule.Transform.Validate(); err != nil {
			return models.NewConfigurationError("transform", "%v", err)
		}
		if rule.Transform.Kind == models.TransformCustom {
			if _, ok := e.registry.Lookup(rule.Transform.Custom.Name); !ok {
				return models.NewConfigurationError("transform", "custom transform %q is not registered (available: %s)",
					rule.Transform.Custom.Name, strings.Join(e.registry.Names(), ", "))
			}
		}
		if date := rule.Transform.Date; rule.Transform.Kind == models.TransformDate && date != nil {
			if date.Format != "" {
				if _, err := goLayout(date.Format); err != nil {
					return models.NewConfigurationError("transform", "%v", err)
				}
			}
			if date.Timezone != "" {
				if _, err := parseDate("2006-01-02", "", date.Timezone); err != nil {
					return models.NewConfigurationError("transform", "%v", err)
				}
			}
		}
	}
	if rule.ValidationRegex != "" {
		if _, err := e.patterns.get(rule.ValidationRegex); err != nil {
			return models.NewConfigurationError("validation_regex", "%v", err)
		}
	}
	if rule.DefaultValue != nil {
		if _, err := coerce(*rule.DefaultValue, rule.DataType); err != nil {
			return models.NewConfigurationError("default_value", "%v", err)
		}
	}
	return nil
}
