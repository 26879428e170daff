package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/ternarybob/quarry/internal/models"
)

var (
	safeIdentifier = regexp.MustCompile(`^[A-Za-z_-][A-Za-z0-9_-]*$`)
	numberPattern  = regexp.MustCompile(`^[^\d\s-]{0,3}\s?-?\d[\d.,\s]*\s?[^\d\s]{0,4}$`)
)

var skipTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"br": true, "hr": true, "meta": true, "link": true, "head": true,
	"option": true, "input": true, "source": true, "svg": true, "path": true, "iframe": true,
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04",
	"02/01/2006",
	"01/02/2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
}

type candidate struct {
	selector string
	members  *goquery.Selection
	score    float64
}

// detectRepeating finds sibling groups sharing a tag and class signature,
// ranked by member count times text density.
func (a *Analyzer) detectRepeating(doc *goquery.Document) []models.RepeatingElement {
	seen := make(map[string]bool)
	var candidates []candidate

	doc.Find("body, body *").Each(func(_ int, parent *goquery.Selection) {
		groups := make(map[string][]*html.Node)
		var order []string
		parent.Children().Each(func(_ int, child *goquery.Selection) {
			if skipTags[goquery.NodeName(child)] {
				return
			}
			sig := signature(child)
			if _, ok := groups[sig]; !ok {
				order = append(order, sig)
			}
			groups[sig] = append(groups[sig], child.Get(0))
		})

		for _, sig := range order {
			nodes := groups[sig]
			if len(nodes) < minRepeatCount {
				continue
			}
			selector := itemSelector(doc, parent, sig, len(nodes))
			if selector == "" || seen[selector] {
				continue
			}
			members := doc.FindNodes(nodes...)
			density := textDensity(members)
			if density < 2 {
				continue
			}
			seen[selector] = true
			candidates = append(candidates, candidate{
				selector: selector,
				members:  members,
				score:    float64(len(nodes)) * density,
			})
		}
	})

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxRepeating {
		candidates = candidates[:maxRepeating]
	}

	elements := make([]models.RepeatingElement, 0, len(candidates))
	for _, c := range candidates {
		first := c.members.First()
		elements = append(elements, models.RepeatingElement{
			Selector:   c.selector,
			ItemCount:  doc.Find(c.selector).Length(),
			SampleHTML: a.sampleHTML(first),
			Fields:     detectFields(first),
		})
	}
	return elements
}

// signature is tag plus sorted safe classes, usable as a CSS compound selector
func signature(sel *goquery.Selection) string {
	tag := goquery.NodeName(sel)
	classes := safeClasses(sel)
	sort.Strings(classes)
	if len(classes) == 0 {
		return tag
	}
	return tag + "." + strings.Join(classes, ".")
}

func safeClasses(sel *goquery.Selection) []string {
	var classes []string
	for _, class := range strings.Fields(sel.AttrOr("class", "")) {
		if safeIdentifier.MatchString(class) {
			classes = append(classes, class)
		}
	}
	return classes
}

// itemSelector returns a selector addressing the group. The bare signature
// is used when it matches exactly the group, otherwise it is scoped to
// the parent.
func itemSelector(doc *goquery.Document, parent *goquery.Selection, sig string, count int) string {
	if strings.Contains(sig, ".") && doc.Find(sig).Length() == count {
		return sig
	}

	parentSel := ""
	if id := parent.AttrOr("id", ""); id != "" && safeIdentifier.MatchString(id) {
		parentSel = goquery.NodeName(parent) + "#" + id
	} else if classes := safeClasses(parent); len(classes) > 0 {
		parentSel = goquery.NodeName(parent) + "." + strings.Join(classes, ".")
	} else if strings.Contains(sig, ".") {
		return sig
	} else {
		return ""
	}
	return parentSel + " > " + sig
}

func textDensity(members *goquery.Selection) float64 {
	total := 0
	members.Each(func(_ int, s *goquery.Selection) {
		n := len(strings.TrimSpace(s.Text()))
		if n > 200 {
			n = 200
		}
		total += n
	})
	if members.Length() == 0 {
		return 0
	}
	return float64(total) / float64(members.Length())
}

// detectFields lists the text, link and image values inside one item
func detectFields(item *goquery.Selection) []models.DetectedField {
	var fields []models.DetectedField
	names := make(map[string]int)
	seen := make(map[string]bool)

	add := func(el *goquery.Selection, suffix, attribute, value string) {
		if len(fields) >= maxFieldsPerItem {
			return
		}
		selector := relativeSelector(el, item)
		key := selector + "@" + attribute
		if seen[key] {
			return
		}
		seen[key] = true

		name := fieldName(el, item) + suffix
		names[name]++
		if names[name] > 1 {
			name = fmt.Sprintf("%s_%d", name, names[name])
		}

		if len(value) > maxSampleValueLen {
			value = value[:maxSampleValueLen]
		}
		fields = append(fields, models.DetectedField{
			Name:        name,
			Selector:    selector,
			Attribute:   attribute,
			SampleValue: value,
			DataType:    inferDataType(value, attribute),
		})
	}

	item.Find("*").Each(func(_ int, el *goquery.Selection) {
		switch goquery.NodeName(el) {
		case "img":
			if src := strings.TrimSpace(el.AttrOr("src", "")); src != "" {
				add(el, "", string(models.AttributeSrc), src)
			}
		case "a":
			if text := strings.TrimSpace(el.Text()); text != "" {
				add(el, "", string(models.AttributeText), text)
			}
			if href := strings.TrimSpace(el.AttrOr("href", "")); href != "" && !strings.HasPrefix(href, "#") {
				add(el, "_url", string(models.AttributeHref), href)
			}
		default:
			if skipTags[goquery.NodeName(el)] || el.ParentsFiltered("a").Length() > 0 {
				return
			}
			if text := ownText(el); text != "" {
				add(el, "", string(models.AttributeText), text)
			}
		}
	})
	return fields
}

// ownText joins the element's direct text nodes
func ownText(el *goquery.Selection) string {
	var parts []string
	for n := el.Get(0).FirstChild; n != nil; n = n.NextSibling {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
		}
	}
	return strings.Join(parts, " ")
}

// relativeSelector addresses el inside item by its first class, or by
// its parent's class when el has none
func relativeSelector(el, item *goquery.Selection) string {
	tag := goquery.NodeName(el)
	if classes := safeClasses(el); len(classes) > 0 {
		return tag + "." + classes[0]
	}
	if parent := el.Parent(); !parent.IsSelection(item) {
		if classes := safeClasses(parent); len(classes) > 0 {
			return goquery.NodeName(parent) + "." + classes[0] + " > " + tag
		}
	}
	return tag
}

func fieldName(el, item *goquery.Selection) string {
	name := goquery.NodeName(el)
	if classes := safeClasses(el); len(classes) > 0 {
		name = classes[0]
	} else if parent := el.Parent(); !parent.IsSelection(item) {
		if classes := safeClasses(parent); len(classes) > 0 {
			name = classes[0]
		}
	}
	return strings.Trim(strings.ToLower(strings.ReplaceAll(name, "-", "_")), "_")
}

func inferDataType(value, attribute string) models.DataType {
	if attribute == string(models.AttributeHref) || attribute == string(models.AttributeSrc) {
		return models.DataTypeString
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return models.DataTypeDate
		}
	}
	if numberPattern.MatchString(value) {
		return models.DataTypeNumber
	}
	return models.DataTypeString
}
