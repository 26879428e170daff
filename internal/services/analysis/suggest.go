package analysis

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/ternarybob/quarry/internal/models"
)

const minSuggestionScore = 0.35

// synonyms maps a name token onto the canonical token of its group
var synonyms = map[string]string{
	"title": "title", "name": "title", "heading": "title", "headline": "title",
	"h1": "title", "h2": "title", "h3": "title", "h4": "title",
	"price": "price", "cost": "price", "amount": "price",
	"url": "url", "link": "url", "href": "url",
	"image": "image", "img": "image", "photo": "image", "picture": "image", "thumbnail": "image", "src": "image",
	"description": "description", "desc": "description", "summary": "description", "excerpt": "description", "p": "description",
	"date": "date", "time": "date", "published": "date", "posted": "date",
	"author": "author", "byline": "author",
}

// SuggestRules maps target columns onto the fields of the page's top
// repeating element by name similarity. Primary keys are skipped.
func SuggestRules(structure *models.WebsiteStructure, columns []models.ColumnSchema) []models.ColumnSuggestion {
	if structure == nil || len(structure.RepeatingElements) == 0 {
		return nil
	}
	item := structure.RepeatingElements[0]

	used := make(map[int]bool)
	var suggestions []models.ColumnSuggestion
	for _, col := range columns {
		if col.IsPrimaryKey {
			continue
		}
		dataType := col.RuleDataType()

		best, bestScore := -1, 0.0
		for i, field := range item.Fields {
			score := similarity(col.Name, field.Name)
			if score == 0 {
				continue
			}
			if field.DataType == dataType {
				score += 0.1
			}
			if used[i] {
				score -= 0.2
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 || bestScore < minSuggestionScore {
			continue
		}
		used[best] = true

		field := item.Fields[best]
		if bestScore > 1 {
			bestScore = 1
		}
		suggestions = append(suggestions, models.ColumnSuggestion{
			Column:       col.Name,
			Selector:     item.Selector + " " + field.Selector,
			SelectorKind: models.SelectorCSS,
			Attribute:    field.Attribute,
			DataType:     dataType,
			Confidence:   bestScore,
			Reasoning:    fmt.Sprintf("field %q with sample %q", field.Name, field.SampleValue),
		})
	}
	return suggestions
}

// similarity scores two names in [0, 1]
func similarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	ta, tb := canonicalTokens(a), canonicalTokens(b)
	shared := 0
	for t := range ta {
		if tb[t] {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	score := 0.0
	if union > 0 {
		score = 0.9 * float64(shared) / float64(union)
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		if score < 0.75 {
			score = 0.75
		}
	}
	return score
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func canonicalTokens(s string) map[string]bool {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		if canonical, ok := synonyms[t]; ok {
			t = canonical
		}
		set[t] = true
	}
	return set
}
