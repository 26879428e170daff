package analysis

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ternarybob/quarry/internal/models"
)

var pageParams = []string{"page", "p", "pg", "paged", "pagenum", "page_num"}

var pathPagePattern = regexp.MustCompile(`/page/(\d+)(/?)`)

var nextLabels = map[string]bool{
	"next": true, "next page": true, "next »": true, "next ›": true, "next >": true,
	"»": true, "›": true, ">": true, "older posts": true,
}

// detectPagination infers the pagination scheme from the page's links.
// An explicit next link wins over numbered links.
func detectPagination(doc *goquery.Document, base *url.URL) models.PaginationConfig {
	if doc.Find(`a[rel~="next"]`).Length() > 0 {
		return models.PaginationConfig{Type: models.PaginationNextButton, NextSelector: `a[rel~="next"]`}
	}
	if next := nextLinkSelector(doc); next != "" {
		return models.PaginationConfig{Type: models.PaginationNextButton, NextSelector: next}
	}

	paramCounts := make(map[string]int)
	pathTemplate := ""
	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href := resolve(base, link.AttrOr("href", ""))
		u, err := url.Parse(href)
		if err != nil {
			return
		}
		query := u.Query()
		for _, param := range pageParams {
			if _, err := strconv.Atoi(query.Get(param)); err == nil {
				paramCounts[param]++
			}
		}
		if pathTemplate == "" && pathPagePattern.MatchString(u.Path) {
			pathTemplate = pathPagePattern.ReplaceAllString(href, "/page/{page}${2}")
		}
	})

	best, bestCount := "", 0
	for _, param := range pageParams {
		if paramCounts[param] > bestCount {
			best, bestCount = param, paramCounts[param]
		}
	}
	switch {
	case bestCount > 0:
		return models.PaginationConfig{Type: models.PaginationQueryParam, Param: best}
	case pathTemplate != "":
		return models.PaginationConfig{Type: models.PaginationPath, PathTemplate: pathTemplate}
	default:
		return models.PaginationConfig{Type: models.PaginationNone}
	}
}

func nextLinkSelector(doc *goquery.Document) string {
	selector := ""
	doc.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		for _, class := range safeClasses(link) {
			if strings.Contains(strings.ToLower(class), "next") {
				selector = "a." + class
				return false
			}
		}
		text := strings.TrimSpace(link.Text())
		if nextLabels[strings.ToLower(text)] {
			selector = fmt.Sprintf("a:contains(%q)", text)
			return false
		}
		return true
	})
	return selector
}
