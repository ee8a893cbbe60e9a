// Package search holds helpers shared by the search provider clients.
package search

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMarket is used when a project's market code is unknown.
const DefaultMarket = "IT"

// Locale describes how a market code maps onto provider parameters.
type Locale struct {
	// LocationCode is the DataForSEO location id.
	LocationCode int
	Language     string
	// Country is the ISO 3166 code used by Google News editions.
	Country string
}

var locales = map[string]Locale{
	"IT": {LocationCode: 2380, Language: "it", Country: "IT"},
	"US": {LocationCode: 2840, Language: "en", Country: "US"},
	"UK": {LocationCode: 2826, Language: "en", Country: "GB"},
	"DE": {LocationCode: 2276, Language: "de", Country: "DE"},
	"FR": {LocationCode: 2250, Language: "fr", Country: "FR"},
	"ES": {LocationCode: 2724, Language: "es", Country: "ES"},
}

// LocaleFor resolves a market code, falling back to DefaultMarket.
func LocaleFor(market string) Locale {
	if l, ok := locales[strings.ToUpper(strings.TrimSpace(market))]; ok {
		return l
	}
	return locales[DefaultMarket]
}

// OrQuery combines terms into one quoted OR query so a single provider call
// covers the whole term set.
func OrQuery(terms []string) string {
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(strings.ReplaceAll(t, `"`, ""))
		if t == "" {
			continue
		}
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// CleanSnippet strips markup from a provider snippet and collapses
// whitespace. Plain text passes through unchanged apart from spacing.
func CleanSnippet(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}
