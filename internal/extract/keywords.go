package extract

import (
	"regexp"
	"sort"
	"strings"
)

const (
	defaultMinKeywordLength = 3
	defaultMaxKeywords      = 20
)

var wordPattern = regexp.MustCompile(`[a-z0-9_]+`)

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "as": {}, "is": {}, "was": {}, "are": {}, "were": {},
	"been": {}, "be": {}, "have": {}, "has": {}, "had": {}, "do": {},
	"does": {}, "did": {}, "will": {}, "would": {}, "should": {},
	"could": {}, "may": {}, "might": {}, "must": {}, "can": {},
	"this": {}, "that": {},
}

// ExtractKeywords mines frequency-ranked keywords from free text. Words
// shorter than minLength and stop words are dropped; the result is ordered
// by count descending with ties broken by term ascending, capped at
// maxKeywords. Zero arguments select the defaults.
func ExtractKeywords(text string, minLength, maxKeywords int) []string {
	if minLength <= 0 {
		minLength = defaultMinKeywordLength
	}
	if maxKeywords <= 0 {
		maxKeywords = defaultMaxKeywords
	}

	counts := make(map[string]int)
	for _, word := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(word) < minLength {
			continue
		}
		if _, stop := stopWords[word]; stop {
			continue
		}
		counts[word]++
	}

	terms := make([]string, 0, len(counts))
	for term := range counts {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return terms[i] < terms[j]
	})

	if len(terms) > maxKeywords {
		terms = terms[:maxKeywords]
	}
	return terms
}
