package matching

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// ParseKeywords splits a comma separated keyword list, trimming blanks.
func ParseKeywords(raw string) []string {
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			keywords = append(keywords, part)
		}
	}
	return keywords
}

// NormalizeKeyword returns the comparison form of a keyword: NFKC, case folded, trimmed.
func NormalizeKeyword(keyword string) string {
	return strings.TrimSpace(cases.Fold().String(norm.NFKC.String(keyword)))
}

// KeywordText is the text embedded for a keyword list.
func KeywordText(keywords []string) string {
	return strings.Join(keywords, ", ")
}

func keywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, keyword := range keywords {
		if normalized := NormalizeKeyword(keyword); normalized != "" {
			set[normalized] = struct{}{}
		}
	}
	return set
}
