package evaluation

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

var speakerLabelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[[^\]]*\]`),
	regexp.MustCompile(`<[^>]*>`),
	regexp.MustCompile(`(?i)\b(?:speaker|spk)[ _]?[0-9A-Za-z]*\s*[:：]`),
	regexp.MustCompile(`話者\s*[0-9A-Za-z]*\s*[:：]`),
}

// Normalize prepares text for comparison: full-width forms fold to half-width,
// speaker labels and punctuation are removed, whitespace collapses to single
// spaces and case is folded.
func Normalize(s string) string {
	s = width.Fold.String(s)
	for _, re := range speakerLabelPatterns {
		s = re.ReplaceAllString(s, " ")
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	return cases.Fold().String(s)
}
