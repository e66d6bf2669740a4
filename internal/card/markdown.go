package card

import (
	"regexp"
	"strings"

	"teams-answer-bot/internal/citation"
	"teams-answer-bot/internal/domain"
)

var (
	strongTag = regexp.MustCompile(`(?s)<strong>(.*?)</strong>`)
	emTag     = regexp.MustCompile(`(?s)<em>(.*?)</em>`)
	anyMarker = regexp.MustCompile(`\[[^\]]+\]`)
)

// ConvertHTMLEmphasis turns <strong> and <em> into markdown bold and italics.
func ConvertHTMLEmphasis(html string) string {
	md := strongTag.ReplaceAllString(html, "**$1**")
	return emTag.ReplaceAllString(md, "*$1*")
}

// FormatMarkdown renders an answer as a plain markdown message: every marker is
// removed and the citations are listed as links under a Sources heading.
func FormatMarkdown(answer string, citations []domain.Citation) string {
	cleaned := anyMarker.ReplaceAllString(answer, "")
	if len(citations) == 0 {
		return cleaned
	}
	lines := make([]string, 0, len(citations))
	for _, c := range citations {
		lines = append(lines, " ["+c.Filename+"]("+c.URL+")")
	}
	return cleaned + "\n\n**Sources:**\n\n" + strings.Join(lines, "\n")
}

func stripCitations(answer string, citations []domain.Citation) string {
	tokens := make([]string, 0, len(citations))
	for _, c := range citations {
		tokens = append(tokens, c.Token)
	}
	return citation.Strip(answer, tokens)
}
