// Package citation finds bracketed source markers in answer text and maps
// them to links into the document library.
package citation

import (
	"net/url"
	"regexp"
	"strings"

	"teams-answer-bot/internal/domain"
)

const (
	DefaultBaseURL     = "http://localhost:8000"
	DefaultLibraryPath = "sites/FMC-BI/BI/bisup/Shared%20Documents/GPT_RAG_2"
)

var (
	markerPattern = regexp.MustCompile(`\[(.*?)\]`)
	extraSpace    = regexp.MustCompile(`\s{2,}`)
)

// Extract returns the distinct contents of every [marker] in text, in order of
// first appearance. Blank markers are skipped.
func Extract(text string) []string {
	matches := markerPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		token := m[1]
		if strings.TrimSpace(token) == "" {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// Strip removes the given markers from text and collapses the whitespace left behind.
func Strip(text string, tokens []string) string {
	for _, token := range tokens {
		text = strings.ReplaceAll(text, "["+token+"]", "")
	}
	return strings.TrimSpace(extraSpace.ReplaceAllString(text, " "))
}

// Resolver builds document URLs for citation tokens.
type Resolver struct {
	baseURL     string
	libraryPath string
}

func NewResolver(baseURL, libraryPath string) *Resolver {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	libraryPath = strings.Trim(strings.TrimSpace(libraryPath), "/")
	if libraryPath == "" {
		libraryPath = DefaultLibraryPath
	}
	return &Resolver{baseURL: baseURL, libraryPath: libraryPath}
}

// URL returns the document link for a single token. The token is not validated.
func (r *Resolver) URL(token string) string {
	return r.baseURL + "/" + r.libraryPath + "/" + escapePath(token)
}

// Resolve maps every token to a citation, preserving order.
func (r *Resolver) Resolve(tokens []string) []domain.Citation {
	out := make([]domain.Citation, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, domain.Citation{
			Token:    token,
			Filename: token,
			URL:      r.URL(token),
		})
	}
	return out
}

// escapePath percent-encodes each segment but keeps "/" separators intact.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
