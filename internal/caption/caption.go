// Package caption extracts tagging metadata (hashtags, embedded links) from
// annotated chat message text.
package caption

import (
	"regexp"
	"strings"
	"unicode/utf16"
)

var (
	hashtagPattern = regexp.MustCompile(`#([^\s#@]+)`)
	schemePattern  = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)
)

// Span is one annotated region of a message text. Offset and Length are in
// UTF-16 code units, as chat transports report them.
type Span struct {
	Type   string
	Offset int
	Length int
	// URL is set for link spans whose target differs from the visible text.
	URL string
}

// Span types recognized by URLs.
const (
	SpanURL      = "url"
	SpanTextLink = "text_link"
)

// Tags extracts hashtags from text, trimming the # marker and replacing
// underscores with spaces.
func Tags(text string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]string, 0, len(matches))
	for _, match := range matches {
		tag := strings.TrimSpace(strings.ReplaceAll(match[1], "_", " "))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

// URLs extracts links from text spans, normalizes their schemes, and removes
// duplicates preserving first-seen order.
func URLs(text string, spans []Span) []string {
	if len(spans) == 0 {
		return nil
	}
	encoded := utf16.Encode([]rune(text))
	urls := make([]string, 0, len(spans))
	seen := make(map[string]struct{}, len(spans))
	for _, span := range spans {
		var raw string
		switch span.Type {
		case SpanTextLink:
			raw = span.URL
		case SpanURL:
			raw = sliceUTF16(encoded, span.Offset, span.Length)
		default:
			continue
		}
		if raw == "" {
			continue
		}
		url := WithScheme(raw)
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}
		urls = append(urls, url)
	}
	if len(urls) == 0 {
		return nil
	}
	return urls
}

// WithScheme returns url with an explicit scheme, defaulting to https.
func WithScheme(url string) string {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://") {
		return url
	}
	if strings.HasPrefix(url, "//") {
		return "https:" + url
	}
	if schemePattern.MatchString(url) {
		return url
	}
	return "https://" + url
}

func sliceUTF16(encoded []uint16, offset, length int) string {
	if offset < 0 || length <= 0 || offset+length > len(encoded) {
		return ""
	}
	return string(utf16.Decode(encoded[offset : offset+length]))
}
