// Package header renders FITS header cards as searchable text.
package header

import (
	"fmt"
	"strings"

	"github.com/fist-tools/fist/internal/cache"
	"github.com/fist-tools/fist/internal/data/fits"
)

// NoMatches is returned by Filter when no line contains the query.
const NoMatches = "No matches found."

const keyWidth = 20

// CardReader reads the header cards of one extension.
type CardReader interface {
	Header(path, extension string) ([]fits.Card, error)
}

// TextCache stores unfiltered header text.
type TextCache interface {
	GetHeader(key string) (string, bool)
	SetHeader(key, text string)
}

// Service extracts header text, optionally through a cache.
type Service struct {
	reader CardReader
	cache  TextCache
}

// NewService creates a header service. c may be nil.
func NewService(r CardReader, c TextCache) *Service {
	return &Service{reader: r, cache: c}
}

// ExtractText returns the header of extension in file order, one "key = value"
// line per card, followed by a blank line.
func (s *Service) ExtractText(path, extension string) (string, error) {
	var key string
	if s.cache != nil {
		key = cache.HeaderKey(path, extension)
		if text, ok := s.cache.GetHeader(key); ok {
			return text, nil
		}
	}

	cards, err := s.reader.Header(path, extension)
	if err != nil {
		return "", fmt.Errorf("read header %s[%s]: %w", path, extension, err)
	}
	text := Format(cards)

	if s.cache != nil {
		s.cache.SetHeader(key, text)
	}
	return text, nil
}

// Format renders cards with keys left-justified to a fixed width. Longer keys
// are kept whole.
func Format(cards []fits.Card) string {
	var b strings.Builder
	for i, c := range cards {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%-*s = %s", keyWidth, c.Key, c.Value)
	}
	b.WriteString("\n\n")
	return b.String()
}

// Filter keeps the lines of text containing query, ignoring case. An empty
// query returns text unchanged.
func Filter(text, query string) string {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return text
	}
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.Contains(strings.ToLower(line), q) {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return NoMatches
	}
	return strings.Join(kept, "\n")
}
