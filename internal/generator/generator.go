// Package generator is the optional LLM-backed replenishment path. It
// produces batches of post candidates with provenance metadata, applying
// the same length and content constraints as the template expander plus a
// denylist filter on generated text.
package generator

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/ibeckermayer/dripfeed/internal/catalog"
	"github.com/ibeckermayer/dripfeed/internal/expander"
)

// Client generates batches of post candidates.
type Client interface {
	// Init validates credentials. A failure here disables the generator
	// path; the template expander remains available.
	Init(ctx context.Context) error
	// GenerateBatch asks for count posts spread across the given topics.
	// Items that fail validation are dropped, so fewer than count results
	// is normal.
	GenerateBatch(ctx context.Context, count int, topics []catalog.Topic) ([]Generated, error)
}

// Generated is one generated post candidate with provenance.
type Generated struct {
	Content    string
	Topic      catalog.Topic
	TokensUsed int
	Cost       float64
	Model      string
}

// denylist holds substrings that disqualify generated content. Matching is
// case-insensitive. Template content never trips this; it guards the
// LLM path only.
var denylist = []string{
	"as an ai",
	"i cannot",
	"i'm sorry",
	"http://",
	"https://",
	"@",
	"#ad",
}

// acceptable reports whether generated content passes the non-empty,
// length, and denylist checks. Failures are dropped, never errors.
func acceptable(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > expander.MaxPostLen {
		return false
	}
	lower := strings.ToLower(content)
	for _, banned := range denylist {
		if strings.Contains(lower, banned) {
			return false
		}
	}
	return true
}
