// Package expander turns per-topic seed sentences into batches of post
// candidates and computes the content fingerprint used for deduplication.
package expander

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ibeckermayer/dripfeed/internal/catalog"
)

// MaxPostLen is the hard length limit for a post, in runes.
const MaxPostLen = 280

// Expand produces up to count post candidates for topic by rotating through
// the topic's seeds and a secondary rotation of variations. Candidates are
// not guaranteed distinct; duplicate wording is filtered downstream by the
// store's fingerprint constraint. Results longer than MaxPostLen are
// dropped, not errors. An unknown topic is an error: callers are expected
// to validate against the catalog first.
func Expand(topic catalog.Topic, count int) ([]string, error) {
	tpl, ok := templates[topic]
	if !ok {
		return nil, fmt.Errorf("no template set for topic %q", topic)
	}

	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		seed := tpl.seeds[i%len(tpl.seeds)]
		variant := (i / len(tpl.seeds)) % numVariations
		content := postProcess(applyVariation(seed, variant))
		if content == "" || utf8.RuneCountInString(content) > MaxPostLen {
			continue
		}
		out = append(out, content)
	}
	return out, nil
}

// numVariations is the size of the secondary rotation: the unmodified seed
// plus three follow-up slots.
const numVariations = 4

// applyVariation returns the seed as-is for variant 0, and otherwise appends
// a keyword-triggered follow-up sentence. A seed with no matching keyword
// passes through unchanged, which yields a duplicate of variant 0; that is
// fine, the fingerprint constraint drops it later.
func applyVariation(seed string, variant int) string {
	if variant == 0 {
		return seed
	}
	lower := strings.ToLower(seed)
	for _, kw := range followupKeywords {
		if strings.Contains(lower, kw) {
			fs := followups[kw]
			return seed + " " + fs[(variant-1)%len(fs)]
		}
	}
	return seed
}

// postProcess trims whitespace and strips a single pair of wrapping quotes.
func postProcess(s string) string {
	s = strings.TrimSpace(s)
	for _, q := range []struct{ open, close string }{
		{`"`, `"`},
		{"'", "'"},
		{"“", "”"},
	} {
		if len(s) >= len(q.open)+len(q.close) && strings.HasPrefix(s, q.open) && strings.HasSuffix(s, q.close) {
			s = strings.TrimSpace(s[len(q.open) : len(s)-len(q.close)])
			break
		}
	}
	return s
}

// Fingerprint returns the hex SHA-256 digest of the case-folded, trimmed
// content. The digest is content-only: the same wording under two topics
// fingerprints identically.
func Fingerprint(content string) string {
	normalized := strings.ToLower(strings.TrimSpace(content))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
