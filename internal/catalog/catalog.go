// Package catalog implements the equivalence catalog: resolving a
// directory's title against a configured set of canonical-title groups
// and scene-tag suffixes, so that sources spelling or tagging the same
// series differently still land under one merged mount point.
package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/mangamerged/mangamerged/internal/config"
)

var leadingArticles = map[string]bool{"a": true, "an": true, "the": true}

// Catalog resolves titles to their canonical form using configured
// scene tags and equivalence groups. It is read-only from the core's
// perspective.
type Catalog struct {
	sceneTags []string
	// byKey maps a normalized-title key to the group's canonical title.
	byKey map[string]string
	// groups maps a normalized canonical-title key to its display-order
	// member list (canonical first, then aliases as configured).
	groups map[string][]string
}

// New builds a Catalog from the scene-tag list and equivalence groups
// loaded from the configuration document set.
func New(sceneTags *config.SceneTags, equivalents *config.MangaEquivalents) *Catalog {
	c := &Catalog{
		byKey:  make(map[string]string),
		groups: make(map[string][]string),
	}
	if sceneTags != nil {
		c.sceneTags = sceneTags.Tags
	}
	if equivalents == nil {
		return c
	}

	for _, group := range equivalents.Groups {
		if group.Canonical == "" {
			continue
		}
		key := c.normalizedKey(group.Canonical)
		members := append([]string{group.Canonical}, group.Aliases...)
		c.groups[key] = members

		c.byKey[key] = group.Canonical
		for _, alias := range group.Aliases {
			c.byKey[c.normalizedKey(alias)] = group.Canonical
		}
	}
	return c
}

// TryResolveCanonicalTitle returns the canonical title for any
// configured alias or canonical value, or ("", false) when input
// matches no configured group.
func (c *Catalog) TryResolveCanonicalTitle(input string) (string, bool) {
	canonical, ok := c.byKey[c.normalizedKey(input)]
	return canonical, ok
}

// TryGetEquivalentTitles returns the display-order group set for the
// group matching input, or (nil, false) when input matches no
// configured group.
func (c *Catalog) TryGetEquivalentTitles(input string) ([]string, bool) {
	canonical, ok := c.TryResolveCanonicalTitle(input)
	if !ok {
		return nil, false
	}
	members, ok := c.groups[c.normalizedKey(canonical)]
	return members, ok
}

// ResolveCanonicalOrInput resolves t to its canonical title, falling
// back to t itself when unresolved.
func (c *Catalog) ResolveCanonicalOrInput(t string) string {
	if canonical, ok := c.TryResolveCanonicalTitle(t); ok {
		return canonical
	}
	return t
}

// NormalizedKey exposes the normalized-title key computation for callers
// that need to deduplicate titles the same way the catalog does
// internally (the merge workflow's canonical-title set).
func (c *Catalog) NormalizedKey(title string) string {
	return c.normalizedKey(title)
}

// normalizedKey computes the normalized-title key: ASCII fold, lowercase,
// scene-tag-suffix strip, punctuation-to-space, leading-article strip,
// per-word trailing-s strip for words longer than one character,
// concatenation.
func (c *Catalog) normalizedKey(title string) string {
	folded := asciiFold(title)
	folded = strings.ToLower(folded)
	folded = c.stripSceneTagSuffix(folded)
	folded = punctuationToSpace(folded)

	words := strings.Fields(folded)
	words = stripLeadingArticle(words)

	var b strings.Builder
	for _, w := range words {
		b.WriteString(stripTrailingS(w))
	}
	return b.String()
}

func (c *Catalog) stripSceneTagSuffix(s string) string {
	for _, tag := range c.sceneTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if strings.HasSuffix(s, tag) {
			return strings.TrimSpace(strings.TrimSuffix(s, tag))
		}
	}
	return s
}

func stripLeadingArticle(words []string) []string {
	if len(words) > 1 && leadingArticles[words[0]] {
		return words[1:]
	}
	return words
}

func stripTrailingS(word string) string {
	if len(word) > 1 && strings.HasSuffix(word, "s") {
		return word[:len(word)-1]
	}
	return word
}

func punctuationToSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// asciiFold decomposes accented runes to their base letter plus
// combining marks (NFD) and drops the marks, folding e.g. "é" to "e".
// Grounded on the NFC-normalization idiom rclone's local backend applies
// to filenames, generalized here to NFD+strip instead of NFC.
func asciiFold(s string) string {
	decomposed := norm.NFD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
