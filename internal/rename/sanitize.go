package rename

import (
	"regexp"
	"strings"
	"unicode"
)

// blacklist holds tokens that can never be a scan-group prefix even when
// they happen to look group-like (mixed letters/digits). whitelist is
// left empty by default: acceptance for any non-blacklisted token relies
// on the group-like heuristic rather than an explicit allow-list.
var blacklist = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "of": true, "to": true,
	"vol": true, "volume": true, "chapter": true, "ch": true,
	"episode": true, "ep": true, "season": true, "issue": true,
	"special": true, "extra": true, "side": true, "manga": true,
	"part": true, "book": true,
}

var whitelist = map[string]bool{}

var (
	// boundaryChapterRe requires the keyword to stand alone as a word.
	boundaryChapterRe = regexp.MustCompile(`(?i)\b(ch\.|chapter|ep\.|episode|issue|special|extra|side|season|volume|vol\.)\b`)
	// embeddedChapterRe matches the keyword anywhere, including inside a
	// larger run-together word such as "MangaChapter6".
	embeddedChapterRe = regexp.MustCompile(`(?i)(ch\.|chapter|ep\.|episode|issue|special|extra|side|season|volume|vol\.)`)
	// startChapterRe requires REST to begin with the keyword, used by the
	// prefix-space form.
	startChapterRe = regexp.MustCompile(`(?i)^(ch\.|chapter|ep\.|episode|issue|special|extra|side|season|volume|vol\.)`)
	// prefixSpaceRe captures a group-like TOKEN followed by whitespace and
	// the remainder of the name.
	prefixSpaceRe = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9]*[0-9][A-Za-z0-9]*)\s+(.+)$`)
)

// Sanitize is the pure total rewrite function: it rewrites a
// scan-group-prefixed chapter directory basename into its canonical form,
// or returns name unchanged when neither rewrite case applies.
func Sanitize(name string) string {
	if out, ok := tryUnderscoreForm(name); ok {
		return out
	}
	if out, ok := tryPrefixSpaceForm(name); ok {
		return out
	}
	return name
}

func tryUnderscoreForm(name string) (string, bool) {
	idx := strings.IndexByte(name, '_')
	if idx < 0 {
		return "", false
	}
	prefix := name[:idx]
	rest := name[idx+1:]

	prefixToken, prefixTail := splitFirstToken(prefix)

	if isBlacklisted(prefixToken) {
		return "", false
	}
	if !isWhitelisted(prefixToken) && !looksLikeGroupPrefix(prefixToken) {
		return "", false
	}
	if !chapterLike(rest) {
		return "", false
	}

	stripped := stripDigits(prefixToken)
	if stripped == "" {
		return "", false
	}

	return stripped + prefixTail + "_" + rest, true
}

func tryPrefixSpaceForm(name string) (string, bool) {
	m := prefixSpaceRe.FindStringSubmatch(name)
	if m == nil {
		return "", false
	}
	token, rest := m[1], m[2]

	if isBlacklisted(token) {
		return "", false
	}
	if !isWhitelisted(token) && !looksLikeGroupPrefix(token) {
		return "", false
	}
	if !startChapterRe.MatchString(rest) {
		return "", false
	}

	stripped := stripDigits(token)
	if stripped == "" {
		return "", false
	}

	return stripped + " " + rest, true
}

// splitFirstToken returns the first whitespace-delimited token of s and
// everything after it, including the separating whitespace, unchanged.
func splitFirstToken(s string) (token, tail string) {
	idx := strings.IndexFunc(s, unicode.IsSpace)
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx:]
}

func chapterLike(s string) bool {
	return boundaryChapterRe.MatchString(s) || embeddedChapterRe.MatchString(s)
}

func looksLikeGroupPrefix(token string) bool {
	hasLetter, hasDigit := false, false
	for _, r := range token {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

func isBlacklisted(token string) bool {
	return blacklist[strings.ToLower(strings.TrimSpace(token))]
}

func isWhitelisted(token string) bool {
	return whitelist[strings.ToLower(strings.TrimSpace(token))]
}

func stripDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
