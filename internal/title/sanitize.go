// Package title turns the raw <title> of an article page into a clean,
// filesystem-safe work title and artist, and decides where the finished
// artifact is filed.
package title

import (
	"strings"
)

// unsafeReplacer maps filesystem-hostile characters onto look-alike runes.
// No replacement value is itself a key, which keeps Sanitize idempotent.
var unsafeReplacer = strings.NewReplacer(
	"– Telegraph", "",
	"*", "٭",
	"|", "丨",
	"?", "？",
	"/", "ǀ",
	"\\", "＼",
	":", "∶",
	"<", "＜",
	">", "＞",
	"\"", "＂",
	"【", "[",
	"】", "]",
	" ", "",
	"\t", "",
	"\n", "",
	"\r", "",
	"\u00a0", "",
	"\u3000", "",
)

var bracketReplacer = strings.NewReplacer(
	"[", "",
	"]", "",
	"(", "",
	")", "",
	" ", "",
)

// Sanitize translates unsafe characters. Brackets survive so the result can
// still be matched for title and artist groups.
func Sanitize(raw string) string {
	return strings.TrimSpace(unsafeReplacer.Replace(raw))
}

// StripBrackets removes bracket and parenthesis characters.
func StripBrackets(s string) string {
	return strings.TrimSpace(bracketReplacer.Replace(s))
}

// SafeName reports whether s can be used as a single path element.
func SafeName(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}

	return !strings.ContainsAny(s, "/\\:*?\"<>|\x00")
}
