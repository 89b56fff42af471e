// Package translit folds Icelandic and other accented text into ASCII for use in
// local file and directory names.
package translit

import (
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Letters without a canonical decomposition get an explicit ASCII spelling.
var substitutions = strings.NewReplacer(
	"ð", "d",
	"Ð", "D",
	"þ", "th",
	"Þ", "TH",
	"æ", "ae",
	"Æ", "AE",
	"ø", "o",
	"Ø", "O",
	"ß", "ss",
	" ", "_",
	",", ".",
)

// Transliterate returns an ASCII-only rendition of s. Spaces become underscores,
// commas become dots, accents are stripped and anything left outside ASCII is dropped.
func Transliterate(s string) string {
	s = substitutions.Replace(s)
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
		runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
	)
	out, _, err := transform.String(t, s)
	if err != nil {
		return dropNonASCII(s)
	}
	return out
}

// Segment lower-cases and transliterates one directory name. Path separators are
// replaced so a segment can never escape its parent.
func Segment(s string) string {
	s = strings.TrimSpace(cases.Lower(language.Icelandic).String(s))
	s = Transliterate(s)
	s = strings.NewReplacer("/", "-", "\\", "-").Replace(s)
	if s == "." || s == ".." {
		return "_"
	}
	return s
}

// Path joins a taxonomy breadcrumb trail into a relative directory. Empty
// segments are skipped.
func Path(segments []string) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if s := Segment(seg); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return path.Join(parts...)
}

// Filename transliterates a file name, keeping its case.
func Filename(name string) string {
	name = Transliterate(strings.TrimSpace(name))
	name = strings.NewReplacer("/", "-", "\\", "-").Replace(name)
	if name == "" || name == "." || name == ".." {
		return "file"
	}
	return name
}

func dropNonASCII(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r <= unicode.MaxASCII {
			b.WriteRune(r)
		}
	}
	return b.String()
}
