package util

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reSpaces       = regexp.MustCompile(`\s+`)
	reUnsafeInName = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]`)
)

var frenchMonths = [...]string{
	"janvier", "février", "mars", "avril", "mai", "juin",
	"juillet", "août", "septembre", "octobre", "novembre", "décembre",
}

// StripAccents removes combining marks and lowercases, for name comparison.
func StripAccents(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, input)
	if err != nil {
		out = input
	}
	return strings.ToLower(out)
}

// NormalizeSpaces collapses whitespace runs to one space and trims.
func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}

// ZeroPad left-pads with '0' up to width characters. Longer input is kept whole.
func ZeroPad(input string, width int) string {
	n := utf8.RuneCountInString(input)
	if n >= width {
		return input
	}
	return strings.Repeat("0", width-n) + input
}

// Prefix returns the first n characters (runes) of input.
func Prefix(input string, n int) string {
	i := 0
	for pos := range input {
		if i == n {
			return input[:pos]
		}
		i++
	}
	return input
}

func TitleCase(input string) string {
	return cases.Title(language.French).String(input)
}

// FrenchDate formats t as "02 janvier 2006".
func FrenchDate(t time.Time) string {
	return t.Format("02") + " " + frenchMonths[t.Month()-1] + " " + t.Format("2006")
}

// SafeFileName replaces characters that cannot appear in a file name.
func SafeFileName(input string) string {
	return reUnsafeInName.ReplaceAllString(input, "_")
}
