package util

import (
	"strings"
	"unicode"
)

// Slugify lowercases s, replaces runs of non-alphanumeric characters with a
// single hyphen, and trims leading/trailing hyphens. Used for practice IDs.
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastHyphen := true // suppress a leading hyphen
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastHyphen = false
			continue
		}
		if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// SlugWithSuffix returns Slugify(name) with a short random uniqueness suffix
// appended, e.g. "bright-smiles-dental-3f9a2c".
func SlugWithSuffix(name string) string {
	slug := Slugify(name)
	if slug == "" {
		slug = "practice"
	}
	return slug + "-" + GenerateRandomHex(6)
}
