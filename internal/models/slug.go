package models

import (
	"regexp"
	"strings"
)

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify generates a URL-friendly slug from a name, folding the Swedish
// letters å/ä/ö to their ASCII bases.
func Slugify(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	replacer := strings.NewReplacer("å", "a", "ä", "a", "ö", "o")
	slug = replacer.Replace(slug)
	slug = slugNonAlnum.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}
