package handlers

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var nonWord = regexp.MustCompile(`[^0-9A-Za-z_]+`)

// CompanyFromUsername derives a company slug from the local part of a login:
// accents are decomposed away, runs of non-word characters collapse to '-',
// and the result is lowercased. Anything empty slugs to "default".
func CompanyFromUsername(username string) string {
	base, _, _ := strings.Cut(username, "@")
	slug := norm.NFKD.String(base)
	slug = nonWord.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	slug = strings.ToLower(slug)
	if slug == "" {
		return "default"
	}
	return slug
}
