package platform

import "regexp"

var slugRe = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidSlug reports whether s is a well-formed kebab-case identifier.
func ValidSlug(s string) bool {
	return s != "" && len(s) <= 64 && slugRe.MatchString(s)
}
