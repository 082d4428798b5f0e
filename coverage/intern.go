package coverage

import "unique"

// Intern returns a canonical copy of s so that the many lines of one method
// share a single signature string.
func Intern(s string) string {
	if s == "" {
		return ""
	}
	return unique.Make(s).Value()
}
