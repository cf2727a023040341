// Package linkedfile renders where an imported file came from and
// refreshes it from its source.
package linkedfile

import "unicode/utf8"

const (
	maxURLLength   = 60
	frontURLLength = 35
	urlFiller      = "..."
	tailURLLength  = maxURLLength - frontURLLength - len(urlFiller)
)

// ShortenedURL abbreviates URLs longer than 60 characters to the first 35
// and last 22 characters joined by "...". Shorter URLs are returned
// unchanged. Lengths count runes, so multi-byte characters are never cut.
func ShortenedURL(url string) string {
	if utf8.RuneCountInString(url) <= maxURLLength {
		return url
	}
	runes := []rune(url)
	return string(runes[:frontURLLength]) + urlFiller + string(runes[len(runes)-tailURLLength:])
}
