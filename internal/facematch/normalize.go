package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeIdentityID canonicalizes an identity identifier so that the same
// employee id typed on different systems maps to one key: NFC form, no
// control characters, no surrounding whitespace. Case is preserved.
func NormalizeIdentityID(id string) string {
	t := transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.Cc)))
	result, _, err := transform.String(t, id)
	if err != nil {
		result = id
	}
	return strings.TrimSpace(result)
}
