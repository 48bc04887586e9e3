package scoring

import "regexp"

var (
	// Strips everything that is not alphanumeric before tier matching, so
	// "S P A M" and "s.p.a.m" collapse to the same token.
	nonAlnumRe = regexp.MustCompile(`[\W_]+`)

	cyrillicRe = regexp.MustCompile(`[А-Яа-яЁё]`)
)

func normalize(text string) string {
	return nonAlnumRe.ReplaceAllString(text, "")
}
