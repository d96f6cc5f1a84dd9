package dialect

import "strings"

// GeneratePlaceholders builds a comma-separated list of placeholders using
// the dialect's Placeholder function, for use in INSERT value lists.
func GeneratePlaceholders(count int, placeholderFunc func(int) string) string {
	placeholders := make([]string, count)
	for i := 0; i < count; i++ {
		placeholders[i] = placeholderFunc(i)
	}
	return strings.Join(placeholders, ", ")
}

// QuoteAll quotes every identifier with the given quote function.
func QuoteAll(idents []string, quote func(string) string) []string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = quote(id)
	}
	return quoted
}
