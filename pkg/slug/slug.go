package slug

import (
	"regexp"
	"strings"
)

var slugRegexp = regexp.MustCompile(`[^a-z0-9]+`)

// cyrillic transliterates Russian letters to Latin (passport-style, simplified).
var cyrillic = strings.NewReplacer(
	"а", "a", "б", "b", "в", "v", "г", "g", "д", "d", "е", "e", "ё", "e",
	"ж", "zh", "з", "z", "и", "i", "й", "y", "к", "k", "л", "l", "м", "m",
	"н", "n", "о", "o", "п", "p", "р", "r", "с", "s", "т", "t", "у", "u",
	"ф", "f", "х", "kh", "ц", "ts", "ч", "ch", "ш", "sh", "щ", "shch",
	"ъ", "", "ы", "y", "ь", "", "э", "e", "ю", "yu", "я", "ya",
)

// Generate creates a URL-friendly slug from the given name.
// Cyrillic is transliterated to ASCII; anything else outside [a-z0-9]
// becomes a separator.
//
// Examples:
//   - "Кофейня Зерно" → "kofeynya-zerno"
//   - "Скидка 10%" → "skidka-10"
//   - "Hello   World!" → "hello-world"
func Generate(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = cyrillic.Replace(slug)

	slug = slugRegexp.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// Initials returns the first n alphanumeric characters of the slug of name,
// upper-cased. It returns fallback when the slug is shorter than n.
func Initials(name string, n int, fallback string) string {
	s := strings.ReplaceAll(Generate(name), "-", "")
	if len(s) < n {
		return fallback
	}
	return strings.ToUpper(s[:n])
}
