package slug

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	nonAlnum  = regexp.MustCompile(`[^a-z0-9]+`)
	validSlug = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

var transliterator = strings.NewReplacer(
	"ç", "c", "ğ", "g", "ı", "i", "ö", "o", "ş", "s", "ü", "u",
	"é", "e", "è", "e", "ä", "a", "ß", "ss", "ñ", "n",
)

// Generate creates a URL-friendly slug from a product or category name.
//
//   - "Kadın Giyim" → "kadin-giyim"
//   - "Linen Shirt (Slim Fit)" → "linen-shirt-slim-fit"
func Generate(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = transliterator.Replace(s)
	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// Normalize turns whatever the caller holds (a bare slug, a product path such
// as "/products/linen-shirt", or a full product URL) into the slug the
// catalog API expects. It returns false when nothing usable remains.
func Normalize(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		raw = u.Path
	}
	raw = strings.Trim(raw, "/")
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		raw = raw[i+1:]
	}

	s := strings.ToLower(raw)
	if !validSlug.MatchString(s) {
		s = Generate(raw)
	}
	return s, IsValid(s)
}

// IsValid reports whether s is already a canonical slug.
func IsValid(s string) bool {
	return validSlug.MatchString(s)
}
