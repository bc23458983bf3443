package ingest

import "strings"

// placeSuffixes are the census legal/statistical area descriptions that
// trail place names ("Springfield city", "Ames CDP"). Longest first so
// "city and borough" wins over "city". The lowercase forms are how the
// files print them; "Carson City" style proper names stay intact.
var placeSuffixes = []string{
	" metropolitan government",
	" consolidated government",
	" unified government",
	" city and borough",
	" municipality",
	" borough",
	" village",
	" town",
	" city",
	" CDP",
}

// NormalizePlaceName strips the place-type suffix from a census place
// name so search queries use the bare name the provider expects.
func NormalizePlaceName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimSuffix(name, " (balance)")

	for _, suf := range placeSuffixes {
		if strings.HasSuffix(name, suf) {
			stripped := strings.TrimSpace(strings.TrimSuffix(name, suf))
			if stripped == "" {
				return name
			}
			return stripped
		}
	}
	return name
}
