// Package dedup computes the identity key that makes lead storage
// idempotent: the same listing seen on two pages, two runs, or two hosts
// always hashes to the same fingerprint.
package dedup

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonAlnum = regexp.MustCompile(`[^\pL\pN]+`)

// stripMarks decomposes, drops combining marks, and recomposes, so
// "Café" and "Cafe" fold together before hashing.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize lowercases, strips diacritics, and collapses every run of
// whitespace or punctuation to a single space.
func Normalize(s string) string {
	folded, _, err := transform.String(stripMarks, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = nonAlnum.ReplaceAllString(folded, " ")
	return strings.TrimSpace(folded)
}

// sep keeps field boundaries in the preimage so ("ab","c") and
// ("a","bc") cannot collide.
const sep = "\x1f"

// Fingerprint derives the stable identity key for a listing: 16 hex
// digits of xxhash64 over the normalized company name, area name, and
// source. Uniqueness per client is enforced at the store on
// (client_id, fingerprint).
func Fingerprint(companyName, areaName, source string) string {
	h := xxhash.New()
	_, _ = h.WriteString(Normalize(companyName))
	_, _ = h.WriteString(sep)
	_, _ = h.WriteString(Normalize(areaName))
	_, _ = h.WriteString(sep)
	_, _ = h.WriteString(Normalize(source))
	return fmt.Sprintf("%016x", h.Sum64())
}
