/*
Package normalize turns free-form entity names and sizes into comparison keys.

PURPOSE:
  Operators dictate product and client names in natural language, so the
  same product shows up as "сетка", "сеткой" or "Сетки". Matching rows in
  the tenant's document therefore never compares raw strings; it compares
  the keys produced here.

KEYS:
  Name(s)  lowercase, collapsed whitespace, prepositions dropped, known
           case/number endings reduced to a base form
  Size(s)  lowercase, no spaces, Cyrillic look-alikes mapped to ASCII
  Fold(s)  lowercase + collapsed whitespace only (client names)

GUARANTEES:
  All functions are pure, total and idempotent: f(f(x)) == f(x).
  Input with nothing to reduce comes back lowercased.

SEE ALSO:
  - books/ledger.go: product matching
  - books/clients.go: client matching
*/
package normalize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// minStem is the shortest word an ending reduction may produce.
const minStem = 3

var (
	folder = cases.Fold()

	prepositions = map[string]bool{
		"с": true, "со": true, "в": true, "во": true, "из": true, "для": true,
	}

	sizeLookalikes = strings.NewReplacer(
		"м", "m", "л", "l", "с", "s", "х", "x",
	)
)

type ending struct {
	suffix  string
	replace string
	minLen  int // minimum rune length of the word before reduction
}

// Checked in order; the first matching suffix wins.
var endings = []ending{
	{suffix: "ами", replace: ""},
	{suffix: "ями", replace: ""},
	{suffix: "ой", replace: "а"},
	{suffix: "ей", replace: "я"},
	{suffix: "ом", replace: ""},
	{suffix: "ем", replace: ""},
	{suffix: "ы", replace: "а", minLen: 5},
}

// Fold lowercases s, unifies Unicode composition and collapses whitespace.
func Fold(s string) string {
	s = norm.NFC.String(s)
	s = folder.String(s)
	s = strings.ReplaceAll(s, "ё", "е")
	return strings.Join(strings.Fields(s), " ")
}

// Name returns the canonical comparison key for a product or material name.
func Name(s string) string {
	folded := Fold(s)
	words := dropPrepositions(strings.Fields(folded))
	for i, w := range words {
		words[i] = reduce(w)
	}
	words = dropPrepositions(words)
	if len(words) == 0 {
		return folded
	}
	return strings.Join(words, " ")
}

// Size returns the canonical comparison key for a size designation.
func Size(s string) string {
	s = Fold(s)
	s = strings.ReplaceAll(s, " ", "")
	return sizeLookalikes.Replace(s)
}

// SameName reports whether a and b resolve to the same name key.
func SameName(a, b string) bool { return Name(a) == Name(b) }

// SameSize reports whether a and b resolve to the same size key.
func SameSize(a, b string) bool { return Size(a) == Size(b) }

func dropPrepositions(words []string) []string {
	out := words[:0]
	for _, w := range words {
		if !prepositions[w] {
			out = append(out, w)
		}
	}
	return out
}

// reduce strips endings until none applies. A reduction that would leave
// fewer than minStem runes stops the loop, which keeps the result a fixpoint.
func reduce(w string) string {
	for {
		next, ok := reduceOnce(w)
		if !ok {
			return w
		}
		w = next
	}
}

func reduceOnce(w string) (string, bool) {
	n := utf8.RuneCountInString(w)
	for _, e := range endings {
		if !strings.HasSuffix(w, e.suffix) {
			continue
		}
		if e.minLen > 0 && n < e.minLen {
			return w, false
		}
		next := strings.TrimSuffix(w, e.suffix) + e.replace
		if utf8.RuneCountInString(next) < minStem || next == w {
			return w, false
		}
		return next, true
	}
	return w, false
}
