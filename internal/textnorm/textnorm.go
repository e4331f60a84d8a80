// Package textnorm folds free-text statement descriptors into a canonical
// form so that accented, mis-encoded and differently cased variants of the
// same word compare equal.
package textnorm

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize strips diacritics, uppercases, replaces every character outside
// [A-Z0-9-[]/] with a space and collapses runs of spaces.
//
// Characters lost to a bad decode (U+FFFD, stray Latin-1 bytes) become
// spaces as well, so "TRANSFERÊNCIA" and "TRANSFER NCIA" share a prefix.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToUpper(folded)

	var b strings.Builder
	b.Grow(len(folded))
	space := true
	for _, r := range folded {
		if isKept(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimRight(b.String(), " ")
}

func isKept(r rune) bool {
	switch {
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '-' || r == '[' || r == ']' || r == '/':
		return true
	}
	return false
}

// Tokens splits a normalized string into words, dropping single-character
// noise and pure punctuation.
func Tokens(s string) []string {
	fields := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return r == ' ' || r == '/' || r == '[' || r == ']'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "-")
		if len(f) < 2 {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Similarity scores two descriptors between 0 and 1. It is the best of
// token overlap (Jaccard), substring containment and the Levenshtein ratio
// of the normalized strings.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	best := jaccard(Tokens(na), Tokens(nb))

	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		shorter, longer := len(na), len(nb)
		if shorter > longer {
			shorter, longer = longer, shorter
		}
		containment := 0.5 + 0.5*float64(shorter)/float64(longer)
		if containment > best {
			best = containment
		}
	}

	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	ratio := 1 - float64(levenshtein.ComputeDistance(na, nb))/float64(longest)
	if ratio > best {
		best = ratio
	}

	return best
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[t] = struct{}{}
	}
	union := len(set)
	inter := 0
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := set[t]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
