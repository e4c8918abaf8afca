// Package textmatch holds the string primitives shared by entity resolution:
// normalized sequence similarity and text normalization.
package textmatch

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Similarity returns the Ratcliff/Obershelp ratio 2*M/T of a and b, where M is
// the number of runes in the matching blocks and T the total rune count.
// Comparison is case-insensitive. Two empty strings are identical (1.0).
func Similarity(a, b string) float64 {
	lower := cases.Lower(language.Und)
	ra := []rune(lower.String(a))
	rb := []rune(lower.String(b))

	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}

	// Block search prefers the earliest match in a, so a canonical order keeps
	// the score independent of argument order.
	if string(ra) > string(rb) {
		ra, rb = rb, ra
	}

	return 2.0 * float64(matchingRunes(ra, rb)) / float64(total)
}

// Normalize replaces every rune that is not a letter, digit, underscore or
// whitespace with a space, collapses whitespace runs and lower-cases.
func Normalize(text string) string {
	text = norm.NFKC.String(text)

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '_' || unicode.Is(unicode.Mn, r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(' ')
	}

	return cases.Lower(language.Und).String(strings.Join(strings.Fields(b.String()), " "))
}

// Words splits text into normalized words.
func Words(text string) []string {
	return strings.Fields(Normalize(text))
}

// ContainsPhrase reports whether the normalized phrase occurs in normalized text.
// Both arguments must already be normalized.
func ContainsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	return strings.Contains(text, phrase)
}

type block struct {
	alo, ahi, blo, bhi int
}

// matchingRunes sums the sizes of the matching blocks found by recursively
// taking the longest common substring and matching the pieces on either side.
func matchingRunes(a, b []rune) int {
	b2j := make(map[rune][]int, len(b))
	for j, r := range b {
		b2j[r] = append(b2j[r], j)
	}

	total := 0
	queue := []block{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		q := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, b2j, q)
		if k == 0 {
			continue
		}
		total += k
		if q.alo < i && q.blo < j {
			queue = append(queue, block{q.alo, i, q.blo, j})
		}
		if i+k < q.ahi && j+k < q.bhi {
			queue = append(queue, block{i + k, q.ahi, j + k, q.bhi})
		}
	}

	return total
}

func longestMatch(a []rune, b2j map[rune][]int, q block) (besti, bestj, bestsize int) {
	besti, bestj = q.alo, q.blo
	j2len := map[int]int{}

	for i := q.alo; i < q.ahi; i++ {
		next := map[int]int{}
		for _, j := range b2j[a[i]] {
			if j < q.blo {
				continue
			}
			if j >= q.bhi {
				break
			}
			k := j2len[j-1] + 1
			next[j] = k
			if k > bestsize {
				besti, bestj, bestsize = i-k+1, j-k+1, k
			}
		}
		j2len = next
	}

	return besti, bestj, bestsize
}
