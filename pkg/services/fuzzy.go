package services

import (
	"sort"
	"strings"
	"unicode"
)

// normalizeName canonicalizes a name for matching: lowercase, punctuation
// treated as whitespace, runs of whitespace collapsed.
func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// similarityRatio scores two normalized strings 0-100 by edit distance.
func similarityRatio(a, b string) int {
	if a == b {
		return 100
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 100
	}
	distance := levenshteinDistance(a, b)
	return int(float64(longest-distance) / float64(longest) * 100)
}

// tokenSetRatio scores two names 0-100, ignoring token order and tolerating
// one side carrying extra tokens. "Acme" vs "Acme Inc - Managed Services"
// still scores high because the shared token set dominates.
func tokenSetRatio(a, b string) int {
	tokensA := tokenSet(normalizeName(a))
	tokensB := tokenSet(normalizeName(b))

	var shared, onlyA, onlyB []string
	for token := range tokensA {
		if tokensB[token] {
			shared = append(shared, token)
		} else {
			onlyA = append(onlyA, token)
		}
	}
	for token := range tokensB {
		if !tokensA[token] {
			onlyB = append(onlyB, token)
		}
	}
	sort.Strings(shared)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	sharedStr := strings.Join(shared, " ")
	combinedA := strings.TrimSpace(sharedStr + " " + strings.Join(onlyA, " "))
	combinedB := strings.TrimSpace(sharedStr + " " + strings.Join(onlyB, " "))

	best := similarityRatio(sharedStr, combinedA)
	if r := similarityRatio(sharedStr, combinedB); r > best {
		best = r
	}
	if r := similarityRatio(combinedA, combinedB); r > best {
		best = r
	}
	return best
}

func tokenSet(normalized string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range strings.Fields(normalized) {
		set[token] = true
	}
	return set
}

// levenshteinDistance calculates the edit distance between two strings using
// a two-row DP table.
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 0
			if s1[i-1] != s2[j-1] {
				cost = 1
			}
			curr[j] = minInt(
				curr[j-1]+1,    // insertion
				prev[j]+1,      // deletion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(s2)]
}

func minInt(a, b, c int) int {
	if a <= b && a <= c {
		return a
	}
	if b <= c {
		return b
	}
	return c
}
