package fault

import (
	"sort"

	"github.com/agext/levenshtein"
	"github.com/cockroachdb/errors"
)

// Nearest returns the candidate closest to the given name, if any is close
// enough to plausibly be a typo. Ties resolve to the lexically smallest
// candidate so suggestions stay deterministic.
func Nearest(given string, candidates []string) (string, bool) {
	sorted := make([]string, len(candidates))
	copy(sorted, candidates)
	sort.Strings(sorted)

	best := ""
	bestDist := -1
	for _, c := range sorted {
		if c == given {
			continue
		}
		dist := levenshtein.Distance(given, c, nil)
		if bestDist < 0 || dist < bestDist {
			best = c
			bestDist = dist
		}
	}
	if bestDist < 0 || bestDist >= 3 {
		return "", false
	}
	return best, true
}

// WithSuggestion attaches a "did you mean" hint to err when one of the
// candidates is a plausible correction for the given name.
func WithSuggestion(err error, given string, candidates []string) error {
	if err == nil {
		return nil
	}
	if s, ok := Nearest(given, candidates); ok {
		return errors.WithHintf(err, "did you mean '%s'?", s)
	}
	return err
}
