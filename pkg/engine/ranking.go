package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/flanksource/fingerprint/pkg/config"
	"github.com/flanksource/fingerprint/pkg/fetch"
	"github.com/flanksource/fingerprint/pkg/guess"
	"github.com/flanksource/fingerprint/pkg/types"
)

// computeBestGuesses rebuilds the ranked guess list from scratch out of
// every asset retrieved so far: one guess per version in the union of all
// assets' expected_versions/using_versions, each asset filed as a positive
// match (it uses that version's checksum) or a negative match (it's
// expected at that version but uses a different checksum), sorted by
// strength descending and pruned by the ignore-distance floor.
func (e *Engine) computeBestGuesses(ctx context.Context, assets []*fetch.Asset) ([]guess.Scored, error) {
	guesses := make(map[[3]string]*guess.Guess)
	var order [][3]string

	get := func(v types.SoftwareVersion) *guess.Guess {
		key := v.Key()
		g, ok := guesses[key]
		if !ok {
			g = guess.New(v)
			guesses[key] = g
			order = append(order, key)
		}
		return g
	}

	for _, a := range assets {
		// a failed fetch, or content no registered kind accepts, carries no
		// evidence either way - it only shows up in the support denominator
		if !a.Success {
			continue
		}
		if _, ok := a.Checksum(); !ok {
			continue
		}
		expected, err := a.ExpectedVersions(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: expected_versions: %w", err)
		}
		using, err := a.UsingVersions(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: using_versions: %w", err)
		}
		usingSet := make(map[[3]string]bool, len(using))
		for _, v := range using {
			usingSet[v.Key()] = true
			g := get(v)
			g.PositiveMatches = append(g.PositiveMatches, a)
		}
		for _, v := range expected {
			if usingSet[v.Key()] {
				continue
			}
			g := get(v)
			g.NegativeMatches = append(g.NegativeMatches, a)
		}
	}

	scored := make([]guess.Scored, 0, len(order))
	for _, key := range order {
		g := guesses[key]
		strength, err := g.Strength(ctx, e.cfg.PositiveMatchWeight, e.cfg.NegativeMatchWeight)
		if err != nil {
			return nil, fmt.Errorf("engine: strength: %w", err)
		}
		scored = append(scored, guess.Scored{Guess: g, Strength: strength})
	}
	guess.SortByStrengthDescending(scored)

	return e.pruneByIgnoreDistance(ctx, scored)
}

// pruneByIgnoreDistance applies the ranking floor: once the top guess's
// positive strength clears GuessIgnoreMinPositive, any guess whose strength
// falls below min((1-GuessRelativeIgnoreDistance)*B, B-GuessIgnoreDistance)
// - where B is the top strength - is dropped as too far behind to matter.
// Below that positive-strength floor the top guess itself is too weak to
// anchor pruning, so every candidate survives. The result is always
// truncated to GuessLimit.
func (e *Engine) pruneByIgnoreDistance(ctx context.Context, scored []guess.Scored) ([]guess.Scored, error) {
	if len(scored) == 0 {
		return scored, nil
	}

	top := scored[0]
	topPositive, err := top.Guess.PositiveStrength(ctx)
	if err != nil {
		return nil, fmt.Errorf("engine: top positive strength: %w", err)
	}

	var pruned []guess.Scored
	if topPositive < e.cfg.GuessIgnoreMinPositive {
		pruned = scored
	} else {
		b := top.Strength
		relFloor := (1 - e.cfg.GuessRelativeIgnoreDistance) * b
		absFloor := b - e.cfg.GuessIgnoreDistance
		floor := math.Min(relFloor, absFloor)
		for _, sc := range scored {
			if sc.Strength >= floor {
				pruned = append(pruned, sc)
			}
		}
	}

	if len(pruned) > e.cfg.GuessLimit {
		pruned = pruned[:e.cfg.GuessLimit]
	}
	return pruned, nil
}

// decisiveness is 0 for no guesses, the top guess's strength alone for a
// single guess, and otherwise the mean strength gap between the top guess
// and every runner-up - a larger value means the top guess stands out more
// clearly from the rest of the field.
func decisiveness(scored []guess.Scored) float64 {
	if len(scored) == 0 {
		return 0
	}
	if len(scored) == 1 {
		return scored[0].Strength
	}
	var sum float64
	for _, sc := range scored[1:] {
		sum += scored[0].Strength - sc.Strength
	}
	return sum / float64(len(scored)-1)
}

// sufficientSupport reports whether the top guess clears both the relative
// and absolute support thresholds. retrievedWeight in the denominator
// counts a successfully fetched asset as 1 and a failed fetch as
// cfg.FailedAssetWeight - a site that fails many probes shouldn't let its
// few successes look artificially more supportive.
func sufficientSupport(scored []guess.Scored, assets []*fetch.Asset, cfg config.Config) bool {
	if len(scored) == 0 {
		return false
	}
	top := scored[0].Strength

	var retrievedWeight float64
	for _, a := range assets {
		if a.Retrieved && a.Success {
			retrievedWeight++
		} else if a.Retrieved {
			retrievedWeight += cfg.FailedAssetWeight
		}
	}
	if retrievedWeight < 1 {
		retrievedWeight = 1
	}

	support := top / retrievedWeight
	return support >= cfg.MinSupport && top >= cfg.MinAbsoluteSupport
}

// topTied returns the contiguous prefix of scored sharing the top strength
// value - the set of guesses Analyze reports when it decides.
func topTied(scored []guess.Scored) []*guess.Guess {
	if len(scored) == 0 {
		return nil
	}
	top := scored[0].Strength
	out := []*guess.Guess{scored[0].Guess}
	for _, sc := range scored[1:] {
		if sc.Strength != top {
			break
		}
		out = append(out, sc.Guess)
	}
	return out
}
