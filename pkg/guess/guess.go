// Package guess is the candidate-version scoring model: a version plus the
// positive and negative evidence assets gathered for it, and the weighted
// strength derived from that evidence.
package guess

import (
	"context"
	"fmt"
	"sort"

	"github.com/flanksource/fingerprint/pkg/fetch"
	"github.com/flanksource/fingerprint/pkg/types"
)

// Guess is one candidate version plus the assets that support or
// contradict it. An asset appears in exactly one of PositiveMatches or
// NegativeMatches for a given version, never both - see Validate.
type Guess struct {
	Version         types.SoftwareVersion
	PositiveMatches []*fetch.Asset
	NegativeMatches []*fetch.Asset
}

// New returns an empty guess for v - the shape a seeded-but-unevidenced
// initial hint takes before any asset backs it.
func New(v types.SoftwareVersion) *Guess {
	return &Guess{Version: v}
}

// PositiveStrength sums the IDF weight of every positive match.
func (g *Guess) PositiveStrength(ctx context.Context) (float64, error) {
	return sumIDF(ctx, g.PositiveMatches)
}

// NegativeStrength sums the IDF weight of every negative match.
func (g *Guess) NegativeStrength(ctx context.Context) (float64, error) {
	return sumIDF(ctx, g.NegativeMatches)
}

// Strength combines positive and negative strength under the configured
// weights. The negative weight is signed and configurable; a small
// positive value turns negative matches into a mild penalty-as-bonus,
// which some deployments want.
func (g *Guess) Strength(ctx context.Context, posWeight, negWeight float64) (float64, error) {
	pos, err := g.PositiveStrength(ctx)
	if err != nil {
		return 0, err
	}
	neg, err := g.NegativeStrength(ctx)
	if err != nil {
		return 0, err
	}
	return posWeight*pos + negWeight*neg, nil
}

// Validate checks the invariant every positive/negative match must satisfy
// for this guess's version, and that the two sets are disjoint. It exists
// for tests asserting the match-set invariants directly against real assets.
func (g *Guess) Validate(ctx context.Context) error {
	seen := make(map[string]bool, len(g.PositiveMatches))
	for _, a := range g.PositiveMatches {
		using, err := a.UsingVersions(ctx)
		if err != nil {
			return err
		}
		if !containsVersion(using, g.Version) {
			return fmt.Errorf("guess: asset %s in positive_matches but %s not in using_versions", a.URL, g.Version)
		}
		seen[a.URL] = true
	}
	for _, a := range g.NegativeMatches {
		if seen[a.URL] {
			return fmt.Errorf("guess: asset %s in both positive and negative matches for %s", a.URL, g.Version)
		}
		expected, err := a.ExpectedVersions(ctx)
		if err != nil {
			return err
		}
		using, err := a.UsingVersions(ctx)
		if err != nil {
			return err
		}
		if !containsVersion(expected, g.Version) || containsVersion(using, g.Version) {
			return fmt.Errorf("guess: asset %s in negative_matches but invariant violated for %s", a.URL, g.Version)
		}
	}
	return nil
}

func containsVersion(vs []types.SoftwareVersion, v types.SoftwareVersion) bool {
	for _, candidate := range vs {
		if candidate.Key() == v.Key() {
			return true
		}
	}
	return false
}

func sumIDF(ctx context.Context, assets []*fetch.Asset) (float64, error) {
	var total float64
	for _, a := range assets {
		w, err := a.IDFWeight(ctx)
		if err != nil {
			return 0, err
		}
		total += w
	}
	return total, nil
}

// Scored pairs a Guess with its already-computed strength, the shape
// ranking sorts and trims.
type Scored struct {
	Guess    *Guess
	Strength float64
}

// SortByStrengthDescending sorts in place by strength descending, with
// ties broken by stable arrival order - callers must build scored in the
// order guesses were produced for the tie-break to mean anything.
func SortByStrengthDescending(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Strength > scored[j].Strength
	})
}
