package engine

import (
	"context"
	"fmt"

	"github.com/flanksource/fingerprint/pkg/guess"
)

// MoreRecentVersion is the freshness hint: given a decided
// guess set, look up every version of its package and report the one with
// the latest release date, if it differs from the version already given.
// "The given one" is taken as guesses[0].Version - the top-ranked guess,
// which is also the only one considered when the decision was a clean
// single winner.
func (e *Engine) MoreRecentVersion(ctx context.Context, guesses []*guess.Guess) (*guess.Guess, error) {
	if len(guesses) == 0 {
		return nil, nil
	}
	pkg := guesses[0].Version.Package
	for _, g := range guesses[1:] {
		if g.Version.Package.Key() != pkg.Key() {
			return nil, fmt.Errorf("engine: more_recent_version: guesses span multiple packages")
		}
	}

	all, err := e.store.VersionsOf(ctx, pkg, false)
	if err != nil {
		return nil, fmt.Errorf("engine: more_recent_version: %w", err)
	}
	if len(all) == 0 {
		return nil, nil
	}

	given := guesses[0].Version
	latest := all[0]
	for _, v := range all[1:] {
		if v.ReleaseDate.After(latest.ReleaseDate) {
			latest = v
		}
	}
	if latest.Key() == given.Key() {
		return nil, nil
	}
	return guess.New(latest), nil
}
