package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flanksource/fingerprint/pkg/fetch"
	"github.com/flanksource/fingerprint/pkg/guess"
)

type resultPackage struct {
	Name             string   `json:"name"`
	Vendor           string   `json:"vendor"`
	AlternativeNames []string `json:"alternative_names"`
}

type resultVersion struct {
	SoftwarePackage    resultPackage `json:"software_package"`
	Name               string        `json:"name"`
	InternalIdentifier string        `json:"internal_identifier"`
	ReleaseDate        string        `json:"release_date"`
}

type resultAsset struct {
	URL         string `json:"url"`
	WebrootPath string `json:"webroot_path"`
}

type resultGuess struct {
	SoftwareVersion resultVersion `json:"software_version"`
	PositiveMatches []resultAsset `json:"positive_matches"`
	NegativeMatches []resultAsset `json:"negative_matches"`
}

func assetsToResult(assets []*fetch.Asset) []resultAsset {
	out := make([]resultAsset, 0, len(assets))
	for _, a := range assets {
		out = append(out, resultAsset{URL: a.URL, WebrootPath: a.WebrootPath})
	}
	return out
}

// MarshalResult renders guesses in the result JSON shape: an array of
// per-guess objects, or a bare empty object when there is no confident
// guess - matching the CLI's "no confident guess is exit code 0 with `{}`"
// contract.
func MarshalResult(guesses []*guess.Guess) ([]byte, error) {
	if len(guesses) == 0 {
		return []byte("{}"), nil
	}

	out := make([]resultGuess, 0, len(guesses))
	for _, g := range guesses {
		v := g.Version
		out = append(out, resultGuess{
			SoftwareVersion: resultVersion{
				SoftwarePackage: resultPackage{
					Name:             v.Package.Name,
					Vendor:           v.Package.Vendor,
					AlternativeNames: v.Package.AlternativeNames,
				},
				Name:               v.Name,
				InternalIdentifier: v.InternalIdentifier,
				ReleaseDate:        v.ReleaseDate.Format("2006-01-02T15:04:05Z07:00"),
			},
			PositiveMatches: assetsToResult(g.PositiveMatches),
			NegativeMatches: assetsToResult(g.NegativeMatches),
		})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal result: %w", err)
	}
	return data, nil
}

type debugAsset struct {
	URL         string  `json:"url"`
	WebrootPath string  `json:"webroot_path"`
	StatusCode  int     `json:"status_code"`
	Success     bool    `json:"success"`
	Checksum    string  `json:"checksum,omitempty"`
	IDFWeight   float64 `json:"idf_weight"`
	ExpectedBy  int     `json:"expected_by"`
	UsedBy      int     `json:"used_by"`
}

type debugGuess struct {
	SoftwareVersion resultVersion `json:"software_version"`
	PositiveCount   int           `json:"positive_count"`
	NegativeCount   int           `json:"negative_count"`
	Strength        float64       `json:"strength"`
}

type debugDump struct {
	PrimaryURL string       `json:"primary_url"`
	Iterations int          `json:"iterations"`
	Assets     []debugAsset `json:"assets"`
	Guesses    []debugGuess `json:"guesses"`
}

// MarshalDebug renders the full evidence state of a finished analysis:
// every retrieved asset with its checksum and index counts, plus every
// returned guess with its match counts and strength. This is what the
// CLI's --debug-json-file writes.
func (e *Engine) MarshalDebug(ctx context.Context, guesses []*guess.Guess) ([]byte, error) {
	dump := debugDump{PrimaryURL: e.primaryURL, Iterations: e.iteration}

	for _, a := range e.assets {
		da := debugAsset{
			URL:         a.URL,
			WebrootPath: a.WebrootPath,
			StatusCode:  a.StatusCode,
			Success:     a.Success,
		}
		if sum, ok := a.Checksum(); ok {
			da.Checksum = sum.String()
		}
		w, err := a.IDFWeight(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: debug dump: %w", err)
		}
		da.IDFWeight = w
		expected, err := a.ExpectedVersions(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: debug dump: %w", err)
		}
		using, err := a.UsingVersions(ctx)
		if err != nil {
			return nil, fmt.Errorf("engine: debug dump: %w", err)
		}
		da.ExpectedBy, da.UsedBy = len(expected), len(using)
		dump.Assets = append(dump.Assets, da)
	}

	for _, g := range guesses {
		strength, err := g.Strength(ctx, e.cfg.PositiveMatchWeight, e.cfg.NegativeMatchWeight)
		if err != nil {
			return nil, fmt.Errorf("engine: debug dump: %w", err)
		}
		v := g.Version
		dump.Guesses = append(dump.Guesses, debugGuess{
			SoftwareVersion: resultVersion{
				SoftwarePackage: resultPackage{
					Name:             v.Package.Name,
					Vendor:           v.Package.Vendor,
					AlternativeNames: v.Package.AlternativeNames,
				},
				Name:               v.Name,
				InternalIdentifier: v.InternalIdentifier,
				ReleaseDate:        v.ReleaseDate.Format("2006-01-02T15:04:05Z07:00"),
			},
			PositiveCount: len(g.PositiveMatches),
			NegativeCount: len(g.NegativeMatches),
			Strength:      strength,
		})
	}

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("engine: marshal debug dump: %w", err)
	}
	return data, nil
}
