package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/flanksource/clicky"
	"github.com/flanksource/commons/logger"
	"github.com/spf13/cobra"

	"github.com/flanksource/fingerprint/pkg/cache"
	"github.com/flanksource/fingerprint/pkg/config"
	"github.com/flanksource/fingerprint/pkg/engine"
	"github.com/flanksource/fingerprint/pkg/fetch"
	"github.com/flanksource/fingerprint/pkg/hints"
	fphttp "github.com/flanksource/fingerprint/pkg/http"
	"github.com/flanksource/fingerprint/pkg/store"
)

var (
	configFile    string
	indexDB       string
	cacheFile     string
	jsonOnly      bool
	jsonFile      string
	debugJSONFile string
	persistDir    string
	versionInfo   VersionInfo
	showVersion   bool

	guessLimit                      int
	maxIterations                   int
	minAssetsPerIteration           int
	maxAssetsPerIteration           int
	minSupport                      float64
	minAbsoluteSupport              float64
	maxIterationsWithoutImprovement int
	iterationMinImprovement         float64
	guessIgnoreDistance             float64
	guessRelativeIgnoreDistance     float64
	guessIgnoreMinPositive          float64
	positiveMatchWeight             float64
	negativeMatchWeight             float64
	failedAssetWeight               float64
	requestTimeout                  time.Duration
	fetchConcurrency                int
)

type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

func SetVersion(version, commit, date string) {
	versionInfo = VersionInfo{Version: version, Commit: commit, Date: date}
}

var rootCmd = &cobra.Command{
	Use:          "fingerprint [flags] PRIMARY_URL",
	Short:        "Identify which web-application package and version powers a website",
	SilenceUsage: true,
	Long: `fingerprint identifies the software package (and specific released
version) powering a website, using only externally observable HTTP
responses: it matches checksums of the site's static assets against a
pre-built index of known (package, version) file sets and iteratively
probes the most discriminating paths until a confident answer emerges.

Examples:
  fingerprint https://example.org
  fingerprint --index-db ./index.db --json-only https://example.org
  fingerprint --cache-file run.json --max-iterations 10 https://example.org`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyze,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		clicky.Flags.UseFlags()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	clicky.BindAllFlags(rootCmd.PersistentFlags(), "tasks", "!format")

	defaults := config.Default()

	rootCmd.PersistentFlags().BoolVar(&showVersion, "version", false, "Show version information")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to fingerprint.yaml config file")
	rootCmd.PersistentFlags().StringVar(&indexDB, "index-db", "fingerprint.db", "Path to the sqlite index database")
	rootCmd.PersistentFlags().StringVar(&cacheFile, "cache-file", "", "Path to a persisted URL response cache (read at start, written at end)")
	rootCmd.PersistentFlags().BoolVar(&jsonOnly, "json-only", false, "Print only the result JSON on stdout")
	rootCmd.PersistentFlags().StringVar(&jsonFile, "json-file", "", "Write the result JSON to this file")
	rootCmd.PersistentFlags().StringVar(&debugJSONFile, "debug-json-file", "", "Write the full evidence state as JSON to this file")
	rootCmd.PersistentFlags().StringVar(&persistDir, "persist-resources", "", "Write the body of every successfully fetched asset into this directory")

	rootCmd.Flags().IntVar(&guessLimit, "guess-limit", defaults.GuessLimit, "Maximum number of guesses to carry between iterations")
	rootCmd.Flags().IntVar(&maxIterations, "max-iterations", defaults.MaxIterations, "Maximum probe iterations before deciding")
	rootCmd.Flags().IntVar(&minAssetsPerIteration, "min-assets-per-iteration", defaults.MinAssetsPerIteration, "Stop probing an iteration once this many assets were found in the index")
	rootCmd.Flags().IntVar(&maxAssetsPerIteration, "max-assets-per-iteration", defaults.MaxAssetsPerIteration, "Maximum probe paths requested per iteration")
	rootCmd.Flags().Float64Var(&minSupport, "min-support", defaults.MinSupport, "Minimum top-strength / retrieved-assets ratio for a confident answer")
	rootCmd.Flags().Float64Var(&minAbsoluteSupport, "min-absolute-support", defaults.MinAbsoluteSupport, "Minimum absolute top strength for a confident answer")
	rootCmd.Flags().IntVar(&maxIterationsWithoutImprovement, "max-iterations-without-improvement", defaults.MaxIterationsWithoutImprovement, "Consecutive useless iterations before giving up")
	rootCmd.Flags().Float64Var(&iterationMinImprovement, "iteration-min-improvement", defaults.IterationMinImprovement, "Decisiveness gain below which an iteration counts as useless")
	rootCmd.Flags().Float64Var(&guessIgnoreDistance, "guess-ignore-distance", defaults.GuessIgnoreDistance, "Absolute strength distance behind the top guess at which candidates are dropped")
	rootCmd.Flags().Float64Var(&guessRelativeIgnoreDistance, "guess-relative-ignore-distance", defaults.GuessRelativeIgnoreDistance, "Relative strength distance behind the top guess at which candidates are dropped")
	rootCmd.Flags().Float64Var(&guessIgnoreMinPositive, "guess-ignore-min-positive", defaults.GuessIgnoreMinPositive, "Minimum top positive strength before the ignore-distance floor applies")
	rootCmd.Flags().Float64Var(&positiveMatchWeight, "positive-match-weight", defaults.PositiveMatchWeight, "Weight of positive matches in guess strength")
	rootCmd.Flags().Float64Var(&negativeMatchWeight, "negative-match-weight", defaults.NegativeMatchWeight, "Weight of negative matches in guess strength")
	rootCmd.Flags().Float64Var(&failedAssetWeight, "failed-asset-weight", defaults.FailedAssetWeight, "Denominator weight of a failed asset fetch in support accounting")
	rootCmd.Flags().DurationVar(&requestTimeout, "request-timeout", defaults.RequestTimeout, "Per-request HTTP timeout")
	rootCmd.Flags().IntVar(&fetchConcurrency, "fetch-concurrency", defaults.FetchConcurrency, "Concurrent asset fetches within one iteration")
}

// buildConfig layers CLI flag overrides over the (possibly file-loaded)
// config - a flag only overrides when it was actually set on the command
// line.
func buildConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}

	set := func(name string, apply func()) {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	set("guess-limit", func() { cfg.GuessLimit = guessLimit })
	set("max-iterations", func() { cfg.MaxIterations = maxIterations })
	set("min-assets-per-iteration", func() { cfg.MinAssetsPerIteration = minAssetsPerIteration })
	set("max-assets-per-iteration", func() { cfg.MaxAssetsPerIteration = maxAssetsPerIteration })
	set("min-support", func() { cfg.MinSupport = minSupport })
	set("min-absolute-support", func() { cfg.MinAbsoluteSupport = minAbsoluteSupport })
	set("max-iterations-without-improvement", func() { cfg.MaxIterationsWithoutImprovement = maxIterationsWithoutImprovement })
	set("iteration-min-improvement", func() { cfg.IterationMinImprovement = iterationMinImprovement })
	set("guess-ignore-distance", func() { cfg.GuessIgnoreDistance = guessIgnoreDistance })
	set("guess-relative-ignore-distance", func() { cfg.GuessRelativeIgnoreDistance = guessRelativeIgnoreDistance })
	set("guess-ignore-min-positive", func() { cfg.GuessIgnoreMinPositive = guessIgnoreMinPositive })
	set("positive-match-weight", func() { cfg.PositiveMatchWeight = positiveMatchWeight })
	set("negative-match-weight", func() { cfg.NegativeMatchWeight = negativeMatchWeight })
	set("failed-asset-weight", func() { cfg.FailedAssetWeight = failedAssetWeight })
	set("request-timeout", func() { cfg.RequestTimeout = requestTimeout })
	set("fetch-concurrency", func() { cfg.FetchConcurrency = fetchConcurrency })

	return cfg, cfg.Validate()
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Printf("fingerprint version %s\n  commit: %s\n  built: %s\n", versionInfo.Version, versionInfo.Commit, versionInfo.Date)
		return nil
	}
	if len(args) != 1 {
		return fmt.Errorf("exactly one PRIMARY_URL argument is required")
	}
	primaryURL := args[0]

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	st, err := store.Open(indexDB)
	if err != nil {
		return err
	}
	defer st.Close()

	var c *cache.Cache
	if cacheFile != "" {
		c = cache.Load(cacheFile)
	}
	client := fphttp.NewProbeClient(fphttp.Options{Timeout: cfg.RequestTimeout})
	fetcher := fetch.New(client, c)

	eng, err := engine.New(cfg, st, fetcher, hints.New(hints.DefaultRules()))
	if err != nil {
		return err
	}

	ctx := context.Background()
	guesses, err := eng.Analyze(ctx, primaryURL)
	if err != nil {
		return err
	}

	result, err := engine.MarshalResult(guesses)
	if err != nil {
		return err
	}

	if jsonOnly {
		fmt.Println(string(result))
	} else if len(guesses) == 0 {
		logger.Infof("no confident guess for %s", eng.PrimaryURL())
		fmt.Println("{}")
	} else {
		for _, g := range guesses {
			fmt.Printf("%s %s (%d positive, %d negative matches)\n",
				g.Version.Package.Name, g.Version.Name, len(g.PositiveMatches), len(g.NegativeMatches))
		}
		if newer, err := eng.MoreRecentVersion(ctx, guesses); err == nil && newer != nil {
			fmt.Printf("a more recent release exists: %s\n", newer.Version)
		}
	}

	if jsonFile != "" {
		if err := os.WriteFile(jsonFile, result, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", jsonFile, err)
		}
	}
	if debugJSONFile != "" {
		dump, err := eng.MarshalDebug(ctx, guesses)
		if err != nil {
			return err
		}
		if err := os.WriteFile(debugJSONFile, dump, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", debugJSONFile, err)
		}
	}
	if persistDir != "" {
		if err := persistResources(eng, persistDir); err != nil {
			return err
		}
	}
	if cacheFile != "" {
		if err := eng.SaveCache(cacheFile); err != nil {
			logger.Warnf("persisting cache to %s: %v", cacheFile, err)
		}
	}

	return nil
}

// persistResources writes every successfully fetched asset body under dir,
// one file per webroot path, for offline inspection of a run.
func persistResources(eng *engine.Engine, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	for _, a := range eng.Assets() {
		if !a.Success {
			continue
		}
		name := strings.Trim(a.WebrootPath, "/")
		if name == "" {
			name = "index"
		}
		name = strings.ReplaceAll(name, "/", "_")
		if err := os.WriteFile(filepath.Join(dir, name), a.Body, 0644); err != nil {
			return fmt.Errorf("persisting %s: %w", a.WebrootPath, err)
		}
	}
	return nil
}
