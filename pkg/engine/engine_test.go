package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flanksource/fingerprint/pkg/checksum"
	"github.com/flanksource/fingerprint/pkg/config"
	"github.com/flanksource/fingerprint/pkg/fetch"
	"github.com/flanksource/fingerprint/pkg/guess"
	"github.com/flanksource/fingerprint/pkg/hints"
	"github.com/flanksource/fingerprint/pkg/store"
	"github.com/flanksource/fingerprint/pkg/types"
)

const landingWithGenerator = `<html><head><meta name="generator" content="widgetcms"></head><body></body></html>`

func testVersion(ver string) types.SoftwareVersion {
	return types.SoftwareVersion{
		Package:            types.SoftwarePackage{Name: "widgetcms", Vendor: "acme"},
		Name:               ver,
		InternalIdentifier: ver,
		ReleaseDate:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Indexed:            true,
	}
}

func sumOf(name, body string) [16]byte {
	sum, _, ok := checksum.Checksum(name, []byte(body))
	if !ok {
		panic("fixture content must checksum: " + name)
	}
	return [16]byte(sum)
}

// fakeSite serves a fixed path->body map and counts every request it sees.
type fakeSite struct {
	pages    map[string]string
	requests atomic.Int64
}

func newFakeSite(pages map[string]string) (*fakeSite, *httptest.Server) {
	site := &fakeSite{pages: pages}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.requests.Add(1)
		body, ok := site.pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	return site, srv
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MaxIterations = 5
	cfg.MinSupport = 0.05
	cfg.MinAbsoluteSupport = 0.1
	cfg.FetchConcurrency = 2
	return cfg
}

func newEngine(cfg config.Config, st *store.Store, srv *httptest.Server) *Engine {
	fetcher := fetch.New(srv.Client(), nil)
	eng, err := New(cfg, st, fetcher, hints.New(nil))
	Expect(err).ToNot(HaveOccurred())
	return eng
}

var _ = Describe("Engine", func() {
	var (
		ctx context.Context
		st  *store.Store
		v1  types.SoftwareVersion
		v2  types.SoftwareVersion
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		st, err = store.Open(":memory:")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(st.Close)

		v1 = testVersion("1.0")
		v2 = testVersion("2.0")
	})

	Describe("single unambiguous version", func() {
		It("converges on the version whose checksum the site serves", func() {
			jsV1 := "var release = 1;"
			jsV2 := "var release = 2;"
			Expect(st.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: sumOf("a.js", jsV1)}})).To(Succeed())
			Expect(st.BulkIngest(ctx, v2, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: sumOf("a.js", jsV2)}})).To(Succeed())

			_, srv := newFakeSite(map[string]string{
				"/":     landingWithGenerator,
				"/a.js": jsV1,
			})
			DeferCleanup(srv.Close)

			eng := newEngine(testConfig(), st, srv)
			guesses, err := eng.Analyze(ctx, srv.URL+"/")
			Expect(err).ToNot(HaveOccurred())
			Expect(guesses).To(HaveLen(1))
			Expect(guesses[0].Version.InternalIdentifier).To(Equal("1.0"))
			Expect(guesses[0].PositiveMatches).To(HaveLen(1))
			Expect(guesses[0].Validate(ctx)).To(Succeed())
		})
	})

	Describe("negative evidence", func() {
		It("files an unrecognized checksum as a negative match for every expecting version", func() {
			Expect(st.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: sumOf("a.js", "var release = 1;")}})).To(Succeed())
			Expect(st.BulkIngest(ctx, v2, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: sumOf("a.js", "var release = 2;")}})).To(Succeed())

			_, srv := newFakeSite(map[string]string{
				"/":     landingWithGenerator,
				"/a.js": "var release = 99;",
			})
			DeferCleanup(srv.Close)

			cfg := testConfig()
			cfg.MinSupport = 0
			cfg.MinAbsoluteSupport = 0
			eng := newEngine(cfg, st, srv)
			guesses, err := eng.Analyze(ctx, srv.URL+"/")
			Expect(err).ToNot(HaveOccurred())

			// both versions tie: one negative match each, no positives
			Expect(guesses).To(HaveLen(2))
			for _, g := range guesses {
				Expect(g.PositiveMatches).To(BeEmpty())
				Expect(g.NegativeMatches).To(HaveLen(1))
				Expect(g.Validate(ctx)).To(Succeed())
			}
		})
	})

	Describe("insufficient support", func() {
		It("returns no guess when one weak positive drowns among many retrieved assets", func() {
			jsV1 := "var release = 1;"
			Expect(st.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: sumOf("a.js", jsV1)}})).To(Succeed())
			Expect(st.BulkIngest(ctx, v2, []types.StaticFile{{SourcePath: "src/b.js", WebrootPath: "/b.js", Checksum: sumOf("b.js", "var x = 0;")}})).To(Succeed())

			// a landing page referencing many assets the index knows nothing about
			landing := landingWithGenerator
			pages := map[string]string{"/a.js": jsV1}
			refs := ""
			for i := 0; i < 12; i++ {
				path := fmt.Sprintf("/noise%d.js", i)
				pages[path] = fmt.Sprintf("var noise = %d;", i)
				refs += fmt.Sprintf(`<script src="%s"></script>`, path)
			}
			pages["/"] = landing[:len(landing)-len("</body></html>")] + refs + "</body></html>"

			_, srv := newFakeSite(pages)
			DeferCleanup(srv.Close)

			cfg := testConfig()
			cfg.MinSupport = 0.2
			eng := newEngine(cfg, st, srv)
			guesses, err := eng.Analyze(ctx, srv.URL+"/")
			Expect(err).ToNot(HaveOccurred())
			Expect(guesses).To(BeNil())
		})
	})

	Describe("landing-page failure", func() {
		It("returns no guesses and no error", func() {
			_, srv := newFakeSite(map[string]string{}) // 404 for everything
			DeferCleanup(srv.Close)

			eng := newEngine(testConfig(), st, srv)
			guesses, err := eng.Analyze(ctx, srv.URL+"/")
			Expect(err).ToNot(HaveOccurred())
			Expect(guesses).To(BeNil())
		})
	})

	Describe("determinism", func() {
		It("produces identical results across two independent runs", func() {
			jsV1 := "var release = 1;"
			Expect(st.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: sumOf("a.js", jsV1)}})).To(Succeed())
			Expect(st.BulkIngest(ctx, v2, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: sumOf("a.js", "var release = 2;")}})).To(Succeed())

			_, srv := newFakeSite(map[string]string{
				"/":     landingWithGenerator,
				"/a.js": jsV1,
			})
			DeferCleanup(srv.Close)

			run := func() []byte {
				eng := newEngine(testConfig(), st, srv)
				guesses, err := eng.Analyze(ctx, srv.URL+"/")
				Expect(err).ToNot(HaveOccurred())
				out, err := MarshalResult(guesses)
				Expect(err).ToNot(HaveOccurred())
				return out
			}
			Expect(run()).To(Equal(run()))
		})
	})

	Describe("termination", func() {
		It("bounds the number of HTTP requests issued", func() {
			// an index rich in paths the site never serves: every probe
			// fails, and the request count must stay within the bound
			// whatever ends the loop
			var files1, files2 []types.StaticFile
			for i := 0; i < 30; i++ {
				path := fmt.Sprintf("/asset%d.js", i)
				files1 = append(files1, types.StaticFile{SourcePath: "src" + path, WebrootPath: path, Checksum: sumOf("a.js", fmt.Sprintf("var v1 = %d;", i))})
				files2 = append(files2, types.StaticFile{SourcePath: "src" + path, WebrootPath: path, Checksum: sumOf("a.js", fmt.Sprintf("var v2 = %d;", i))})
			}
			Expect(st.BulkIngest(ctx, v1, files1)).To(Succeed())
			Expect(st.BulkIngest(ctx, v2, files2)).To(Succeed())

			site, srv := newFakeSite(map[string]string{"/": landingWithGenerator})
			DeferCleanup(srv.Close)

			cfg := testConfig()
			cfg.MaxIterationsWithoutImprovement = cfg.MaxIterations + 1 // never the binding constraint
			eng := newEngine(cfg, st, srv)
			_, err := eng.Analyze(ctx, srv.URL+"/")
			Expect(err).ToNot(HaveOccurred())

			// landing + favicon + at most MaxIterations * MaxAssetsPerIteration probes
			bound := int64(2 + cfg.MaxIterations*cfg.MaxAssetsPerIteration)
			Expect(site.requests.Load()).To(BeNumerically("<=", bound))
		})
	})

	Describe("support monotonicity with index growth", func() {
		It("cannot decrease a guess's support when a negative match becomes positive", func() {
			served := "var release = 1;"
			servedSum := sumOf("a.js", served)
			otherSum := sumOf("a.js", "var release = 0;")

			strengthFor := func(extra []types.StaticFile) float64 {
				s, err := store.Open(":memory:")
				Expect(err).ToNot(HaveOccurred())
				defer s.Close()
				files := append([]types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: otherSum}}, extra...)
				Expect(s.BulkIngest(ctx, testVersion("1.0"), files)).To(Succeed())
				// a populated index keeps idf weights meaningful
				for i := 2; i <= 5; i++ {
					filler := testVersion(fmt.Sprintf("%d.0", i))
					Expect(s.BulkIngest(ctx, filler, []types.StaticFile{{
						SourcePath:  fmt.Sprintf("src/d%d.js", i),
						WebrootPath: fmt.Sprintf("/d%d.js", i),
						Checksum:    sumOf("a.js", fmt.Sprintf("var d = %d;", i)),
					}})).To(Succeed())
				}

				_, srv := newFakeSite(map[string]string{
					"/":     landingWithGenerator,
					"/a.js": served,
				})
				defer srv.Close()

				cfg := testConfig()
				cfg.MinSupport = 0
				cfg.MinAbsoluteSupport = 0
				eng := newEngine(cfg, s, srv)
				guesses, err := eng.Analyze(ctx, srv.URL+"/")
				Expect(err).ToNot(HaveOccurred())
				Expect(guesses).ToNot(BeEmpty())
				Expect(guesses[0].Version.InternalIdentifier).To(Equal("1.0"))
				strength, err := guesses[0].Strength(ctx, cfg.PositiveMatchWeight, cfg.NegativeMatchWeight)
				Expect(err).ToNot(HaveOccurred())
				return strength
			}

			before := strengthFor(nil)
			after := strengthFor([]types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: servedSum}})
			Expect(after).To(BeNumerically(">=", before))
		})
	})

	Describe("freshness hint", func() {
		It("reports a newer release of the decided package", func() {
			jsV1 := "var release = 1;"
			newer := testVersion("3.0")
			newer.ReleaseDate = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
			newer.Indexed = false
			Expect(st.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: sumOf("a.js", jsV1)}})).To(Succeed())
			Expect(st.BulkIngest(ctx, v2, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: sumOf("a.js", "var release = 2;")}})).To(Succeed())
			Expect(st.BulkIngest(ctx, newer, nil)).To(Succeed())

			_, srv := newFakeSite(map[string]string{
				"/":     landingWithGenerator,
				"/a.js": jsV1,
			})
			DeferCleanup(srv.Close)

			eng := newEngine(testConfig(), st, srv)
			guesses, err := eng.Analyze(ctx, srv.URL+"/")
			Expect(err).ToNot(HaveOccurred())
			Expect(guesses).ToNot(BeEmpty())
			Expect(guesses[0].Version.InternalIdentifier).To(Equal("1.0"))

			recent, err := eng.MoreRecentVersion(ctx, guesses)
			Expect(err).ToNot(HaveOccurred())
			Expect(recent).ToNot(BeNil())
			Expect(recent.Version.InternalIdentifier).To(Equal("3.0"))
		})

		It("errors when the guess set spans multiple packages", func() {
			other := testVersion("1.0")
			other.Package = types.SoftwarePackage{Name: "othercms", Vendor: "acme"}

			_, srv := newFakeSite(map[string]string{"/": landingWithGenerator})
			DeferCleanup(srv.Close)

			eng := newEngine(testConfig(), st, srv)
			_, err := eng.MoreRecentVersion(ctx, []*guess.Guess{guess.New(v1), guess.New(other)})
			Expect(err).To(HaveOccurred())
		})
	})
})
