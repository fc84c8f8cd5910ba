package store

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/flanksource/fingerprint/pkg/types"
)

func mkVersion(pkg, ver, id string) types.SoftwareVersion {
	return types.SoftwareVersion{
		Package:            types.SoftwarePackage{Name: pkg, Vendor: "acme"},
		Name:               ver,
		InternalIdentifier: id,
		ReleaseDate:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Indexed:            true,
	}
}

func mkChecksum(b byte) [16]byte {
	var c [16]byte
	c[0] = b
	return c
}

var _ = Describe("Store", func() {
	var (
		ctx context.Context
		s   *Store
		v1  types.SoftwareVersion
		v2  types.SoftwareVersion
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		s, err = Open(":memory:")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(s.Close)

		v1 = mkVersion("widgetcms", "1.0", "1.0")
		v2 = mkVersion("widgetcms", "2.0", "2.0")
	})

	Describe("two versions diverging at one path", func() {
		It("makes /a.js discriminating and resolves checksum C1 to only v1", func() {
			c1 := mkChecksum(0x01)
			c2 := mkChecksum(0x02)
			Expect(s.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: c1}})).To(Succeed())
			Expect(s.BulkIngest(ctx, v2, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: c2}})).To(Succeed())

			paths, err := s.HighEntropyPaths(ctx, []types.SoftwareVersion{v1, v2}, 10, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(paths).To(HaveLen(1))
			Expect(paths[0].Path).To(Equal("/a.js"))
			Expect(paths[0].VersionCount).To(Equal(2))
			Expect(paths[0].ChecksumCount).To(Equal(2))

			users, err := s.UsersByChecksum(ctx, c1)
			Expect(err).ToNot(HaveOccurred())
			Expect(users).To(HaveLen(1))
			Expect(users[0].InternalIdentifier).To(Equal("1.0"))
		})
	})

	Describe("shared asset is not discriminating", func() {
		It("excludes a universal, unanimous webroot path", func() {
			c3 := mkChecksum(0x03)
			Expect(s.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/b.css", WebrootPath: "/b.css", Checksum: c3}})).To(Succeed())
			Expect(s.BulkIngest(ctx, v2, []types.StaticFile{{SourcePath: "src/b.css", WebrootPath: "/b.css", Checksum: c3}})).To(Succeed())

			paths, err := s.HighEntropyPaths(ctx, []types.SoftwareVersion{v1, v2}, 10, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(paths).To(BeEmpty())
		})
	})

	Describe("IDF ordering", func() {
		It("weighs a rare checksum above a common one", func() {
			rare := mkChecksum(0xAA)
			common := mkChecksum(0xBB)

			Expect(s.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/rare.js", WebrootPath: "/rare.js", Checksum: rare}})).To(Succeed())
			for i := 0; i < 49; i++ {
				v := mkVersion("widgetcms", "common", "c"+string(rune('a'+i)))
				Expect(s.BulkIngest(ctx, v, []types.StaticFile{{SourcePath: "src/common.js", WebrootPath: "/common.js", Checksum: common}})).To(Succeed())
			}
			// one more user of common.js plus the original two versions makes 51 indexed versions
			Expect(s.BulkIngest(ctx, v2, []types.StaticFile{{SourcePath: "src/common.js", WebrootPath: "/common.js", Checksum: common}})).To(Succeed())

			idfRare, err := s.IDFWeight(ctx, rare)
			Expect(err).ToNot(HaveOccurred())
			idfCommon, err := s.IDFWeight(ctx, common)
			Expect(err).ToNot(HaveOccurred())

			Expect(idfRare).To(BeNumerically(">", idfCommon))
		})

		It("returns 1 for an unknown checksum", func() {
			Expect(s.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: mkChecksum(0x01)}})).To(Succeed())
			w, err := s.IDFWeight(ctx, mkChecksum(0xFF))
			Expect(err).ToNot(HaveOccurred())
			Expect(w).To(Equal(1.0))
		})
	})

	Describe("HighEntropyPaths contract", func() {
		It("never returns an excluded path and respects limit", func() {
			c1 := mkChecksum(0x01)
			c2 := mkChecksum(0x02)
			Expect(s.BulkIngest(ctx, v1, []types.StaticFile{
				{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: c1},
				{SourcePath: "src/b.js", WebrootPath: "/b.js", Checksum: c1},
			})).To(Succeed())
			Expect(s.BulkIngest(ctx, v2, []types.StaticFile{
				{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: c2},
				{SourcePath: "src/b.js", WebrootPath: "/b.js", Checksum: c2},
			})).To(Succeed())

			paths, err := s.HighEntropyPaths(ctx, []types.SoftwareVersion{v1, v2}, 1, map[string]bool{"/a.js": true})
			Expect(err).ToNot(HaveOccurred())
			Expect(paths).To(HaveLen(1))
			Expect(paths[0].Path).To(Equal("/b.js"))
		})
	})

	Describe("VersionsOf", func() {
		It("can restrict to indexed versions only", func() {
			unindexed := mkVersion("widgetcms", "3.0", "3.0")
			unindexed.Indexed = false
			Expect(s.BulkIngest(ctx, v1, nil)).To(Succeed())
			Expect(s.BulkIngest(ctx, unindexed, nil)).To(Succeed())

			all, err := s.VersionsOf(ctx, v1.Package, false)
			Expect(err).ToNot(HaveOccurred())
			Expect(all).To(HaveLen(2))

			indexedOnly, err := s.VersionsOf(ctx, v1.Package, true)
			Expect(err).ToNot(HaveOccurred())
			Expect(indexedOnly).To(HaveLen(1))
		})
	})

	Describe("DeleteVersion", func() {
		It("cascades its uses", func() {
			c1 := mkChecksum(0x01)
			Expect(s.BulkIngest(ctx, v1, []types.StaticFile{{SourcePath: "src/a.js", WebrootPath: "/a.js", Checksum: c1}})).To(Succeed())
			Expect(s.DeleteVersion(ctx, v1)).To(Succeed())

			users, err := s.UsersByChecksum(ctx, c1)
			Expect(err).ToNot(HaveOccurred())
			Expect(users).To(BeEmpty())
		})
	})

	Describe("unknown version in a query requiring existence", func() {
		It("surfaces a store error rather than being absorbed", func() {
			ghost := mkVersion("nonexistent", "9.9", "9.9")
			_, err := s.HighEntropyPaths(ctx, []types.SoftwareVersion{ghost}, 10, nil)
			Expect(err).To(HaveOccurred())
		})
	})
})
