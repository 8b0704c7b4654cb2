package assetcache_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/ginkgo/v2"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/gomega"

	"github.com/fsbench/fsbench/pkg/assetcache"
	"github.com/fsbench/fsbench/pkg/common/errkind"
)

type countingFinder struct {
	inner assetcache.Finder
	calls int
}

func (f *countingFinder) Find(ctx context.Context, root, name string) ([]string, error) {
	f.calls++
	return f.inner.Find(ctx, root, name)
}

var _ = Describe("Cache", func() {
	var (
		ctx       context.Context
		root      string
		cacheFile string
		finder    *countingFinder
		cache     *assetcache.Cache
	)

	touch := func(rel string) {
		p := filepath.Join(root, rel)
		Expect(os.MkdirAll(filepath.Dir(p), 0755)).To(Succeed())
		Expect(os.WriteFile(p, []byte("run 60\n"), 0644)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		dir := GinkgoT().TempDir()
		root = filepath.Join(dir, "tree")
		cacheFile = filepath.Join(dir, "state", "workloads.json")
		touch("a/workloads/fileserver.f")
		touch("b/workloads/fileserver.f")
		touch("b/scratch/workloads/fileserver.f")
		touch("c/other.f")

		finder = &countingFinder{inner: assetcache.WalkFinder{}}
		cache = assetcache.New(finder)
		cache.Register("workloads", assetcache.Source{
			CacheFile:  cacheFile,
			SearchRoot: root,
			Marker:     "fileserver.f",
			Exclude:    []string{"scratch"},
			Transform:  filepath.Dir,
		})
	})

	It("discovers on a cold cache and persists a JSON array", func() {
		paths, err := cache.Get(ctx, "workloads")
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(ConsistOf(filepath.Join(root, "a/workloads"), filepath.Join(root, "b/workloads")))
		Expect(finder.calls).To(Equal(1))

		content, err := os.ReadFile(cacheFile)
		Expect(err).NotTo(HaveOccurred())
		var persisted []string
		Expect(json.Unmarshal(content, &persisted)).To(Succeed())
		Expect(persisted).To(Equal(paths))
	})

	It("reads back the persisted list without searching again", func() {
		first, err := cache.Get(ctx, "workloads")
		Expect(err).NotTo(HaveOccurred())

		reopened := assetcache.New(finder)
		reopened.Register("workloads", assetcache.Source{CacheFile: cacheFile, SearchRoot: root, Marker: "fileserver.f"})
		second, err := reopened.Get(ctx, "workloads")
		Expect(err).NotTo(HaveOccurred())
		Expect(second).To(Equal(first))
		Expect(finder.calls).To(Equal(1))
	})

	It("never serves the deleted file after invalidation", func() {
		_, err := cache.Get(ctx, "workloads")
		Expect(err).NotTo(HaveOccurred())
		Expect(os.WriteFile(cacheFile, []byte(`["/stale"]`), 0644)).To(Succeed())

		Expect(cache.Invalidate("workloads")).To(Succeed())
		_, statErr := os.Stat(cacheFile)
		Expect(os.IsNotExist(statErr)).To(BeTrue())

		paths, err := cache.Get(ctx, "workloads")
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).NotTo(ContainElement("/stale"))
		Expect(finder.calls).To(Equal(2))
	})

	It("gives the same set on every rebuild of an unchanged tree", func() {
		first, err := cache.Rebuild(ctx, "workloads")
		Expect(err).NotTo(HaveOccurred())
		for i := 0; i < 3; i++ {
			again, err := cache.Rebuild(ctx, "workloads")
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(ConsistOf(first))
		}
	})

	It("rebuilds over a corrupt cache file", func() {
		Expect(os.MkdirAll(filepath.Dir(cacheFile), 0755)).To(Succeed())
		Expect(os.WriteFile(cacheFile, []byte("{not json"), 0644)).To(Succeed())

		paths, err := cache.Get(ctx, "workloads")
		Expect(err).NotTo(HaveOccurred())
		Expect(paths).To(HaveLen(2))
		Expect(finder.calls).To(Equal(1))
	})

	It("rejects unknown keys", func() {
		_, err := cache.Get(ctx, "builds")
		Expect(errors.Is(err, errkind.ErrMissingRequiredInput)).To(BeTrue())
		Expect(errors.Is(cache.Invalidate("builds"), errkind.ErrMissingRequiredInput)).To(BeTrue())
	})

	It("announces discovery through the hook", func() {
		var started, finished []string
		cache.BeforeDiscover = func(key string, _ assetcache.Source) func() {
			started = append(started, key)
			return func() { finished = append(finished, key) }
		}
		_, err := cache.Get(ctx, "workloads")
		Expect(err).NotTo(HaveOccurred())
		Expect(started).To(Equal([]string{"workloads"}))
		Expect(finished).To(Equal([]string{"workloads"}))
	})

	It("prunes configured directories", func() {
		hits, err := assetcache.WalkFinder{Prune: []string{filepath.Join(root, "a")}}.Find(ctx, root, "fileserver.f")
		Expect(err).NotTo(HaveOccurred())
		for _, h := range hits {
			Expect(h).NotTo(HavePrefix(filepath.Join(root, "a") + "/"))
		}
		Expect(hits).To(HaveLen(2))
	})
})
