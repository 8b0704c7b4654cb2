package preload_test

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/ginkgo/v2"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/gomega"

	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/preload"
)

var _ = Describe("Environment", func() {
	var (
		home string
		shim string
	)

	BeforeEach(func() {
		home = GinkgoT().TempDir()
		GinkgoT().Setenv("HOME", home)
		homedir.DisableCache = true
		DeferCleanup(func() { homedir.DisableCache = false })

		shim = filepath.Join(home, "shim.so")
		Expect(os.WriteFile(shim, []byte("ELF"), 0755)).To(Succeed())
		GinkgoT().Setenv("FSBENCH_INHERITED", "kept")
	})

	It("activates the shim on a copy of the inherited environment", func() {
		before := preload.Inherited()
		env, err := preload.Compose(shim, nil, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(env[preload.ActivationVar]).To(Equal(shim))
		Expect(env).NotTo(HaveKey(preload.DiagnosticsVar))
		for k, v := range before {
			if k == preload.ActivationVar {
				continue
			}
			Expect(env).To(HaveKeyWithValue(k, v))
		}
		Expect(os.Getenv(preload.ActivationVar)).NotTo(Equal(shim))
	})

	It("resolves a leading ~ before checking existence", func() {
		env, err := preload.Compose("~/shim.so", nil, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(env[preload.ActivationVar]).To(Equal(shim))

		env, err = preload.Compose("~/missing.so", nil, "")
		Expect(errors.Is(err, errkind.ErrPathNotFound)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring(filepath.Join(home, "missing.so")))
		Expect(env).To(BeNil())
	})

	It("resolves relative paths against the working directory", func() {
		wd, err := os.Getwd()
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.Chdir, wd)
		Expect(os.Chdir(home)).To(Succeed())

		e, err := preload.New("shim.so", nil, "trace/ld")
		Expect(err).NotTo(HaveOccurred())
		Expect(e.ShimPath()).To(Equal(shim))
		Expect(e.TraceOutput()).To(Equal(filepath.Join(home, "trace/ld")))
	})

	It("joins diagnostic categories as linker tokens", func() {
		e, err := preload.New(shim, []preload.Category{preload.SymbolLookup, preload.Binding, preload.SymbolLookup}, "/var/log/ld")
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Variables()).To(Equal(map[string]string{
			preload.ActivationVar:        shim,
			preload.DiagnosticsVar:       "libs,bindings",
			preload.DiagnosticsOutputVar: "/var/log/ld",
		}))
		Expect(e.Names()).To(Equal([]string{"LD_DEBUG", "LD_DEBUG_OUTPUT", "LD_PRELOAD"}))
	})

	It("does not modify the base map", func() {
		e, err := preload.New(shim, nil, "")
		Expect(err).NotTo(HaveOccurred())
		base := map[string]string{"PATH": "/bin", preload.ActivationVar: "/old.so"}
		out := e.Apply(base)
		Expect(base[preload.ActivationVar]).To(Equal("/old.so"))
		Expect(out[preload.ActivationVar]).To(Equal(shim))
		Expect(out["PATH"]).To(Equal("/bin"))
	})

	It("parses category names in any style", func() {
		cats, err := preload.ParseCategories([]string{"SymbolLookup,unused_entries", "reloc"})
		Expect(err).NotTo(HaveOccurred())
		Expect(cats).To(Equal([]preload.Category{preload.SymbolLookup, preload.UnusedEntries, preload.Relocation}))

		_, err = preload.ParseCategory("everything")
		Expect(errors.Is(err, errkind.ErrMissingRequiredInput)).To(BeTrue())
	})

	It("converts between environ lists and maps", func() {
		m := preload.ToMap([]string{"A=1", "B=x=y", "broken", "=nokey"})
		Expect(m).To(Equal(map[string]string{"A": "1", "B": "x=y"}))
		Expect(preload.ToList(m)).To(Equal([]string{"A=1", "B=x=y"}))
	})
})
