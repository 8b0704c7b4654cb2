package passthroughfs_test

import (
	"github.com/pkg/errors"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/ginkgo/v2"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/gomega"

	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/passthroughfs"
)

var _ = Describe("ParseOptions", func() {
	It("maps the harness options onto the server", func() {
		opts, err := passthroughfs.ParseOptions([]string{"allow_root", "auto_unmount", "source=/srv/data,debug"})
		Expect(err).NotTo(HaveOccurred())
		Expect(opts).To(Equal(passthroughfs.Options{
			Source:     "/srv/data",
			AllowOther: true,
			Debug:      true,
			Extra:      []string{"auto_unmount"},
		}))
	})

	It("accepts no options", func() {
		opts, err := passthroughfs.ParseOptions(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(opts).To(Equal(passthroughfs.Options{}))
	})

	It("requires a value for source", func() {
		_, err := passthroughfs.ParseOptions([]string{"source"})
		Expect(errors.Is(err, errkind.ErrMissingRequiredInput)).To(BeTrue())
	})

	It("is not in foreground mode unless marked", func() {
		GinkgoT().Setenv(passthroughfs.ForegroundEnv, "")
		Expect(passthroughfs.IsForeground()).To(BeFalse())
		GinkgoT().Setenv(passthroughfs.ForegroundEnv, "1")
		Expect(passthroughfs.IsForeground()).To(BeTrue())
	})
})
