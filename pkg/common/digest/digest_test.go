package digest_test

import (
	"os"
	"path/filepath"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/ginkgo/v2"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/gomega"

	"github.com/fsbench/fsbench/pkg/common/digest"
)

var _ = Describe("Files", func() {
	var dir string

	write := func(name, content string) {
		Expect(os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)).To(Succeed())
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		write("fileserver.f", "set $dir=/tmp\nrun 60\n")
		write("common.f", "define fileset name=bigfileset\n")
	})

	It("ignores the order names are given in", func() {
		a, err := digest.Files(dir, []string{"fileserver.f", "common.f"})
		Expect(err).NotTo(HaveOccurred())
		b, err := digest.Files(dir, []string{"common.f", "fileserver.f"})
		Expect(err).NotTo(HaveOccurred())
		Expect(a).To(Equal(b))
		Expect(a).To(HaveLen(64))
	})

	It("follows content but not permission bits", func() {
		before, err := digest.Files(dir, []string{"fileserver.f"})
		Expect(err).NotTo(HaveOccurred())

		Expect(os.Chmod(filepath.Join(dir, "fileserver.f"), 0755)).To(Succeed())
		Expect(digest.Files(dir, []string{"fileserver.f"})).To(Equal(before))

		write("fileserver.f", "set $dir=/tmp\nrun 30\n")
		Expect(digest.Files(dir, []string{"fileserver.f"})).NotTo(Equal(before))
	})

	It("does not confuse bytes moved between scripts", func() {
		write("a.f", "ab")
		write("b.f", "c")
		before, err := digest.Files(dir, []string{"a.f", "b.f"})
		Expect(err).NotTo(HaveOccurred())

		write("a.f", "a")
		write("b.f", "bc")
		Expect(digest.Files(dir, []string{"a.f", "b.f"})).NotTo(Equal(before))
	})

	It("fails on a missing script", func() {
		_, err := digest.Files(dir, []string{"missing.f"})
		Expect(err).To(MatchError(ContainSubstring("failed to open script")))
	})
})
