package errkind_test

import (
	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
	testingexec "k8s.io/utils/exec/testing"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/ginkgo/v2"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/gomega"

	"github.com/fsbench/fsbench/pkg/common/errkind"
)

var _ = Describe("errkind", func() {
	It("keeps both the precise kind and the broad class", func() {
		err := errkind.Precondition("%s is already mounted", "/mnt/bench")
		Expect(errors.Is(err, errkind.ErrPreconditionViolation)).To(BeTrue())
		Expect(errdefs.IsFailedPrecondition(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("/mnt/bench is already mounted"))

		Expect(errdefs.IsNotFound(errkind.PathNotFound("/x"))).To(BeTrue())
		Expect(errdefs.IsInvalidArgument(errkind.MissingInput("no build"))).To(BeTrue())
	})

	It("classifies exec results", func() {
		code, err := errkind.FromExec([]string{"filebench", "-f", "a.f"}, nil)
		Expect(code).To(Equal(0))
		Expect(err).NotTo(HaveOccurred())

		code, err = errkind.FromExec([]string{"filebench"}, testingexec.FakeExitError{Status: 7})
		Expect(code).To(Equal(7))
		Expect(errors.Is(err, errkind.ErrExternalProcessFailure)).To(BeTrue())

		var procErr *errkind.ProcessError
		Expect(errors.As(err, &procErr)).To(BeTrue())
		Expect(procErr.ExitCode).To(Equal(7))

		code, err = errkind.FromExec([]string{"missing"}, errors.New("executable file not found"))
		Expect(code).To(Equal(-1))
		Expect(err.Error()).To(ContainSubstring("executable file not found"))
	})
})
