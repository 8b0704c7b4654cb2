package exithook_test

import (
	//nolint:golint
	//nolint:revive
	. "github.com/onsi/ginkgo/v2"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/gomega"

	"github.com/fsbench/fsbench/pkg/common/exithook"
)

var _ = Describe("exithook", func() {
	AfterEach(func() {
		exithook.RunAll()
	})

	It("runs pending hooks newest first", func() {
		var order []string
		exithook.Register("first", func() { order = append(order, "first") })
		exithook.Register("second", func() { order = append(order, "second") })
		Expect(exithook.Pending()).To(Equal(2))

		exithook.RunAll()
		Expect(order).To(Equal([]string{"second", "first"}))
		Expect(exithook.Pending()).To(Equal(0))
	})

	It("runs a released hook only once", func() {
		calls := 0
		h := exithook.Register("unmount", func() { calls++ })
		Expect(h.Name()).To(Equal("unmount"))

		h.Release()
		h.Release()
		exithook.RunAll()
		Expect(calls).To(Equal(1))
		Expect(exithook.Pending()).To(Equal(0))
	})
})
