package history_test

import (
	"context"
	"path/filepath"
	"time"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/ginkgo/v2"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/gomega"

	"github.com/fsbench/fsbench/pkg/history"
)

var _ = Describe("DB", func() {
	var (
		ctx context.Context
		db  *history.DB
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		db, err = history.Open(filepath.Join(GinkgoT().TempDir(), "nested", history.FileName))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(db.Close)
	})

	record := func(id, workload string, started time.Time) history.Record {
		return history.Record{
			RunID:       id,
			Pass:        1,
			StartedAt:   started,
			FinishedAt:  started.Add(3 * time.Minute),
			BuildDir:    "/src/build/gcc/release",
			Workload:    workload,
			Script:      "fileserver.f",
			LogPath:     "/logs/bench#" + workload + "#results#20260101-000000.log",
			Revision:    "4f2a9c1",
			Fingerprint: "a1b2c3",
			NativeExit:  0,
			OverlayExit: 1,
			ShimExit:    history.NotRun,
			ShimSkipped: true,
		}
	}

	It("round-trips a saved run", func() {
		started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		Expect(db.SaveRun(ctx, record("run1", "fileserver", started))).To(Succeed())

		runs, err := db.ListRuns(ctx, "", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(1))
		want := record("run1", "fileserver", started)
		got := runs[0]
		Expect(got.StartedAt).To(BeTemporally("==", want.StartedAt))
		Expect(got.FinishedAt).To(BeTemporally("==", want.FinishedAt))
		got.StartedAt, got.FinishedAt = want.StartedAt, want.FinishedAt
		Expect(got).To(Equal(want))
	})

	It("lists newest first and filters by workload", func() {
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		Expect(db.SaveRun(ctx, record("old", "fileserver", base))).To(Succeed())
		Expect(db.SaveRun(ctx, record("new", "fileserver", base.Add(time.Hour)))).To(Succeed())
		Expect(db.SaveRun(ctx, record("other", "varmail", base.Add(2*time.Hour)))).To(Succeed())

		runs, err := db.ListRuns(ctx, "fileserver", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(2))
		Expect(runs[0].RunID).To(Equal("new"))
		Expect(runs[1].RunID).To(Equal("old"))

		runs, err = db.ListRuns(ctx, "", 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].RunID).To(Equal("other"))
	})

	It("replaces a run saved twice", func() {
		started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		r := record("run1", "fileserver", started)
		Expect(db.SaveRun(ctx, r)).To(Succeed())
		r.ShimExit = 0
		r.ShimSkipped = false
		Expect(db.SaveRun(ctx, r)).To(Succeed())

		runs, err := db.ListRuns(ctx, "fileserver", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(runs).To(HaveLen(1))
		Expect(runs[0].ShimSkipped).To(BeFalse())
	})
})
