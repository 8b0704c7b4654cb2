package mounter_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/moby/sys/mountinfo"
	"github.com/pkg/errors"
	utilexec "k8s.io/utils/exec"
	testingexec "k8s.io/utils/exec/testing"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/ginkgo/v2"

	//nolint:golint
	//nolint:revive
	. "github.com/onsi/gomega"

	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/mounter"
)

type fakeTable struct {
	mounts []*mountinfo.Info
	calls  int
}

func (t *fakeTable) Mounts() ([]*mountinfo.Info, error) {
	t.calls++
	return t.mounts, nil
}

func (t *fakeTable) add(mp string) {
	t.mounts = append(t.mounts, &mountinfo.Info{Source: "passthroughfs", Mountpoint: mp, FSType: "fuse.passthroughfs", Options: "rw,nosuid,nodev"})
}

func (t *fakeTable) remove(mp string) {
	var kept []*mountinfo.Info
	for _, m := range t.mounts {
		if m.Mountpoint != mp {
			kept = append(kept, m)
		}
	}
	t.mounts = kept
}

func combined(out string, err error, effect func()) testingexec.FakeCommandAction {
	return func(cmd string, args ...string) utilexec.Cmd {
		fake := &testingexec.FakeCmd{
			CombinedOutputScript: []testingexec.FakeAction{
				func() ([]byte, []byte, error) {
					if effect != nil {
						effect()
					}
					return []byte(out), nil, err
				},
			},
		}
		return testingexec.InitFakeCmd(fake, cmd, args...)
	}
}

var _ = Describe("Session", func() {
	var (
		ctx        context.Context
		table      *fakeTable
		fexec      *testingexec.FakeExec
		mountPoint string
		fsLog      string
		benchLog   *bytes.Buffer
		session    *mounter.Session
	)

	BeforeEach(func() {
		ctx = context.Background()
		table = &fakeTable{}
		table.add("/proc")
		fexec = &testingexec.FakeExec{}
		dir := GinkgoT().TempDir()
		mountPoint = filepath.Join(dir, "mnt")
		fsLog = filepath.Join(dir, "overlay.log")
		benchLog = &bytes.Buffer{}

		var err error
		session, err = mounter.NewSession(mounter.Config{
			Binary:     "/opt/build/passthroughfs",
			MountPoint: mountPoint,
			Options:    []string{"allow_root", "source=/data"},
			FSLogPath:  fsLog,
			LogLevel:   3,
		}, fexec, table)
		Expect(err).NotTo(HaveOccurred())
		session.SetLog(benchLog)
	})

	It("builds the overlay argument vector", func() {
		Expect(session.Args()).To(Equal([]string{
			mountPoint, "-o", "allow_root", "-o", "source=/data",
			"--logfile=" + fsLog, "--loglevel=3",
		}))
	})

	It("derives mount state from the table on every query", func() {
		Expect(session.IsMounted()).To(BeFalse())
		table.add(mountPoint)
		Expect(session.IsMounted()).To(BeTrue())
		table.remove(mountPoint)
		Expect(session.IsMounted()).To(BeFalse())
		Expect(table.calls).To(Equal(3))
	})

	It("refuses to mount an already mounted target without launching anything", func() {
		table.add(mountPoint)
		_, err := session.Mount(ctx)
		Expect(errors.Is(err, errkind.ErrPreconditionViolation)).To(BeTrue())
		Expect(fexec.CommandCalls).To(Equal(0))
	})

	It("refuses to unmount an unmounted target without launching anything", func() {
		_, err := session.Umount(ctx)
		Expect(errors.Is(err, errkind.ErrPreconditionViolation)).To(BeTrue())
		Expect(fexec.CommandCalls).To(Equal(0))
	})

	It("mounts and unmounts through the external commands", func() {
		var argv [][]string
		record := func(action testingexec.FakeCommandAction) testingexec.FakeCommandAction {
			return func(cmd string, args ...string) utilexec.Cmd {
				argv = append(argv, append([]string{cmd}, args...))
				return action(cmd, args...)
			}
		}
		fexec.CommandScript = []testingexec.FakeCommandAction{
			record(combined("", nil, func() { table.add(mountPoint) })),
			record(combined("", nil, func() { table.remove(mountPoint) })),
		}

		code, err := session.Mount(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(0))
		Expect(session.IsMounted()).To(BeTrue())

		code, err = session.Umount(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(0))
		Expect(session.IsMounted()).To(BeFalse())

		Expect(argv[0][0]).To(Equal("/opt/build/passthroughfs"))
		Expect(argv[1]).To(Equal([]string{"fusermount", "-u", mountPoint}))
		Expect(benchLog.String()).To(ContainSubstring("*** MOUNT ***"))
		Expect(benchLog.String()).To(ContainSubstring("*** COMMAND: /opt/build/passthroughfs " + mountPoint))
	})

	It("reports a failing mount through its status and the logs", func() {
		fexec.CommandScript = []testingexec.FakeCommandAction{
			combined("fuse: device not found\n", testingexec.FakeExitError{Status: 1}, nil),
		}

		code, err := session.Mount(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(code).To(Equal(1))
		Expect(benchLog.String()).To(ContainSubstring("*** MOUNT FAILED (1) ***"))

		content, err := os.ReadFile(fsLog)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(ContainSubstring("fuse: device not found"))
		Expect(string(content)).To(ContainSubstring("*** MOUNT FAILED (1) ***"))
	})

	It("writes markers to a replaced log sink only", func() {
		replacement := &bytes.Buffer{}
		session.SetLog(replacement)
		fexec.CommandScript = []testingexec.FakeCommandAction{
			combined("", testingexec.FakeExitError{Status: 2}, nil),
		}
		_, _ = session.Mount(ctx)
		Expect(benchLog.Len()).To(Equal(0))
		Expect(replacement.String()).To(ContainSubstring("MOUNT FAILED (2)"))
	})

	Describe("EnsureUnmounted", func() {
		It("returns immediately when nothing is mounted", func() {
			Expect(session.EnsureUnmounted(ctx, 3, 0)).To(Succeed())
			Expect(fexec.CommandCalls).To(Equal(0))
		})

		It("retries until the mount disappears", func() {
			table.add(mountPoint)
			fexec.CommandScript = []testingexec.FakeCommandAction{
				combined("busy", testingexec.FakeExitError{Status: 1}, nil),
				combined("", nil, func() { table.remove(mountPoint) }),
			}
			Expect(session.EnsureUnmounted(ctx, 3, 0)).To(Succeed())
			Expect(fexec.CommandCalls).To(Equal(2))
		})

		It("gives up with a cleanup failure after the bounded attempts", func() {
			table.add(mountPoint)
			busy := combined("busy", testingexec.FakeExitError{Status: 1}, nil)
			fexec.CommandScript = []testingexec.FakeCommandAction{busy, busy}
			err := session.EnsureUnmounted(ctx, 2, 0)
			Expect(errors.Is(err, errkind.ErrCleanupFailed)).To(BeTrue())
			Expect(fexec.CommandCalls).To(Equal(2))
		})
	})

	It("snapshots the table in mount(8) format", func() {
		table.add(mountPoint)
		snapshot, err := mounter.Snapshot(table)
		Expect(err).NotTo(HaveOccurred())
		Expect(snapshot).To(ContainSubstring("passthroughfs on " + mountPoint + " type fuse.passthroughfs (rw,nosuid,nodev)\n"))
	})
})
