package mounter

import (
	"fmt"
	"strings"

	"github.com/moby/sys/mountinfo"
	"github.com/pkg/errors"
)

// Table is the live mount table. Implementations must query the OS on every
// call.
type Table interface {
	Mounts() ([]*mountinfo.Info, error)
}

type SystemTable struct{}

func (SystemTable) Mounts() ([]*mountinfo.Info, error) {
	mounts, err := mountinfo.GetMounts(nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get mounts")
	}
	return mounts, nil
}

// Snapshot renders the table one mount per line, like mount(8) does.
func Snapshot(table Table) (string, error) {
	mounts, err := table.Mounts()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, m := range mounts {
		fmt.Fprintf(&sb, "%s on %s type %s (%s)\n", m.Source, m.Mountpoint, m.FSType, m.Options)
	}
	return sb.String(), nil
}

// Contains reports whether any mount point in the table contains mountPoint.
func Contains(table Table, mountPoint string) (bool, error) {
	mounts, err := table.Mounts()
	if err != nil {
		return false, err
	}
	for _, m := range mounts {
		if strings.Contains(m.Mountpoint, mountPoint) {
			return true, nil
		}
	}
	return false, nil
}
