package passthroughfs

import (
	"strings"

	"github.com/huandu/xstrings"

	"github.com/fsbench/fsbench/pkg/common/errkind"
)

type Options struct {
	// Source is the directory mirrored at the mount point. Empty means a
	// fresh scratch directory.
	Source     string
	AllowOther bool
	Debug      bool
	// Extra are passed through to fusermount.
	Extra []string
}

// ParseOptions reads `-o` values. Each value may hold several
// comma-separated options.
func ParseOptions(values []string) (Options, error) {
	var opts Options
	for _, v := range values {
		for _, item := range strings.Split(v, ",") {
			item = strings.TrimSpace(item)
			if item == "" {
				continue
			}
			key, sep, value := xstrings.Partition(item, "=")
			switch key {
			case "source":
				if sep == "" || value == "" {
					return Options{}, errkind.MissingInput("option source needs a directory")
				}
				opts.Source = value
			case "allow_root", "allow_other":
				opts.AllowOther = true
			case "debug":
				opts.Debug = true
			default:
				opts.Extra = append(opts.Extra, item)
			}
		}
	}
	return opts, nil
}
