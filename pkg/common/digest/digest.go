// Package digest fingerprints workload scripts for the correlated log.
package digest

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// Files hashes the contents of the named files of dir in name order. Each
// entry is framed by its name and length, so renaming a script or moving
// bytes between scripts changes the result while permission bits do not.
func Files(dir string, names []string) (string, error) {
	sorted := append([]string{}, names...)
	sort.Strings(sorted)

	hasher := blake3.New()
	var size [8]byte
	for _, name := range sorted {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			return "", errors.Wrapf(err, "failed to open script %s", path)
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return "", errors.Wrapf(err, "failed to read script %s", path)
		}

		_, _ = hasher.Write([]byte(name))
		binary.BigEndian.PutUint64(size[:], uint64(len(content)))
		_, _ = hasher.Write(size[:])
		_, _ = hasher.Write(content)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
