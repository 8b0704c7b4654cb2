package coordinator

import (
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// compressLog replaces path with path.zst. A missing path is not an error
// and yields an empty result.
func compressLog(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "failed to open %s", path)
	}
	defer in.Close()

	target := path + ".zst"
	out, err := os.Create(target)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create %s", target)
	}
	defer out.Close()

	enc, err := zstd.NewWriter(out)
	if err != nil {
		return "", errors.Wrap(err, "failed to create zstd writer")
	}
	if _, err := io.Copy(enc, in); err != nil {
		enc.Close()
		return "", errors.Wrapf(err, "failed to compress %s", path)
	}
	if err := enc.Close(); err != nil {
		return "", errors.Wrap(err, "failed to flush zstd writer")
	}
	if err := os.Remove(path); err != nil {
		return "", errors.Wrapf(err, "failed to remove %s", path)
	}
	return target, nil
}
