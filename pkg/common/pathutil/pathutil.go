package pathutil

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/fsbench/fsbench/pkg/common/errkind"
)

// Resolve expands a leading ~ against the caller's home directory and makes
// the result absolute against the current working directory.
func Resolve(p string) (string, error) {
	expanded, err := homedir.Expand(p)
	if err != nil {
		return "", errors.Wrapf(err, "failed to expand %s", p)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", errors.Wrapf(err, "failed to make %s absolute", expanded)
	}
	return abs, nil
}

// ResolveExisting is Resolve followed by an existence check that fails with
// errkind.ErrPathNotFound.
func ResolveExisting(p string) (string, error) {
	resolved, err := Resolve(p)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(resolved); err != nil {
		if os.IsNotExist(err) {
			return "", errkind.PathNotFound(resolved)
		}
		return "", errors.Wrapf(err, "failed to stat %s", resolved)
	}
	return resolved, nil
}

func ResolveDir(p string) (string, error) {
	resolved, err := ResolveExisting(p)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat %s", resolved)
	}
	if !info.IsDir() {
		return "", errors.Wrapf(errkind.ErrPathNotFound, "%s is not a directory", resolved)
	}
	return resolved, nil
}
