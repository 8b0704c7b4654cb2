// Package passthroughfs is a loopback FUSE filesystem that mirrors a source
// directory at a mount point.
package passthroughfs

import (
	"context"
	"os"
	"time"

	"github.com/containerd/log"
	fusefs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/pkg/errors"
)

const Name = "passthroughfs"

// Mount starts serving and returns once the kernel reports the mount live.
func Mount(ctx context.Context, mountPoint string, opts Options) (*fuse.Server, error) {
	source := opts.Source
	if source == "" {
		dir, err := os.MkdirTemp("", Name+"-")
		if err != nil {
			return nil, errors.Wrap(err, "failed to create source directory")
		}
		source = dir
	}
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create mount point %s", mountPoint)
	}

	root, err := fusefs.NewLoopbackRoot(source)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open source %s", source)
	}

	attrTimeout := time.Second
	entryTimeout := time.Second
	nodeFS := fusefs.NewNodeFS(root, &fusefs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
	})

	server, err := fuse.NewServer(nodeFS, mountPoint, &fuse.MountOptions{
		AllowOther:    opts.AllowOther,
		Options:       opts.Extra,
		Name:          Name,
		FsName:        source,
		Debug:         opts.Debug,
		MaxBackground: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create server")
	}

	go server.Serve()

	if err := server.WaitMount(); err != nil {
		return nil, errors.Wrap(err, "failed to wait mount")
	}
	log.G(ctx).WithField("source", source).WithField("mountPoint", mountPoint).Info("mounted")
	return server, nil
}

// Serve mounts, calls ready, and blocks until the filesystem is unmounted
// externally or ctx is cancelled.
func Serve(ctx context.Context, mountPoint string, opts Options, ready func()) error {
	server, err := Mount(ctx, mountPoint, opts)
	if err != nil {
		return err
	}
	if ready != nil {
		ready()
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := server.Unmount(); err != nil {
				log.G(ctx).WithError(err).Warn("failed to unmount")
			}
		case <-done:
		}
	}()
	server.Wait()
	close(done)
	log.G(ctx).WithField("mountPoint", mountPoint).Info("unmounted")
	return nil
}
