package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/containerd/log"
	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/fsbench/fsbench/pkg/passthroughfs"
)

type mountOptions struct {
	Options    []string `short:"o" description:"Mount option; source=<dir>, allow_root, allow_other, debug, or any fusermount option" required:"false"`
	LogFile    string   `long:"logfile" description:"Append logs to this file" required:"false"`
	LogLevel   int      `long:"loglevel" description:"Log level from 0 (panic) to 6 (trace)" default:"4"`
	Foreground bool     `short:"f" long:"foreground" description:"Serve in the foreground instead of daemonizing"`
	Args       struct {
		MountPoint string `positional-arg-name:"mountpoint"`
	} `positional-args:"yes" required:"yes"`
}

func setupLogging(opts mountOptions) error {
	level := opts.LogLevel
	if level < int(logrus.PanicLevel) {
		level = int(logrus.PanicLevel)
	}
	if level > int(logrus.TraceLevel) {
		level = int(logrus.TraceLevel)
	}
	logrus.SetLevel(logrus.Level(level))
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.LogFile == "" {
		return nil
	}
	f, err := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	logrus.SetOutput(f)
	return nil
}

func main() {
	var opts mountOptions
	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(1)
	}

	if err := setupLogging(opts); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file: %v\n", err)
		os.Exit(1)
	}

	fsOpts, err := passthroughfs.ParseOptions(opts.Options)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if !opts.Foreground && !passthroughfs.IsForeground() {
		if err := passthroughfs.Daemonize(os.Args[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	log.G(ctx).WithField("mountPoint", opts.Args.MountPoint).WithField("options", opts.Options).Info("starting")
	err = passthroughfs.Serve(ctx, opts.Args.MountPoint, fsOpts, passthroughfs.NotifyReady)
	if err != nil {
		log.G(ctx).WithError(err).Error("failed to serve")
		passthroughfs.NotifyFailure(err)
		os.Exit(1)
	}
}
