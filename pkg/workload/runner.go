// Package workload runs the external load generator against one script.
package workload

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apparentlymart/go-shquot/shquot"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	utilexec "k8s.io/utils/exec"

	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/common/marker"
	"github.com/fsbench/fsbench/pkg/logger"
	"github.com/fsbench/fsbench/pkg/preload"
)

const (
	DefaultGenerator = "filebench"
	DefaultEscalator = "sudo"
)

// Strategy selects how the environment survives privilege escalation.
type Strategy string

const (
	// StrategyEnv hands the variables to the escalated process through env(1).
	StrategyEnv Strategy = "env"
	// StrategyScript writes a shell script exporting the variables and
	// escalates the script.
	StrategyScript Strategy = "script"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case "", StrategyEnv:
		return StrategyEnv, nil
	case StrategyScript:
		return StrategyScript, nil
	}
	return "", errkind.MissingInput("unknown escalation strategy %q", s)
}

type Options struct {
	Generator string
	Escalator string
	Strategy  Strategy
	// Geteuid reports the effective user id; unix.Geteuid when nil.
	Geteuid func() int
}

type Runner struct {
	opts Options
	exec utilexec.Interface
}

func NewRunner(opts Options, executor utilexec.Interface) *Runner {
	if opts.Generator == "" {
		opts.Generator = DefaultGenerator
	}
	if opts.Escalator == "" {
		opts.Escalator = DefaultEscalator
	}
	if opts.Strategy == "" {
		opts.Strategy = StrategyEnv
	}
	if opts.Geteuid == nil {
		opts.Geteuid = unix.Geteuid
	}
	if executor == nil {
		executor = utilexec.New()
	}
	return &Runner{opts: opts, exec: executor}
}

type Invocation struct {
	Script string
	// Env is the complete environment of the generator.
	Env map[string]string
	// Forward names the variables that must survive escalation.
	Forward []string
	// Dir is the working directory; empty inherits ours.
	Dir            string
	Log            io.Writer
	NeedsPrivilege bool
}

// Run blocks until the generator exits and returns its exit status. A
// non-zero status comes with a *errkind.ProcessError; -1 means it never ran.
func (r *Runner) Run(ctx context.Context, inv Invocation) (int, error) {
	if inv.Script == "" {
		return -1, errkind.MissingInput("workload script is required")
	}
	escalate := inv.NeedsPrivilege && r.opts.Geteuid() != 0

	name, args, cleanup, err := r.commandLine(inv, escalate)
	if err != nil {
		return -1, err
	}
	defer cleanup()

	cmdline := append([]string{name}, args...)
	log := logger.L().With(slog.String("script", filepath.Base(inv.Script)), slog.Bool("escalated", escalate))

	w := inv.Log
	if w == nil {
		w = io.Discard
	}
	marker.Write(w, "COMMAND is %s", strings.Join(cmdline, " "))

	cmd := r.exec.CommandContext(ctx, name, args...)
	cmd.SetEnv(preload.ToList(inv.Env))
	if inv.Dir != "" {
		cmd.SetDir(inv.Dir)
	}
	cmd.SetStdout(w)
	cmd.SetStderr(w)

	log.Info("Running workload", slog.String("command", strings.Join(cmdline, " ")))
	code, procErr := errkind.FromExec(cmdline, cmd.Run())
	marker.Write(w, "COMMAND COMPLETION STATUS %d", code)
	if procErr != nil {
		log.Error("Workload failed", slog.Int("exitCode", code), slog.String("error", procErr.Error()))
		return code, procErr
	}
	log.Info("Workload finished")
	return 0, nil
}

func (r *Runner) commandLine(inv Invocation, escalate bool) (string, []string, func(), error) {
	noop := func() {}
	direct := []string{r.opts.Generator, "-f", inv.Script}
	if !escalate {
		return direct[0], direct[1:], noop, nil
	}

	forwarded := forwardedPairs(inv.Env, inv.Forward)
	switch r.opts.Strategy {
	case StrategyScript:
		path, err := writeEscalationScript(filepath.Dir(inv.Script), forwarded, direct)
		if err != nil {
			return "", nil, noop, err
		}
		cleanup := func() {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.L().Warn("Failed to remove escalation script", slog.String("path", path), slog.String("error", err.Error()))
			}
		}
		return r.opts.Escalator, []string{"/bin/sh", path}, cleanup, nil
	default:
		args := append([]string{"env"}, forwarded...)
		args = append(args, direct...)
		return r.opts.Escalator, args, noop, nil
	}
}

// forwardedPairs renders the named variables present in env as sorted
// KEY=VALUE pairs.
func forwardedPairs(env map[string]string, names []string) []string {
	var pairs []string
	for _, name := range names {
		if v, ok := env[name]; ok {
			pairs = append(pairs, name+"="+v)
		}
	}
	sort.Strings(pairs)
	return pairs
}

func writeEscalationScript(dir string, pairs, cmdline []string) (string, error) {
	var sb strings.Builder
	sb.WriteString("#!/bin/sh\n")
	for _, kv := range pairs {
		k, v, _ := strings.Cut(kv, "=")
		sb.WriteString("export " + k + "=" + shquot.POSIXShell([]string{v}) + "\n")
	}
	sb.WriteString("exec " + shquot.POSIXShell(cmdline) + "\n")

	f, err := os.CreateTemp(dir, "escalate-*.sh")
	if err != nil {
		return "", errors.Wrap(err, "failed to create escalation script")
	}
	defer f.Close()
	if _, err := f.WriteString(sb.String()); err != nil {
		return "", errors.Wrapf(err, "failed to write escalation script %s", f.Name())
	}
	if err := f.Chmod(0755); err != nil {
		return "", errors.Wrapf(err, "failed to chmod escalation script %s", f.Name())
	}
	return f.Name(), nil
}
