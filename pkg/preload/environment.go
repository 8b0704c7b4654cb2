// Package preload composes process environments that activate an
// interception shim through the dynamic linker.
package preload

import (
	"os"
	"sort"
	"strings"

	"github.com/huandu/xstrings"

	"github.com/fsbench/fsbench/pkg/common/errkind"
	"github.com/fsbench/fsbench/pkg/common/pathutil"
)

const (
	ActivationVar        = "LD_PRELOAD"
	DiagnosticsVar       = "LD_DEBUG"
	DiagnosticsOutputVar = "LD_DEBUG_OUTPUT"
)

// Environment is a validated shim activation. It never changes after New.
type Environment struct {
	shimPath    string
	categories  []Category
	traceOutput string
}

// New resolves shimPath (leading ~, relative to the working directory) and
// fails with errkind.ErrPathNotFound when it does not exist.
func New(shimPath string, categories []Category, traceOutput string) (*Environment, error) {
	if shimPath == "" {
		return nil, errkind.MissingInput("shim path is required")
	}
	resolved, err := pathutil.ResolveExisting(shimPath)
	if err != nil {
		return nil, err
	}

	seen := map[Category]struct{}{}
	var cats []Category
	for _, c := range categories {
		if c == "" {
			continue
		}
		if _, ok := linkerTokens[c]; !ok {
			return nil, errkind.MissingInput("unknown diagnostics category %q", string(c))
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cats = append(cats, c)
	}

	env := &Environment{shimPath: resolved, categories: cats}
	if traceOutput != "" {
		env.traceOutput, err = pathutil.Resolve(traceOutput)
		if err != nil {
			return nil, err
		}
	}
	return env, nil
}

func (e *Environment) ShimPath() string {
	return e.shimPath
}

func (e *Environment) Categories() []Category {
	return append([]Category{}, e.categories...)
}

func (e *Environment) TraceOutput() string {
	return e.traceOutput
}

// Variables returns only the interception-related variables.
func (e *Environment) Variables() map[string]string {
	vars := map[string]string{ActivationVar: e.shimPath}
	if len(e.categories) > 0 {
		tokens := make([]string, 0, len(e.categories))
		for _, c := range e.categories {
			tokens = append(tokens, c.Token())
		}
		vars[DiagnosticsVar] = strings.Join(tokens, ",")
	}
	if e.traceOutput != "" {
		vars[DiagnosticsOutputVar] = e.traceOutput
	}
	return vars
}

// Names lists the variable names Variables sets, sorted.
func (e *Environment) Names() []string {
	vars := e.Variables()
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Apply returns a copy of base with the interception variables layered on
// top. base is not modified.
func (e *Environment) Apply(base map[string]string) map[string]string {
	out := make(map[string]string, len(base)+3)
	for k, v := range base {
		out[k] = v
	}
	for k, v := range e.Variables() {
		out[k] = v
	}
	return out
}

// Compose activates the shim on top of a copy of the process environment.
func Compose(shimPath string, categories []Category, traceOutput string) (map[string]string, error) {
	env, err := New(shimPath, categories, traceOutput)
	if err != nil {
		return nil, err
	}
	return env.Apply(Inherited()), nil
}

// Inherited snapshots the process environment into a fresh map.
func Inherited() map[string]string {
	return ToMap(os.Environ())
}

func ToMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, sep, v := xstrings.Partition(kv, "=")
		if sep == "" || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// ToList renders env as sorted KEY=VALUE pairs.
func ToList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Merge layers each overlay onto a copy of base, later overlays winning.
func Merge(base map[string]string, overlays ...map[string]string) map[string]string {
	out := make(map[string]string, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, o := range overlays {
		for k, v := range o {
			out[k] = v
		}
	}
	return out
}
