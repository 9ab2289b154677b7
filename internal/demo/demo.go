// Package demo ships the example models used by the CLI and the scenario
// harness: a counter with an async increment, a todo list loaded through
// an effect group, an undoable text editor and a cron-ticked clock.
//
// The models are declared as CUE manifests and bound to the Go handlers
// in bindings.go.
package demo

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"time"

	"github.com/roach88/storeweave/internal/compiler"
	"github.com/roach88/storeweave/internal/ir"
)

//go:embed manifests/*.cue
var manifests embed.FS

// Config tunes the demo handlers.
type Config struct {
	// Fetch loads todo titles. Default: DefaultFetch.
	Fetch FetchFunc

	// TickInterval is the clock model's subscription period. Default: 1s.
	TickInterval time.Duration

	// UndoLimit bounds the editor's history. Default: undo.DefaultLimit.
	UndoLimit int
}

func (c Config) withDefaults() Config {
	if c.Fetch == nil {
		c.Fetch = DefaultFetch
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// Names lists the demo namespaces in manifest order.
func Names() []string {
	return []string{"clock", "counter", "editor", "todos"}
}

// Models compiles every embedded manifest.
func Models(cfg Config) ([]ir.Model, error) {
	return Select(cfg)
}

// Select compiles the embedded manifests of the given namespaces, or all of
// them when none is given. Unknown names are an error.
func Select(cfg Config, names ...string) ([]ir.Model, error) {
	for _, name := range names {
		if !slices.Contains(Names(), name) {
			return nil, fmt.Errorf("unknown demo model %q (have %v)", name, Names())
		}
	}

	files, err := fs.Glob(manifests, "manifests/*.cue")
	if err != nil {
		return nil, err
	}
	slices.Sort(files)

	b := Bindings(cfg)
	var out []ir.Model
	for _, file := range files {
		src, err := manifests.ReadFile(file)
		if err != nil {
			return nil, err
		}
		models, errs := compiler.CompileSource(path.Base(file), src, b, compiler.LoadModeFailFast)
		if len(errs) > 0 {
			return nil, errs[0]
		}
		for _, m := range models {
			if len(names) == 0 || slices.Contains(names, m.Namespace) {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// Manifest returns the CUE source of one demo model.
func Manifest(name string) ([]byte, error) {
	return manifests.ReadFile("manifests/" + name + ".cue")
}
