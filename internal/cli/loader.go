package cli

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/storeweave/internal/compiler"
	"github.com/roach88/storeweave/internal/demo"
	"github.com/roach88/storeweave/internal/ir"
)

// ModelSource selects the models a command works with: demo models by
// namespace and/or a directory of CUE manifests bound to the demo
// handlers.
type ModelSource struct {
	Demo      []string
	Manifests string
}

// empty reports whether nothing was selected.
func (s ModelSource) empty() bool {
	return len(s.Demo) == 0 && s.Manifests == ""
}

// Load compiles the selected models. With nothing selected, every demo
// model is loaded. Manifest errors are collected with mode.
func (s ModelSource) Load(cfg demo.Config, mode compiler.LoadMode) ([]ir.Model, []error) {
	if s.empty() {
		models, err := demo.Models(cfg)
		if err != nil {
			return nil, []error{err}
		}
		return models, nil
	}

	var out []ir.Model
	if len(s.Demo) > 0 {
		models, err := demo.Select(cfg, s.Demo...)
		if err != nil {
			return nil, []error{err}
		}
		out = append(out, models...)
	}

	if s.Manifests != "" {
		result, errs := compiler.LoadManifests(s.Manifests, demo.Bindings(cfg), mode)
		if result == nil {
			return nil, errs
		}
		out = append(out, result.Models...)
		if len(errs) > 0 {
			return out, errs
		}
	}

	if dup := duplicateNamespace(out); dup != "" {
		return nil, []error{&ir.DuplicateNamespaceError{Namespace: dup}}
	}
	return out, nil
}

// loadModels is Load in fail-fast mode with the errors joined.
func loadModels(src ModelSource, cfg demo.Config) ([]ir.Model, error) {
	models, errs := src.Load(cfg, compiler.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return models, nil
}

func duplicateNamespace(models []ir.Model) string {
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		ns, err := ir.Canonicalize(m.Namespace)
		if err != nil {
			ns = m.Namespace
		}
		if seen[ns] {
			return ns
		}
		seen[ns] = true
	}
	return ""
}

// compileRecords compiles models into records with the build's default
// validation.
func compileRecords(models []ir.Model) ([]*ir.ModelRecord, error) {
	records := make([]*ir.ModelRecord, 0, len(models))
	for _, m := range models {
		rec, err := compiler.CompileModel(m, compiler.DefaultOptions())
		if err != nil {
			return nil, fmt.Errorf("compile model %q: %w", m.Namespace, err)
		}
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b *ir.ModelRecord) int {
		return strings.Compare(a.Namespace, b.Namespace)
	})
	return records, nil
}
