package app

import (
	"errors"

	"github.com/roach88/storeweave/internal/ir"
)

// ErrClosed is returned by lifecycle operations after Close.
var ErrClosed = errors.New("app: closed")

// RegistryState is the internal model's slice.
type RegistryState struct {
	// Version counts registry changes observed through
	// @@storeweave/UPDATE.
	Version int `json:"version"`
}

// internalModel is registered by every app under ir.InternalNamespace.
func internalModel() ir.Model {
	return ir.Model{
		Namespace: ir.InternalNamespace,
		State:     RegistryState{},
		Reducers: map[string]any{
			"UPDATE": ir.ReducerFunc(func(state any, _ ir.Action) any {
				s, _ := state.(RegistryState)
				s.Version++
				return s
			}),
		},
	}
}

// RegistryVersion returns how many registry-changed actions the store has
// reduced.
func (a *App) RegistryVersion() int {
	s, _ := a.GetState()[ir.InternalNamespace].(RegistryState)
	return s.Version
}
