// Package view is the boundary to the rendering layer. The runtime only
// needs a way to mount a root onto the running store; rendering itself is
// the mounter's business.
package view

import (
	"fmt"
	"io"
	"sync"

	"github.com/roach88/storeweave/internal/ir"
)

// Context is the dispatch-providing handle a mounted root receives.
type Context interface {
	Dispatch(action ir.Action) ir.Action
	GetState() ir.State
	Subscribe(listener func()) (unsubscribe func())

	// Actions returns the bound action creators, namespace -> name.
	Actions() map[string]map[string]ir.ActionCreator
}

// Mounter mounts a root onto the running store.
type Mounter interface {
	Mount(ctx Context) error
}

// MounterFunc adapts a function to Mounter.
type MounterFunc func(ctx Context) error

// Mount calls f(ctx).
func (f MounterFunc) Mount(ctx Context) error {
	return f(ctx)
}

// StatePrinter is a Mounter that writes the canonical JSON of the state to
// W once when mounted and again after every dispatch that changes it.
// Mounting the same printer again replaces its previous subscription.
type StatePrinter struct {
	W io.Writer

	mu          sync.Mutex
	last        string
	unsubscribe func()
}

// Mount implements Mounter.
func (p *StatePrinter) Mount(ctx Context) error {
	p.mu.Lock()
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.last = ""
	p.mu.Unlock()

	if err := p.print(ctx.GetState()); err != nil {
		return err
	}
	unsubscribe := ctx.Subscribe(func() {
		// Write errors surface on the next Mount; a listener cannot
		// return them.
		_ = p.print(ctx.GetState())
	})

	p.mu.Lock()
	p.unsubscribe = unsubscribe
	p.mu.Unlock()
	return nil
}

// Unmount stops printing.
func (p *StatePrinter) Unmount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
}

func (p *StatePrinter) print(state ir.State) error {
	data, err := ir.MarshalCanonical(state)
	if err != nil {
		return fmt.Errorf("render state: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if string(data) == p.last {
		return nil
	}
	p.last = string(data)
	_, err = fmt.Fprintln(p.W, p.last)
	return err
}
