package compiler

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/storeweave/internal/ir"
)

// Bindings maps the handler names used in CUE manifests to Go values.
//
// A value may be anything Classify accepts, an ir.Subscription, an
// ir.ReducerEnhancer or an ir.ReducerCreator, depending on where the
// manifest references it.
type Bindings map[string]any

// CompileManifest builds a raw model descriptor from a CUE manifest.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the model struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`model: counter: { state: 0, reducers: increment: "counter.increment" }`)
//	m, err := CompileManifest(v.LookupPath(cue.ParsePath("model.counter")), bindings)
//
// Recognized fields:
//
//	namespace:     string                (defaults to the struct label)
//	state:         any concrete value
//	reducers:      {name: ref}
//	effects:       {name: ref}
//	handlers:      {name: ref | {callback: ref}}
//	subscriptions: {name: "binding"}
//	enhancers:     ["binding", ...]
//	createReducer: "binding"
//
// where ref is either "binding" or {use: "binding", policy?: string,
// interval?: duration string}.
func CompileManifest(v cue.Value, b Bindings) (ir.Model, error) {
	var m ir.Model
	if err := v.Err(); err != nil {
		return m, formatCUEError(err)
	}

	// Namespace defaults to the struct label (the path selector)
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		m.Namespace = labels[len(labels)-1].String()
	}
	if nsVal := v.LookupPath(cue.ParsePath("namespace")); nsVal.Exists() {
		ns, err := nsVal.String()
		if err != nil {
			return m, formatCUEError(err)
		}
		m.Namespace = ns
	}
	if m.Namespace == "" {
		return m, &CompileError{Field: "namespace", Message: "namespace is required", Pos: v.Pos()}
	}

	if stateVal := v.LookupPath(cue.ParsePath("state")); stateVal.Exists() {
		var state any
		if err := stateVal.Decode(&state); err != nil {
			return m, formatCUEError(err)
		}
		m.State = state
	}

	var err error
	if m.Reducers, err = parseRefTable(v, "reducers", b); err != nil {
		return m, err
	}
	if m.Effects, err = parseRefTable(v, "effects", b); err != nil {
		return m, err
	}
	if m.Handlers, err = parseHandlers(v, b); err != nil {
		return m, err
	}
	if m.Subscriptions, err = parseSubscriptions(v, b); err != nil {
		return m, err
	}
	if m.Enhancers, err = parseEnhancers(v, b); err != nil {
		return m, err
	}

	if crVal := v.LookupPath(cue.ParsePath("createReducer")); crVal.Exists() {
		name, err := crVal.String()
		if err != nil {
			return m, formatCUEError(err)
		}
		creator, ok := b[name].(ir.ReducerCreator)
		if !ok {
			return m, unboundError("createReducer", name, "reducer creator", crVal.Pos())
		}
		m.CreateReducer = creator
	}

	return m, nil
}

// parseRefTable parses {name: ref} under field.
func parseRefTable(v cue.Value, field string, b Bindings) (map[string]any, error) {
	tableVal := v.LookupPath(cue.ParsePath(field))
	if !tableVal.Exists() {
		return nil, nil
	}

	iter, err := tableVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	out := make(map[string]any)
	for iter.Next() {
		h, err := resolveRef(iter.Value(), fmt.Sprintf("%s.%s", field, iter.Label()), b)
		if err != nil {
			return nil, err
		}
		out[iter.Label()] = h
	}
	return out, nil
}

// parseHandlers parses the free-form Handler Groups. A struct carrying a
// "use" field is a single ref; any other struct is a group of callbacks.
func parseHandlers(v cue.Value, b Bindings) (map[string]any, error) {
	handlersVal := v.LookupPath(cue.ParsePath("handlers"))
	if !handlersVal.Exists() {
		return nil, nil
	}

	iter, err := handlersVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	out := make(map[string]any)
	for iter.Next() {
		name := iter.Label()
		val := iter.Value()
		field := "handlers." + name

		if isRef(val) {
			h, err := resolveRef(val, field, b)
			if err != nil {
				return nil, err
			}
			out[name] = h
			continue
		}

		cbIter, err := val.Fields()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "handler must be a binding name, a {use: ...} ref or a group", Pos: val.Pos()}
		}
		group := make(ir.Group)
		for cbIter.Next() {
			h, err := resolveRef(cbIter.Value(), field+"."+cbIter.Label(), b)
			if err != nil {
				return nil, err
			}
			group[cbIter.Label()] = h
		}
		out[name] = group
	}
	return out, nil
}

func isRef(v cue.Value) bool {
	if v.IncompleteKind() == cue.StringKind {
		return true
	}
	return v.LookupPath(cue.ParsePath("use")).Exists()
}

// resolveRef turns a ref into a Go handler value. Policies are attached to
// effect bindings only.
func resolveRef(v cue.Value, field string, b Bindings) (any, error) {
	if name, err := v.String(); err == nil {
		bound, ok := b[name]
		if !ok {
			return nil, unboundError(field, name, "handler", v.Pos())
		}
		return bound, nil
	}

	useVal := v.LookupPath(cue.ParsePath("use"))
	if !useVal.Exists() {
		return nil, &CompileError{Field: field, Message: "handler ref must be a string or {use: ...}", Pos: v.Pos()}
	}
	name, err := useVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	bound, ok := b[name]
	if !ok {
		return nil, unboundError(field, name, "handler", useVal.Pos())
	}

	policyVal := v.LookupPath(cue.ParsePath("policy"))
	intervalVal := v.LookupPath(cue.ParsePath("interval"))
	if !policyVal.Exists() && !intervalVal.Exists() {
		return bound, nil
	}

	eff, ok := Classify(bound).(ir.EffectHandler)
	if !ok {
		return nil, &CompileError{Field: field + ".policy", Message: fmt.Sprintf("%q is not an effect, policy not allowed", name), Pos: v.Pos()}
	}

	if policyVal.Exists() {
		raw, err := policyVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		policy, err := ir.ParsePolicy(raw)
		if err != nil {
			return nil, &CompileError{Field: field + ".policy", Message: err.Error(), Pos: policyVal.Pos()}
		}
		eff.Policy = policy
	}

	if intervalVal.Exists() {
		raw, err := intervalVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, &CompileError{Field: field + ".interval", Message: err.Error(), Pos: intervalVal.Pos()}
		}
		eff.Interval = d
	}

	return eff, nil
}

func parseSubscriptions(v cue.Value, b Bindings) (map[string]ir.Subscription, error) {
	subsVal := v.LookupPath(cue.ParsePath("subscriptions"))
	if !subsVal.Exists() {
		return nil, nil
	}

	iter, err := subsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	out := make(map[string]ir.Subscription)
	for iter.Next() {
		name, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		sub, ok := b[name].(ir.Subscription)
		if !ok {
			return nil, unboundError("subscriptions."+iter.Label(), name, "subscription", iter.Value().Pos())
		}
		out[iter.Label()] = sub
	}
	return out, nil
}

func parseEnhancers(v cue.Value, b Bindings) ([]ir.ReducerEnhancer, error) {
	enhVal := v.LookupPath(cue.ParsePath("enhancers"))
	if !enhVal.Exists() {
		return nil, nil
	}

	iter, err := enhVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []ir.ReducerEnhancer
	for i := 0; iter.Next(); i++ {
		name, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		enh, ok := b[name].(ir.ReducerEnhancer)
		if !ok {
			return nil, unboundError(fmt.Sprintf("enhancers[%d]", i), name, "enhancer", iter.Value().Pos())
		}
		out = append(out, enh)
	}
	return out, nil
}

func unboundError(field, name, kind string, pos token.Pos) *CompileError {
	return &CompileError{
		Field:   field,
		Message: fmt.Sprintf("no %s bound to %q", kind, name),
		Pos:     pos,
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
