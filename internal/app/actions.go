package app

import (
	"maps"

	"github.com/roach88/storeweave/internal/ir"
)

// Actions returns the bound action creators, namespace -> creator name ->
// creator. The returned maps are copies.
func (a *App) Actions() map[string]map[string]ir.ActionCreator {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]map[string]ir.ActionCreator, len(a.actions))
	for ns, creators := range a.actions {
		out[ns] = maps.Clone(creators)
	}
	return out
}

// ActionTypes returns every identifier reachable from the action creators
// of namespace.
func (a *App) ActionTypes(namespace string) []string {
	rec, ok := a.Record(namespace)
	if !ok {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, ok := a.actions[rec.Namespace]; !ok {
		return nil
	}
	return rec.ActionTypes()
}

// actionCreators derives one creator per action of rec. A creator for an
// action whose Handler Group declares callbacks stamps Meta["callbacks"]
// with callback name -> identifier, which Effects.Callback reads.
func (a *App) actionCreators(rec *ir.ModelRecord) map[string]ir.ActionCreator {
	creators := make(map[string]ir.ActionCreator, len(rec.Actions))
	for name, id := range rec.Actions {
		var callbacks map[string]string
		if cbs := rec.Callbacks[id]; len(cbs) > 0 {
			_, base, _ := ir.SplitType(id)
			callbacks = make(map[string]string, len(cbs))
			for _, cb := range cbs {
				callbacks[cb] = ir.QualifyWithCallback(rec.Namespace, base, cb)
			}
		}
		creators[name] = func(payload any) ir.Action {
			action := ir.NewAction(id, payload)
			if callbacks != nil {
				action = action.WithMeta(ir.MetaCallbacks, maps.Clone(callbacks))
			}
			return a.Dispatch(action)
		}
	}
	return creators
}
