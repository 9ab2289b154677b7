package saga

import (
	"strings"

	"github.com/roach88/storeweave/internal/ir"
)

// Wildcard matches every action.
const Wildcard = "*"

// qualifyPattern resolves a take pattern against the task's namespace.
// Bare names are qualified; "*" and already namespaced patterns pass
// through unchanged.
func qualifyPattern(ns, pattern string) string {
	if pattern == Wildcard || strings.Contains(pattern, ir.Separator) {
		return pattern
	}
	return ir.Qualify(ns, pattern)
}

// matchPattern checks if an action type matches a take pattern.
//
// The match is determined by:
// 1. "*" matches every action type
// 2. "ns/*" matches every action type of namespace ns
// 3. Anything else must equal the action type exactly
func matchPattern(pattern, actionType string) bool {
	if pattern == Wildcard {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ir.Separator+Wildcard); ok {
		ns, _, found := ir.SplitType(actionType)
		return found && ns == prefix
	}
	return pattern == actionType
}

// matchAny returns true if actionType matches at least one pattern.
// An empty pattern list matches nothing.
func matchAny(patterns []string, actionType string) bool {
	for _, p := range patterns {
		if matchPattern(p, actionType) {
			return true
		}
	}
	return false
}
