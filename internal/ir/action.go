package ir

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Separator joins a namespace and a bare action name.
const Separator = "/"

// Reserved action names and identifiers. These cross the package boundary
// and are part of the wire contract seen by middleware and journals.
const (
	// CancelEffects is appended to a namespace to build the per-namespace
	// cancellation identifier dispatched on ejection.
	CancelEffects = "@@CANCEL_EFFECTS"

	// PrepareCallback is the callback name that reuses the base identifier
	// instead of creating a qualified one.
	PrepareCallback = "prepare"

	// InternalNamespace is the namespace of the reserved framework model.
	InternalNamespace = "@@storeweave"

	// ActionRegistryChanged is dispatched on every ejection so memoized
	// consumers invalidate.
	ActionRegistryChanged = InternalNamespace + Separator + "UPDATE"

	// ActionInit is dispatched once when a store is created.
	ActionInit = InternalNamespace + Separator + "INIT"

	// ActionReplace is dispatched whenever the reducing function is swapped.
	ActionReplace = InternalNamespace + Separator + "REPLACE"
)

// Canonicalize maps variant spellings of a namespace to one canonical form.
//
// The rules, applied in order:
//   - surrounding whitespace is trimmed
//   - full-width and half-width variants are folded to their canonical width
//   - the string is NFC normalized
//   - trailing separators are stripped
//   - interior separators are replaced with "." so that splitting an action
//     type on its first separator always recovers the namespace
//
// Canonicalize is idempotent. An empty result is an *InvalidNamespaceError.
func Canonicalize(namespace string) (string, error) {
	ns := strings.TrimSpace(namespace)
	ns = width.Fold.String(ns)
	ns = norm.NFC.String(ns)
	ns = strings.TrimRight(ns, Separator)
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return "", &InvalidNamespaceError{Namespace: namespace}
	}
	return strings.ReplaceAll(ns, Separator, "."), nil
}

// MustCanonicalize is like Canonicalize but panics on error.
// Use only in tests or when the namespace is known to be valid.
func MustCanonicalize(namespace string) string {
	ns, err := Canonicalize(namespace)
	if err != nil {
		panic(err)
	}
	return ns
}

// Qualify joins an already canonical namespace and a bare action name.
func Qualify(namespace, name string) string {
	return namespace + Separator + name
}

// QualifyName appends the capitalized callback qualifier to a bare action
// name, e.g. ("fetch", "succeed") -> "fetchSucceed". The prepare callback
// leaves the name untouched.
func QualifyName(name, callback string) string {
	if callback == "" || callback == PrepareCallback {
		return name
	}
	return name + upperFirst(callback)
}

// QualifyWithCallback builds the callback-qualified identifier
// "<namespace>/<name><Callback>".
func QualifyWithCallback(namespace, name, callback string) string {
	return Qualify(namespace, QualifyName(name, callback))
}

// SplitType splits an action identifier on its first separator.
// ok is false when the identifier carries no namespace.
func SplitType(actionType string) (namespace, name string, ok bool) {
	namespace, name, ok = strings.Cut(actionType, Separator)
	if !ok {
		return "", actionType, false
	}
	return namespace, name, true
}

// CancelType returns the cancellation identifier for a namespace.
func CancelType(namespace string) string {
	return Qualify(namespace, CancelEffects)
}

// IsCancel reports whether actionType is a cancellation identifier and
// returns the namespace it targets.
func IsCancel(actionType string) (string, bool) {
	ns, name, ok := SplitType(actionType)
	if !ok || name != CancelEffects {
		return "", false
	}
	return ns, true
}

// PrefixKeys returns a copy of m whose keys are qualified with namespace.
func PrefixKeys[V any](namespace string, m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[Qualify(namespace, k)] = v
	}
	return out
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
