package compiler

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/roach88/storeweave/internal/ir"
)

// Validation error codes (E100-E199)
const (
	// General validation errors (E100)
	ErrUnsupportedType = "E100" // unsupported value for validation

	// Namespace errors (E101-E104)
	ErrNamespaceNotCanonical = "E101" // namespace differs from its canonical form
	ErrNamespaceReserved     = "E102" // namespace is reserved for the runtime
	ErrNamespaceInvalid      = "E103" // namespace contains forbidden characters

	// Table errors (E110-E119)
	ErrKeyNotPrefixed   = "E110" // table key not qualified with the namespace
	ErrNilHandler       = "E111" // mutation or effect without a function
	ErrReservedAction   = "E112" // action name uses a reserved identifier
	ErrDanglingAction   = "E113" // action creator routes to no handler
	ErrInvalidPolicy    = "E114" // unknown policy or throttle without interval
	ErrDanglingCallback = "E115" // callback qualifier without a mutation
	ErrEmptyActionName  = "E116" // identifier with an empty action name
	ErrNilSubscription  = "E117" // subscription without a function
	ErrNilEnhancer      = "E118" // enhancer entry is nil
)

// ValidationError represents a model record validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled record against the structural invariants the
// runtime relies on. Returns all errors found (does not fail-fast), sorted
// by field for stable output.
func Validate(v any) []ValidationError {
	var errs []ValidationError
	switch rec := v.(type) {
	case *ir.ModelRecord:
		errs = validateRecord(rec)
	case ir.ModelRecord:
		errs = validateRecord(&rec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported type: %T", v),
			Code:    ErrUnsupportedType,
		}}
	}
	slices.SortStableFunc(errs, func(a, b ValidationError) int {
		return strings.Compare(a.Field, b.Field)
	})
	return errs
}

// namespacePattern rejects control characters inside a namespace.
// Interior spaces are allowed; canonicalization already trimmed the edges.
var namespacePattern = regexp.MustCompile(`^[^\x00-\x1f\x7f/]+$`)

func validateRecord(rec *ir.ModelRecord) []ValidationError {
	var errs []ValidationError

	canonical, err := ir.Canonicalize(rec.Namespace)
	switch {
	case err != nil:
		errs = append(errs, ValidationError{
			Field:   "namespace",
			Message: err.Error(),
			Code:    ErrNamespaceInvalid,
		})
		return errs
	case canonical != rec.Namespace:
		errs = append(errs, ValidationError{
			Field:   "namespace",
			Message: fmt.Sprintf("namespace %q is not canonical, expected %q", rec.Namespace, canonical),
			Code:    ErrNamespaceNotCanonical,
		})
	case rec.Namespace == ir.InternalNamespace:
		errs = append(errs, ValidationError{
			Field:   "namespace",
			Message: fmt.Sprintf("namespace %q is reserved", rec.Namespace),
			Code:    ErrNamespaceReserved,
		})
	case !namespacePattern.MatchString(rec.Namespace):
		errs = append(errs, ValidationError{
			Field:   "namespace",
			Message: fmt.Sprintf("namespace %q contains control characters", rec.Namespace),
			Code:    ErrNamespaceInvalid,
		})
	}

	prefix := rec.Namespace + ir.Separator

	for _, key := range slices.Sorted(maps.Keys(rec.Mutations)) {
		field := "mutations." + key
		errs = append(errs, validateKey(field, key, prefix)...)
		if rec.Mutations[key] == nil {
			errs = append(errs, ValidationError{Field: field, Message: "mutation has no function", Code: ErrNilHandler})
		}
	}

	for _, key := range slices.Sorted(maps.Keys(rec.Effects)) {
		field := "effects." + key
		eff := rec.Effects[key]
		errs = append(errs, validateKey(field, key, prefix)...)
		if eff.Fn == nil {
			errs = append(errs, ValidationError{Field: field, Message: "effect has no function", Code: ErrNilHandler})
		}
		if _, err := ir.ParsePolicy(string(eff.Policy)); err != nil {
			errs = append(errs, ValidationError{Field: field + ".policy", Message: err.Error(), Code: ErrInvalidPolicy})
		} else if eff.Policy == ir.PolicyThrottle && eff.Interval <= 0 {
			errs = append(errs, ValidationError{Field: field + ".interval", Message: "throttle policy requires a positive interval", Code: ErrInvalidPolicy})
		}
	}

	for _, key := range slices.Sorted(maps.Keys(rec.Callbacks)) {
		field := "callbacks." + key
		errs = append(errs, validateKey(field, key, prefix)...)
		_, name, _ := ir.SplitType(key)
		for _, cb := range rec.Callbacks[key] {
			qualified := ir.QualifyWithCallback(rec.Namespace, name, cb)
			if _, ok := rec.Mutations[qualified]; !ok {
				errs = append(errs, ValidationError{
					Field:   field,
					Message: fmt.Sprintf("callback %q has no mutation %q", cb, qualified),
					Code:    ErrDanglingCallback,
				})
			}
		}
	}

	for _, creator := range slices.Sorted(maps.Keys(rec.Actions)) {
		id := rec.Actions[creator]
		field := "actions." + creator
		errs = append(errs, validateKey(field, id, prefix)...)
		_, hasMutation := rec.Mutations[id]
		_, hasEffect := rec.Effects[id]
		if !hasMutation && !hasEffect {
			errs = append(errs, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("action %q routes to no mutation or effect", id),
				Code:    ErrDanglingAction,
			})
		}
	}

	for _, name := range slices.Sorted(maps.Keys(rec.Subscriptions)) {
		if rec.Subscriptions[name] == nil {
			errs = append(errs, ValidationError{Field: "subscriptions." + name, Message: "subscription has no function", Code: ErrNilSubscription})
		}
	}

	for i, enh := range rec.Enhancers {
		if enh == nil {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("enhancers[%d]", i), Message: "enhancer is nil", Code: ErrNilEnhancer})
		}
	}

	return errs
}

// validateKey checks that key is a namespaced identifier with a usable name.
func validateKey(field, key, prefix string) []ValidationError {
	name, ok := strings.CutPrefix(key, prefix)
	if !ok {
		return []ValidationError{{
			Field:   field,
			Message: fmt.Sprintf("identifier %q is not qualified with %q", key, prefix),
			Code:    ErrKeyNotPrefixed,
		}}
	}
	if name == "" {
		return []ValidationError{{Field: field, Message: "empty action name", Code: ErrEmptyActionName}}
	}
	if name == ir.CancelEffects {
		return []ValidationError{{
			Field:   field,
			Message: fmt.Sprintf("%q is reserved for effect cancellation", name),
			Code:    ErrReservedAction,
		}}
	}
	return nil
}
