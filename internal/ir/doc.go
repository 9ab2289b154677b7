// Package ir provides the shared types of the storeweave runtime.
//
// This package contains the raw model descriptor, the normalized model
// record, actions, handler variants and the error taxonomy. All other
// internal packages import ir; ir imports nothing internal, so it stays the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Every table key on a ModelRecord is a fully namespaced action type
//   - Handlers are classified exactly once, at compile time, into the
//     closed Handler variant (MutationHandler, EffectHandler, InvalidGroupEntry)
//   - Namespaces are canonicalized before any comparison or indexing
//   - Canonical JSON (RFC 8785 key order, NFC strings) is the only encoding
//     used for hashing state and payloads
package ir
