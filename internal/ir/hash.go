package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for a future algorithm migration.
const (
	DomainAction = "storeweave/action/v1"
	DomainState  = "storeweave/state/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ActionID computes the content-addressed ID of a dispatched action.
// The seq makes two dispatches of an identical action distinct.
func ActionID(actionType string, payload any, seq int64) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"type":    actionType,
		"payload": payload,
		"seq":     seq,
	})
	if err != nil {
		return "", fmt.Errorf("ActionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainAction, canonical), nil
}

// StateHash computes the content hash of a state snapshot.
// Two snapshots hash equal iff their canonical JSON is byte-identical.
func StateHash(state State) (string, error) {
	canonical, err := MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("StateHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// MustActionID is like ActionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustActionID(actionType string, payload any, seq int64) string {
	id, err := ActionID(actionType, payload, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustStateHash is like StateHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustStateHash(state State) string {
	h, err := StateHash(state)
	if err != nil {
		panic(err)
	}
	return h
}
