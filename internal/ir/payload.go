package ir

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodePayload decodes an action payload into out, which must be a
// pointer. Payloads arriving from YAML scenarios, CUE manifests or the
// journal are generic maps; handlers use this to recover typed values.
//
// Field names follow `json` struct tags and weakly typed input is accepted
// (e.g. "3" decodes into an int field).
func DecodePayload(action Action, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return fmt.Errorf("decode payload of %q: %w", action.Type, err)
	}
	if err := dec.Decode(action.Payload); err != nil {
		return fmt.Errorf("decode payload of %q: %w", action.Type, err)
	}
	return nil
}
