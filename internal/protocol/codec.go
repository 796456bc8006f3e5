package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// codec is shared by both ends of the wire. Map keys are sorted so equal
// states always serialize to equal lines.
var codec = sonic.Config{
	SortMapKeys: true,
	EscapeHTML:  false,
}.Froze()

var ErrNotMapping = errors.New("payload is not a mapping")

// Marshal serializes v into a single-line payload.
func Marshal(v any) (string, error) {
	s, err := codec.MarshalToString(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	return s, nil
}

// Unmarshal decodes a payload into plain Go values: map[string]any, []any,
// string, float64, bool or nil.
func Unmarshal(s string) (any, error) {
	var v any
	if err := codec.UnmarshalFromString(s, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return v, nil
}

// UnmarshalMapping decodes a payload that must be a mapping. A null payload
// yields a nil map and no error.
func UnmarshalMapping(s string) (map[string]any, error) {
	v, err := Unmarshal(s)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return t, nil
	case []any:
		// an empty sequence is how an empty state looks on some peers
		if len(t) == 0 {
			return map[string]any{}, nil
		}
	}
	return nil, ErrNotMapping
}
