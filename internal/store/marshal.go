package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/triangulate/internal/ir"
)

// marshalPayload converts a payload to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalPayload(p ir.Object) (string, error) {
	data, err := ir.MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

// unmarshalPayload parses stored JSON TEXT. Integers are decoded through
// json.Number, so values above 2^53 keep their precision.
func unmarshalPayload(data string) (ir.Object, error) {
	if data == "" || data == "{}" {
		return ir.Object{}, nil
	}
	obj, err := ir.DecodeObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return obj, nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("marshal strings: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	var out []string
	if err := json.Unmarshal([]byte(data), &out); err != nil {
		return nil, fmt.Errorf("unmarshal strings: %w", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}
