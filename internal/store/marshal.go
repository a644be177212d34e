package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/cascade/internal/ir"
)

// marshalProps encodes endpoint keys as canonical JSON so equal sets
// compare equal as text.
func marshalProps(props []string) (string, error) {
	data, err := ir.MarshalCanonical(props)
	if err != nil {
		return "", fmt.Errorf("marshal updated props: %w", err)
	}
	return string(data), nil
}

func unmarshalProps(data string) ([]string, error) {
	props := []string{}
	if err := json.Unmarshal([]byte(data), &props); err != nil {
		return nil, fmt.Errorf("unmarshal updated props: %w", err)
	}
	return props, nil
}
