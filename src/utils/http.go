package utils

import (
	"encoding/json"
	"fmt"
)

// ParseBrokerResponse unwraps the single-key envelope most broker REST APIs
// wrap their payloads in, e.g. {"order": {...}} or {"orders": {"order": [...]}},
// and decodes the inner value as either a single T or a list of T.
func ParseBrokerResponse[T any](response []byte) ([]T, error) {
	header := make(map[string]json.RawMessage)

	if err := json.Unmarshal(response, &header); err != nil {
		return nil, fmt.Errorf("ParseBrokerResponse: failed to unmarshal header in response: %w", err)
	}

	if len(header) != 1 {
		return nil, fmt.Errorf("ParseBrokerResponse: expected 1 key in header, got %v: %v", len(header), header)
	}

	var inner json.RawMessage
	for k := range header {
		inner = header[k]
	}

	if string(inner) == "null" || string(inner) == "\"null\"" {
		return []T{}, nil
	}

	var dtos []T

	var singleDTO T
	if err := json.Unmarshal(inner, &singleDTO); err == nil {
		dtos = append(dtos, singleDTO)
		return dtos, nil
	}

	if err := json.Unmarshal(inner, &dtos); err != nil {
		return nil, fmt.Errorf("ParseBrokerResponse: failed to unmarshal dtos in response: %w", err)
	}

	return dtos, nil
}
