package storage

import (
	"encoding/json"
	"fmt"
	"maps"

	"gatekeeper/internal/models"
)

// copyEvent returns a deep copy so callers cannot mutate stored events.
func copyEvent(e *models.SecurityEvent) *models.SecurityEvent {
	c := *e
	if e.Details != nil {
		c.Details = maps.Clone(e.Details)
	}
	return &c
}

// marshalDetails converts event details to JSON bytes for database columns.
func marshalDetails(details map[string]string) ([]byte, error) {
	if details == nil {
		details = map[string]string{}
	}
	return json.Marshal(details)
}

// unmarshalDetails converts JSON bytes from a database column to details.
// Empty input yields nil details.
func unmarshalDetails(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var details map[string]string
	if err := json.Unmarshal(data, &details); err != nil {
		return nil, fmt.Errorf("failed to unmarshal details: %w", err)
	}
	if len(details) == 0 {
		return nil, nil
	}
	return details, nil
}
