package event

import (
	"encoding/json"
	"fmt"
)

// Decode reconstructs an event from its stored type tag and JSON payload.
// Used when replaying the event log on startup.
func Decode(eventType string, payload []byte) (Event, error) {
	var e Event
	switch eventType {
	case EventTypeTroveOpen.String():
		e = &TroveOpen{}
	case EventTypeTroveAdjust.String():
		e = &TroveAdjust{}
	case EventTypeTroveClose.String():
		e = &TroveClose{}
	case EventTypeCollPriceUpdate.String():
		e = &CollPriceUpdate{}
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", eventType)
	}
	if err := json.Unmarshal(payload, e); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", eventType, err)
	}
	return e, nil
}
