package messages

import (
	"time"
)

// Telemetry is what a board publishes on telemetry/<board> every report cycle.
// Payload carries the board identifier plus the sensor values keyed by
// sensor name, the same shape the document store keeps.
type Telemetry struct {
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload"`
}
