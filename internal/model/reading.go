package model

import "time"

// Document is one timestamped sample as stored by the ingestion pipeline.
// Payload holds the board identifier and one or more sensor values, either
// as strings or numbers.
type Document struct {
	Time    time.Time      `bson:"time" json:"time"`
	Payload map[string]any `bson:"payload" json:"payload"`
}

// TimeRange is an inclusive [Start, End] window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, bounds included.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}
