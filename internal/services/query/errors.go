package query

import (
	"fmt"
)

// NoDataError reports a derivation left with zero usable samples.
type NoDataError struct {
	Device string
	Role   string
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no usable %s samples for device %s", e.Role, e.Device)
}

// SampleParseError is a document value that is missing or not numeric.
type SampleParseError struct {
	Field string
	Value any
}

func (e *SampleParseError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field %q missing", e.Field)
	}
	return fmt.Sprintf("field %q: cannot parse %v (%T) as a number", e.Field, e.Value, e.Value)
}

// QueryUnrecognizedError is returned by Resolve for text outside the known questions.
type QueryUnrecognizedError struct {
	Text string
}

func (e *QueryUnrecognizedError) Error() string {
	return fmt.Sprintf("unrecognized query %q", e.Text)
}
