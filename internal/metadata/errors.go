package metadata

import "fmt"

// MetadataFormatError reports a metadata record the index cannot be built from.
// It is fatal at startup: a partially built index is never returned.
type MetadataFormatError struct {
	Device string
	Sensor string
	Reason string
}

func (e *MetadataFormatError) Error() string {
	switch {
	case e.Sensor != "":
		return fmt.Sprintf("metadata: device %q sensor %q: %s", e.Device, e.Sensor, e.Reason)
	case e.Device != "":
		return fmt.Sprintf("metadata: device %q: %s", e.Device, e.Reason)
	default:
		return "metadata: " + e.Reason
	}
}
