package metadata

import "strings"

// RoleDelimiter separates the device prefix, the role and the hardware model
// inside a sensor name, e.g. fridge1_moist_AM2320.
const RoleDelimiter = "_"

// ParseRole extracts the role from a structured sensor name: the text between
// the first and the last delimiter. Names with fewer than two delimiters, or
// with nothing between them, are rejected.
func ParseRole(sensorName string) (string, error) {
	first := strings.Index(sensorName, RoleDelimiter)
	last := strings.LastIndex(sensorName, RoleDelimiter)
	if first < 0 || last == first {
		return "", &MetadataFormatError{Sensor: sensorName, Reason: "sensor name does not encode a role (want <device>_<role>_<model>)"}
	}
	role := sensorName[first+len(RoleDelimiter) : last]
	if strings.TrimSpace(role) == "" {
		return "", &MetadataFormatError{Sensor: sensorName, Reason: "empty role in sensor name"}
	}
	return role, nil
}
