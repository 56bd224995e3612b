package model

import (
	"fmt"
	"sort"
)

// Ruoli noti dei sensori (estratti dal nome del sensore).
const (
	RoleMoisture = "moist"
	RoleWater    = "water"
	RoleCurrent  = "current"
	RoleVoltage  = "voltage"
)

// Entry identifies one sensor role of one device and where its values live
// inside stored reading documents.
type Entry struct {
	DeviceName        string   `json:"device_name"`
	Role              string   `json:"role"`
	BoardName         string   `json:"board_name"`
	SensorField       string   `json:"sensor_name"` // key inside Document.Payload
	Unit              string   `json:"unit"`
	CalibrationFactor *float64 `json:"conversion_factor,omitempty"`
}

// Scale applies the calibration factor, if any.
func (e Entry) Scale(raw float64) float64 {
	if e.CalibrationFactor == nil {
		return raw
	}
	return raw * *e.CalibrationFactor
}

// Index maps device name -> role -> Entry. It is populated once by
// NewIndex and never mutated afterwards.
type Index struct {
	order   []string
	devices map[string]map[string]Entry
}

// LookupError is returned when a device or one of its roles is not in the index.
type LookupError struct {
	Device string
	Role   string
}

func (e *LookupError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("unknown device %q", e.Device)
	}
	return fmt.Sprintf("device %q has no %q sensor", e.Device, e.Role)
}

// NewIndex freezes entries into an Index. Devices keep the order in which they
// first appear; a repeated (device, role) pair is rejected.
func NewIndex(entries []Entry) (*Index, error) {
	idx := &Index{devices: make(map[string]map[string]Entry)}
	for _, e := range entries {
		roles, ok := idx.devices[e.DeviceName]
		if !ok {
			roles = make(map[string]Entry)
			idx.devices[e.DeviceName] = roles
			idx.order = append(idx.order, e.DeviceName)
		}
		if _, dup := roles[e.Role]; dup {
			return nil, fmt.Errorf("duplicate role %q for device %q", e.Role, e.DeviceName)
		}
		roles[e.Role] = e
	}
	return idx, nil
}

// Lookup returns the entry for (device, role).
func (x *Index) Lookup(device, role string) (Entry, error) {
	roles, ok := x.devices[device]
	if !ok {
		return Entry{}, &LookupError{Device: device}
	}
	e, ok := roles[role]
	if !ok {
		return Entry{}, &LookupError{Device: device, Role: role}
	}
	return e, nil
}

// Has reports whether the device exposes every given role.
func (x *Index) Has(device string, roles ...string) bool {
	for _, r := range roles {
		if _, err := x.Lookup(device, r); err != nil {
			return false
		}
	}
	return true
}

// Devices returns device names in declaration order.
func (x *Index) Devices() []string {
	out := make([]string, len(x.order))
	copy(out, x.order)
	return out
}

// Roles returns a copy of the role map of a device (nil if unknown).
func (x *Index) Roles(device string) map[string]Entry {
	roles, ok := x.devices[device]
	if !ok {
		return nil
	}
	out := make(map[string]Entry, len(roles))
	for k, v := range roles {
		out[k] = v
	}
	return out
}

// Boards returns the distinct board names, sorted.
func (x *Index) Boards() []string {
	seen := map[string]struct{}{}
	for _, roles := range x.devices {
		for _, e := range roles {
			seen[e.BoardName] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for b := range seen {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Len is the number of (device, role) pairs.
func (x *Index) Len() int {
	n := 0
	for _, roles := range x.devices {
		n += len(roles)
	}
	return n
}

// MetadataNode is one level of the device -> board -> sensor hierarchy as it
// is stored in the metadata collection.
type MetadataNode struct {
	CustomAttributes NodeAttributes `bson:"customAttributes" json:"customAttributes" mapstructure:"customAttributes"`
}

type NodeAttributes struct {
	Name     string         `bson:"name" json:"name" mapstructure:"name"`
	Unit     string         `bson:"unit,omitempty" json:"unit,omitempty" mapstructure:"unit"`
	Children []MetadataNode `bson:"children,omitempty" json:"children,omitempty" mapstructure:"children"`
}
