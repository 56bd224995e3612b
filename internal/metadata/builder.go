package metadata

import (
	"errors"
	"strings"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

// GallonsPerLitre converts the flow sensor's litres into US gallons.
const GallonsPerLitre = 0.264172

// DefaultCalibration assigns a fixed conversion constant to the roles that need
// one. Roles not listed are left unscaled.
func DefaultCalibration() map[string]float64 {
	return map[string]float64{
		model.RoleWater: GallonsPerLitre,
	}
}

type BuildOptions struct {
	// Calibration maps role -> multiplicative factor. Nil means DefaultCalibration.
	Calibration map[string]float64
}

// Build flattens a device -> board -> sensor hierarchy into the metadata index.
// Every board of every device is walked. Any malformed record aborts the whole
// build with a *MetadataFormatError.
func Build(devices []model.MetadataNode, opts BuildOptions) (*model.Index, error) {
	calib := opts.Calibration
	if calib == nil {
		calib = DefaultCalibration()
	}

	var entries []model.Entry
	seen := map[string]map[string]string{} // device -> role -> sensor
	for _, dev := range devices {
		devName := strings.TrimSpace(dev.CustomAttributes.Name)
		if devName == "" {
			return nil, &MetadataFormatError{Reason: "device without name"}
		}
		if len(dev.CustomAttributes.Children) == 0 {
			return nil, &MetadataFormatError{Device: devName, Reason: "device has no boards"}
		}
		if seen[devName] == nil {
			seen[devName] = map[string]string{}
		}
		for _, board := range dev.CustomAttributes.Children {
			boardName := strings.TrimSpace(board.CustomAttributes.Name)
			if boardName == "" {
				return nil, &MetadataFormatError{Device: devName, Reason: "board without name"}
			}
			for _, sensor := range board.CustomAttributes.Children {
				sensorName := strings.TrimSpace(sensor.CustomAttributes.Name)
				if sensorName == "" {
					return nil, &MetadataFormatError{Device: devName, Reason: "sensor without name on board " + boardName}
				}
				role, err := ParseRole(sensorName)
				if err != nil {
					var mfe *MetadataFormatError
					if errors.As(err, &mfe) {
						mfe.Device = devName
					}
					return nil, err
				}
				if prev, dup := seen[devName][role]; dup {
					return nil, &MetadataFormatError{Device: devName, Sensor: sensorName, Reason: "role " + role + " already bound to " + prev}
				}
				seen[devName][role] = sensorName

				e := model.Entry{
					DeviceName:  devName,
					Role:        role,
					BoardName:   boardName,
					SensorField: sensorName,
					Unit:        sensor.CustomAttributes.Unit,
				}
				if f, ok := calib[role]; ok {
					f := f
					e.CalibrationFactor = &f
				}
				entries = append(entries, e)
			}
		}
	}
	return model.NewIndex(entries)
}
