package query

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
	"github.com/LeonardoBeccarini/iot_query/internal/readings"
)

// joulesPerKWh converts amp-volt-seconds to kilowatt-hours.
const joulesPerKWh = 3_600_000

// DeviceEnergy is the outcome for one device. When Err is set (a malformed
// sample) KWh is 0 and the error stays local to this device.
type DeviceEnergy struct {
	Device string
	KWh    float64
	Err    error
}

// Electricity integrates power over time for every device that has both a
// current and a voltage sensor, in index order. Devices missing either role
// are left out. A malformed sample zeroes only its device; a store failure
// fails the whole query.
func (e *Engine) Electricity(ctx context.Context) ([]DeviceEnergy, error) {
	var out []DeviceEnergy
	for _, dev := range e.index.Devices() {
		if !e.index.Has(dev, model.RoleCurrent, model.RoleVoltage) {
			continue
		}
		roles := e.index.Roles(dev)
		kwh, err := e.deviceEnergy(ctx, roles[model.RoleCurrent], roles[model.RoleVoltage])
		var spe *SampleParseError
		switch {
		case err == nil:
		case errors.As(err, &spe):
			e.metrics.skipped(model.RoleCurrent)
			out = append(out, DeviceEnergy{Device: dev, Err: err})
			continue
		default:
			return nil, err
		}
		out = append(out, DeviceEnergy{Device: dev, KWh: kwh})
	}
	return out, nil
}

type powerSample struct {
	amps  float64
	volts float64
	at    time.Time
}

func (e *Engine) deviceEnergy(ctx context.Context, current, voltage model.Entry) (float64, error) {
	// i documenti portano entrambi i campi: si filtra sulla board della
	// corrente e sull'esistenza del campo tensione
	docs, err := e.fetch(ctx, readings.Query{
		Board:     current.BoardName,
		Field:     voltage.SensorField,
		Ascending: true,
	})
	if err != nil {
		return 0, fmt.Errorf("fetch %s readings: %w", current.DeviceName, err)
	}

	samples := make([]powerSample, 0, len(docs))
	for _, d := range docs {
		rawI, err := fieldValue(d.Payload, current.SensorField)
		if err != nil {
			return 0, err
		}
		volts, err := fieldValue(d.Payload, voltage.SensorField)
		if err != nil {
			return 0, err
		}
		samples = append(samples, powerSample{
			amps:  (rawI - e.set.CurrentBaseline) / e.set.CurrentSensitivity,
			volts: volts,
			at:    d.Time,
		})
	}
	return integrate(samples), nil
}

// integrate sums |I·V|·Δt over consecutive pairs. Δt is in whole seconds
// (truncated) and the last sample has no successor, so it contributes nothing.
func integrate(samples []powerSample) float64 {
	var total float64
	for i := 0; i+1 < len(samples); i++ {
		dt := int64(samples[i+1].at.Sub(samples[i].at) / time.Second)
		total += math.Abs(samples[i].amps*samples[i].volts) * float64(dt)
	}
	return total / joulesPerKWh
}

// HighestConsumer returns the first device holding the maximum kWh.
func HighestConsumer(results []DeviceEnergy) (DeviceEnergy, bool) {
	if len(results) == 0 {
		return DeviceEnergy{}, false
	}
	best := results[0]
	for _, r := range results[1:] {
		if r.KWh > best.KWh {
			best = r
		}
	}
	return best, true
}
