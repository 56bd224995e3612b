package query

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
	"github.com/LeonardoBeccarini/iot_query/internal/readings"
)

const boardField = "board_name"

// memSource is an in-memory readings.Source with per-board failures.
type memSource struct {
	docs    []model.Document
	failFor map[string]error
	mu      sync.Mutex
	queries []readings.Query
}

func (s *memSource) Fetch(_ context.Context, q readings.Query) (readings.Cursor, error) {
	s.mu.Lock()
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	if err := s.failFor[q.Board]; err != nil {
		return nil, err
	}
	var out []model.Document
	for _, d := range s.docs {
		if readings.Matches(q, boardField, d) {
			out = append(out, d)
		}
	}
	if q.Ascending {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	}
	return readings.NewSliceCursor(out), nil
}

func reading(board string, at time.Time, kv ...any) model.Document {
	p := map[string]any{boardField: board}
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i].(string)] = kv[i+1]
	}
	return model.Document{Time: at, Payload: p}
}

func factor(f float64) *float64 { return &f }

// Payload keys are the sensor names themselves.
const (
	f1Moist   = "fridge1_moist_AM2320"
	f1Current = "fridge1_current_ACS712"
	f1Voltage = "fridge1_voltage_ZMPT101B"
	f2Current = "fridge2_current_ACS712"
	f2Voltage = "fridge2_voltage_ZMPT101B"
	dwWater   = "dish_water_YF-S201"
	dwCurrent = "dish_current_ACS712"
	dwVoltage = "dish_voltage_ZMPT101B"
)

func testIndex() *model.Index {
	idx, err := model.NewIndex([]model.Entry{
		{DeviceName: "SmartFridge1", Role: model.RoleMoisture, BoardName: "board-f1", SensorField: f1Moist, Unit: "% RH"},
		{DeviceName: "SmartFridge1", Role: model.RoleCurrent, BoardName: "board-f1", SensorField: f1Current, Unit: "V"},
		{DeviceName: "SmartFridge1", Role: model.RoleVoltage, BoardName: "board-f1", SensorField: f1Voltage, Unit: "V"},
		{DeviceName: "SmartFridge2", Role: model.RoleCurrent, BoardName: "board-f2", SensorField: f2Current, Unit: "V"},
		{DeviceName: "SmartFridge2", Role: model.RoleVoltage, BoardName: "board-f2", SensorField: f2Voltage, Unit: "V"},
		{DeviceName: "dishwasher", Role: model.RoleWater, BoardName: "board-dw", SensorField: dwWater, Unit: "L", CalibrationFactor: factor(0.264172)},
		{DeviceName: "dishwasher", Role: model.RoleCurrent, BoardName: "board-dw", SensorField: dwCurrent, Unit: "V"},
		{DeviceName: "dishwasher", Role: model.RoleVoltage, BoardName: "board-dw", SensorField: dwVoltage, Unit: "V"},
	})
	if err != nil {
		panic(err)
	}
	return idx
}

var testNow = time.Date(2024, 5, 1, 19, 0, 0, 0, time.UTC)

func newTestEngine(src readings.Source, opts ...Option) *Engine {
	set := DefaultSettings()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	e, err := NewEngine(testIndex(), src, set, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// stubDeriver lets dispatcher tests script each derivation.
type stubDeriver struct {
	moisture    func(ctx context.Context) (float64, model.Entry, error)
	water       func(ctx context.Context) (float64, error)
	electricity func(ctx context.Context) ([]DeviceEnergy, error)
}

var errNotScripted = errors.New("not scripted")

func (s stubDeriver) AverageMoisture(ctx context.Context) (float64, model.Entry, error) {
	if s.moisture == nil {
		return 0, model.Entry{}, errNotScripted
	}
	return s.moisture(ctx)
}

func (s stubDeriver) AverageWater(ctx context.Context) (float64, error) {
	if s.water == nil {
		return 0, errNotScripted
	}
	return s.water(ctx)
}

func (s stubDeriver) Electricity(ctx context.Context) ([]DeviceEnergy, error) {
	if s.electricity == nil {
		return nil, errNotScripted
	}
	return s.electricity(ctx)
}
