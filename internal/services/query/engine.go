package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
	"github.com/LeonardoBeccarini/iot_query/internal/readings"
)

// Settings are the fixed parameters of the three derivations.
type Settings struct {
	Location       *time.Location
	MoistureDevice string
	MoistureWindow time.Duration
	WaterDevice    string

	// ACS712-style current sensor: output volts at 0 A and volts per amp.
	CurrentBaseline    float64
	CurrentSensitivity float64
}

// DefaultSettings match the deployed kitchen setup.
func DefaultSettings() Settings {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		loc = time.UTC
	}
	return Settings{
		Location:           loc,
		MoistureDevice:     "SmartFridge1",
		MoistureWindow:     3 * time.Hour,
		WaterDevice:        "dishwasher",
		CurrentBaseline:    2.5,
		CurrentSensitivity: 0.1,
	}
}

// Engine runs the derivations against an immutable metadata index and a
// reading source. It holds no per-query state.
type Engine struct {
	index   *model.Index
	src     readings.Source
	set     Settings
	now     func() time.Time
	metrics *Metrics
}

type Option func(*Engine)

// WithClock replaces time.Now (tests pin the moisture window with it).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(index *model.Index, src readings.Source, set Settings, opts ...Option) (*Engine, error) {
	if index == nil || src == nil {
		return nil, errors.New("engine needs an index and a reading source")
	}
	if set.CurrentSensitivity == 0 {
		return nil, errors.New("current sensitivity must not be zero")
	}
	if set.Location == nil {
		set.Location = time.UTC
	}
	e := &Engine{index: index, src: src, set: set, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) fetch(ctx context.Context, q readings.Query) ([]model.Document, error) {
	cur, err := e.src.Fetch(ctx, q)
	if err != nil {
		return nil, err
	}
	return readings.Collect(ctx, cur)
}

// scaledMean averages entry.Scale(value) over the documents, skipping the
// ones whose field is missing or not numeric.
func (e *Engine) scaledMean(docs []model.Document, entry model.Entry) (float64, int) {
	var sum float64
	n := 0
	for _, d := range docs {
		v, err := fieldValue(d.Payload, entry.SensorField)
		if err != nil {
			e.metrics.skipped(entry.Role)
			continue
		}
		sum += entry.Scale(v)
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// AverageMoisture averages the moisture readings of the configured device
// over the last MoistureWindow, measured in the configured timezone.
func (e *Engine) AverageMoisture(ctx context.Context) (float64, model.Entry, error) {
	entry, err := e.index.Lookup(e.set.MoistureDevice, model.RoleMoisture)
	if err != nil {
		return 0, model.Entry{}, err
	}
	end := e.now().In(e.set.Location)
	q := readings.Query{
		Board: entry.BoardName,
		Field: entry.SensorField,
		Range: &model.TimeRange{Start: end.Add(-e.set.MoistureWindow), End: end},
	}
	docs, err := e.fetch(ctx, q)
	if err != nil {
		return 0, entry, fmt.Errorf("fetch moisture readings: %w", err)
	}
	avg, n := e.scaledMean(docs, entry)
	if n == 0 {
		return 0, entry, &NoDataError{Device: entry.DeviceName, Role: entry.Role}
	}
	return avg, entry, nil
}

// AverageWater averages every calibrated water reading of the configured device.
func (e *Engine) AverageWater(ctx context.Context) (float64, error) {
	entry, err := e.index.Lookup(e.set.WaterDevice, model.RoleWater)
	if err != nil {
		return 0, err
	}
	docs, err := e.fetch(ctx, readings.Query{Board: entry.BoardName, Field: entry.SensorField})
	if err != nil {
		return 0, fmt.Errorf("fetch water readings: %w", err)
	}
	avg, n := e.scaledMean(docs, entry)
	if n == 0 {
		return 0, &NoDataError{Device: entry.DeviceName, Role: entry.Role}
	}
	return avg, nil
}
