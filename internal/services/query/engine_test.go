package query

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
	"github.com/LeonardoBeccarini/iot_query/internal/readings"
)

func TestAverageMoistureSkipsMalformed(t *testing.T) {
	src := &memSource{docs: []model.Document{
		reading("board-f1", testNow.Add(-2*time.Hour), f1Moist, 30.0),
		reading("board-f1", testNow.Add(-time.Hour), f1Moist, "50"),
		reading("board-f1", testNow.Add(-30*time.Minute), f1Moist, "n/a"),
		reading("board-f1", testNow.Add(-4*time.Hour), f1Moist, 100.0), // outside the window
		reading("board-f2", testNow.Add(-time.Hour), f1Moist, 100.0),
	}}
	avg, entry, err := newTestEngine(src).AverageMoisture(context.Background())
	if err != nil {
		t.Fatalf("AverageMoisture: %v", err)
	}
	if math.Abs(avg-40) > 1e-9 {
		t.Fatalf("avg = %v, want 40", avg)
	}
	if entry.BoardName != "board-f1" || entry.Unit != "% RH" {
		t.Fatalf("entry = %+v", entry)
	}

	q := src.queries[0]
	if q.Range == nil || q.Range.End.Sub(q.Range.Start) != 3*time.Hour || !q.Range.End.Equal(testNow) {
		t.Fatalf("window = %+v", q.Range)
	}
	if q.Range.End.Location().String() != "America/Los_Angeles" {
		t.Fatalf("window not expressed in local time: %v", q.Range.End.Location())
	}
}

func TestAverageMoistureNoData(t *testing.T) {
	src := &memSource{docs: []model.Document{
		reading("board-f1", testNow.Add(-time.Hour), f1Moist, "bad"),
	}}
	_, _, err := newTestEngine(src).AverageMoisture(context.Background())
	var nd *NoDataError
	if !errors.As(err, &nd) {
		t.Fatalf("err = %v, want NoDataError", err)
	}
}

func TestAverageWaterScaled(t *testing.T) {
	src := &memSource{docs: []model.Document{
		reading("board-dw", testNow.Add(-48*time.Hour), dwWater, 10.0),
		reading("board-dw", testNow.Add(-24*time.Hour), dwWater, " 10 "),
		reading("board-dw", testNow, dwWater, []int{1}),
	}}
	avg, err := newTestEngine(src).AverageWater(context.Background())
	if err != nil {
		t.Fatalf("AverageWater: %v", err)
	}
	if math.Abs(avg-2.64172) > 1e-9 {
		t.Fatalf("avg = %v, want 2.64172", avg)
	}
	if src.queries[0].Range != nil {
		t.Fatalf("water query must not be windowed")
	}
}

func TestAverageWaterNoData(t *testing.T) {
	_, err := newTestEngine(&memSource{}).AverageWater(context.Background())
	var nd *NoDataError
	if !errors.As(err, &nd) {
		t.Fatalf("err = %v, want NoDataError", err)
	}
}

func TestAverageWaterUnknownDevice(t *testing.T) {
	set := DefaultSettings()
	set.WaterDevice = "washer"
	e, err := NewEngine(testIndex(), &memSource{}, set)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	_, err = e.AverageWater(context.Background())
	var le *model.LookupError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want LookupError", err)
	}
}

func TestElectricityIntegration(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &memSource{docs: []model.Document{
		// stored out of order; the engine must ask for ascending time
		reading("board-f1", t0.Add(25*time.Second), f1Current, 9.9, f1Voltage, 999.0),
		reading("board-f1", t0, f1Current, 2.6, f1Voltage, 120.0),
		reading("board-f1", t0.Add(10*time.Second), f1Current, "2.7", f1Voltage, 120),
	}}
	res, err := newTestEngine(src).Electricity(context.Background())
	if err != nil {
		t.Fatalf("Electricity: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("got %d devices, want 3", len(res))
	}
	want := (1.0*120.0*10 + 2.0*120.0*15) / 3_600_000
	if res[0].Device != "SmartFridge1" || math.Abs(res[0].KWh-want) > 1e-9 || res[0].Err != nil {
		t.Fatalf("SmartFridge1 = %+v, want %v kWh", res[0], want)
	}
	for _, r := range res[1:] {
		if r.KWh != 0 || r.Err != nil {
			t.Fatalf("%s without readings = %+v", r.Device, r)
		}
	}
	for _, q := range src.queries {
		if !q.Ascending {
			t.Fatalf("energy fetch without ascending order: %+v", q)
		}
	}
	if src.queries[0].Board != "board-f1" || src.queries[0].Field != f1Voltage {
		t.Fatalf("fetch = %+v", src.queries[0])
	}
}

func TestElectricityTruncatesSeconds(t *testing.T) {
	samples := []powerSample{
		{amps: 1, volts: 100, at: time.Unix(0, 0)},
		{amps: 1, volts: 100, at: time.Unix(1, 900_000_000)},
		{amps: 5, volts: 100, at: time.Unix(2, 0)},
	}
	// 1.9s -> 1s, 0.1s -> 0s; the last sample only closes the interval
	want := 100.0 / 3_600_000
	if got := integrate(samples); math.Abs(got-want) > 1e-12 {
		t.Fatalf("integrate = %v, want %v", got, want)
	}
	if integrate(samples[:1]) != 0 || integrate(nil) != 0 {
		t.Fatalf("fewer than two samples must integrate to 0")
	}
}

func TestElectricityIsolatesDeviceErrors(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &memSource{
		docs: []model.Document{
			reading("board-f1", t0, f1Current, 2.6, f1Voltage, 120.0),
			reading("board-f1", t0.Add(10*time.Second), f1Current, 2.6, f1Voltage, "oops"),
			reading("board-f1", t0.Add(20*time.Second), f1Current, 2.6, f1Voltage, 120.0),
			reading("board-f2", t0, f2Current, 2.6, f2Voltage, 120.0),
			reading("board-f2", t0.Add(3600*time.Second), f2Current, 2.6, f2Voltage, 120.0),
		},
	}
	res, err := newTestEngine(src).Electricity(context.Background())
	if err != nil {
		t.Fatalf("Electricity: %v", err)
	}
	var spe *SampleParseError
	if res[0].KWh != 0 || !errors.As(res[0].Err, &spe) {
		t.Fatalf("SmartFridge1 = %+v, want 0 kWh with parse error", res[0])
	}
	if math.Abs(res[1].KWh-0.12) > 1e-9 || res[1].Err != nil {
		t.Fatalf("SmartFridge2 = %+v, want 0.12 kWh", res[1])
	}
	if res[2].KWh != 0 || res[2].Err != nil {
		t.Fatalf("dishwasher = %+v, want 0 kWh without error", res[2])
	}
}

func TestElectricityFetchFailureFailsQuery(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &memSource{
		docs: []model.Document{
			reading("board-f1", t0, f1Current, 2.6, f1Voltage, 120.0),
			reading("board-f1", t0.Add(time.Hour), f1Current, 2.6, f1Voltage, 120.0),
		},
		failFor: map[string]error{"board-dw": errors.New("connection reset")},
	}
	res, err := newTestEngine(src).Electricity(context.Background())
	if err == nil || res != nil {
		t.Fatalf("Electricity = %v, %v; want fetch error", res, err)
	}
	if !strings.Contains(err.Error(), "dishwasher") || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("err = %v", err)
	}
}

func TestElectricityBreakerOpenFailsQuery(t *testing.T) {
	down := errors.New("server selection timeout")
	inner := &memSource{failFor: map[string]error{"board-f1": down, "board-f2": down, "board-dw": down}}
	br := readings.NewBreakerSource("test", inner, 1, time.Minute)
	e := newTestEngine(br)

	if _, err := e.Electricity(context.Background()); !errors.Is(err, down) {
		t.Fatalf("first call err = %v, want %v", err, down)
	}
	if br.State() != gobreaker.StateOpen {
		t.Fatalf("breaker = %s, want open", br.State())
	}
	res, err := e.Electricity(context.Background())
	if !errors.Is(err, gobreaker.ErrOpenState) || res != nil {
		t.Fatalf("Electricity = %v, %v; want ErrOpenState", res, err)
	}
}

func TestElectricityExcludesIncompleteDevices(t *testing.T) {
	idx, err := model.NewIndex([]model.Entry{
		{DeviceName: "fridge", Role: model.RoleCurrent, BoardName: "b1", SensorField: "c"},
		{DeviceName: "fridge", Role: model.RoleMoisture, BoardName: "b1", SensorField: "m"},
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	e, err := NewEngine(idx, &memSource{}, DefaultSettings())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	res, err := e.Electricity(context.Background())
	if err != nil || len(res) != 0 {
		t.Fatalf("Electricity = %v, %v; want no devices", res, err)
	}
}

func TestElectricityCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &memSource{failFor: map[string]error{"board-f1": context.Canceled}}
	if _, err := newTestEngine(src).Electricity(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestHighestConsumerFirstMaximum(t *testing.T) {
	best, ok := HighestConsumer([]DeviceEnergy{{Device: "a", KWh: 1}, {Device: "b", KWh: 2}, {Device: "c", KWh: 2}})
	if !ok || best.Device != "b" {
		t.Fatalf("best = %+v", best)
	}
	if _, ok := HighestConsumer(nil); ok {
		t.Fatalf("empty input reported a consumer")
	}
}

func TestParseValue(t *testing.T) {
	good := map[any]float64{
		1.5:        1.5,
		float32(2): 2,
		int64(-3):  -3,
		uint8(4):   4,
		" 5.25 ":   5.25,
	}
	for in, want := range good {
		got, err := ParseValue(in)
		if err != nil || got != want {
			t.Errorf("ParseValue(%#v) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, in := range []any{nil, "", "abc", true, []byte("1"), map[string]any{}} {
		if _, err := ParseValue(in); err == nil {
			t.Errorf("ParseValue(%#v) succeeded", in)
		}
	}
}
