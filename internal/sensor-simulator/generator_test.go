package sensor_simulator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
	"github.com/LeonardoBeccarini/iot_query/internal/model/messages"
)

func testIndex(t *testing.T) *model.Index {
	t.Helper()
	idx, err := model.NewIndex([]model.Entry{
		{DeviceName: "SmartFridge1", Role: model.RoleMoisture, BoardName: "board-f1", SensorField: "fridge1_moist_AM2320"},
		{DeviceName: "SmartFridge1", Role: model.RoleCurrent, BoardName: "board-f1", SensorField: "fridge1_current_ACS712"},
		{DeviceName: "SmartFridge1", Role: model.RoleVoltage, BoardName: "board-f1", SensorField: "fridge1_voltage_ZMPT101B"},
		{DeviceName: "dishwasher", Role: model.RoleWater, BoardName: "board-dw", SensorField: "dish_water_YF-S201"},
		{DeviceName: "dishwasher", Role: model.RoleCurrent, BoardName: "board-dw", SensorField: "dish_current_ACS712"},
	})
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx
}

func TestPlanFromIndex(t *testing.T) {
	plans := PlanFromIndex(testIndex(t))
	if len(plans) != 2 || plans[0].Board != "board-f1" || plans[1].Board != "board-dw" {
		t.Fatalf("plans = %+v", plans)
	}
	if len(plans[0].Fields) != 3 || plans[1].Fields[model.RoleWater] != "dish_water_YF-S201" {
		t.Fatalf("fields = %+v / %+v", plans[0].Fields, plans[1].Fields)
	}
}

func TestPlanCoversIndexBoards(t *testing.T) {
	idx := testIndex(t)
	boards := idx.Boards()
	if len(boards) != 2 || boards[0] != "board-dw" || boards[1] != "board-f1" {
		t.Fatalf("Boards = %v, want sorted distinct boards", boards)
	}
	planned := map[string]bool{}
	for _, p := range PlanFromIndex(idx) {
		planned[p.Board] = true
	}
	for _, b := range boards {
		if !planned[b] {
			t.Fatalf("board %s has no plan", b)
		}
	}
}

func TestBoardGeneratorRanges(t *testing.T) {
	plans := PlanFromIndex(testIndex(t))
	g := NewBoardGenerator(plans[0], 42)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 500; i++ {
		p := g.Next(now, "board_name")
		now = now.Add(time.Minute)

		if p["board_name"] != "board-f1" {
			t.Fatalf("board = %v", p["board_name"])
		}
		if m := p["fridge1_moist_AM2320"].(float64); m < moistMin || m > moistMax {
			t.Fatalf("moisture %v out of range", m)
		}
		// ACS712 output stays near its baseline for a fridge load
		if v := p["fridge1_current_ACS712"].(float64); v < 2.3 || v > 2.8 {
			t.Fatalf("current sensor voltage %v", v)
		}
		if v := p["fridge1_voltage_ZMPT101B"].(float64); v < 100 || v > 140 {
			t.Fatalf("mains voltage %v", v)
		}
	}
}

func TestDishwasherCycles(t *testing.T) {
	plans := PlanFromIndex(testIndex(t))
	g := NewBoardGenerator(plans[1], 7)
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	var on, off int
	for i := 0; i < 24*60; i++ {
		p := g.Next(now, "board_name")
		now = now.Add(time.Minute)
		if p["dish_water_YF-S201"].(float64) > 0 {
			on++
		} else {
			off++
		}
	}
	if on == 0 || off == 0 {
		t.Fatalf("no on/off cycling: on=%d off=%d", on, off)
	}
}

type capturePublisher struct {
	topics []string
	bodies [][]byte
}

func (c *capturePublisher) Publish(topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.topics = append(c.topics, topic)
	c.bodies = append(c.bodies, b)
	return nil
}

func TestSimulatorTick(t *testing.T) {
	pub := &capturePublisher{}
	sim := NewSimulator(PlanFromIndex(testIndex(t)), pub, "telemetry", "board_name")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sim.now = func() time.Time { return at }
	sim.Tick()

	if len(pub.topics) != 2 || pub.topics[0] != "telemetry/board-f1" || pub.topics[1] != "telemetry/board-dw" {
		t.Fatalf("topics = %v", pub.topics)
	}
	var msg messages.Telemetry
	if err := json.Unmarshal(pub.bodies[1], &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !msg.Time.Equal(at) || msg.Payload["board_name"] != "board-dw" {
		t.Fatalf("message = %+v", msg)
	}
}
