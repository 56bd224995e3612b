package ingest

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
	"github.com/LeonardoBeccarini/iot_query/internal/readings"
	"github.com/LeonardoBeccarini/iot_query/pkg/dedup"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type memSink struct {
	docs []model.Document
	err  error
}

func (s *memSink) Append(_ context.Context, d model.Document) error {
	if s.err != nil {
		return s.err
	}
	s.docs = append(s.docs, d)
	return nil
}

func (s *memSink) Ping(context.Context) error { return s.err }

func TestHandleStoresAndDeduplicates(t *testing.T) {
	sink := &memSink{}
	reg := prometheus.NewRegistry()
	svc := NewService(sink, dedup.New(time.Minute, 100), "board_name", time.Second, reg)

	msg := fakeMessage{topic: "telemetry/board-f1", payload: []byte(`{"time":"2024-05-01T10:00:00Z","payload":{"fridge1_moist_AM2320":40}}`)}
	for i := 0; i < 2; i++ {
		if err := svc.Handle(msg.Topic(), msg); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	if err := svc.Handle("telemetry/x", fakeMessage{topic: "telemetry/x", payload: []byte("garbage")}); err != nil {
		t.Fatalf("invalid messages must not fail the stream: %v", err)
	}

	if len(sink.docs) != 1 {
		t.Fatalf("stored %d documents, want 1", len(sink.docs))
	}
	if sink.docs[0].Payload["board_name"] != "board-f1" {
		t.Fatalf("stored payload %v", sink.docs[0].Payload)
	}
	for outcome, want := range map[string]float64{"stored": 1, "duplicate": 1, "invalid": 1} {
		if got := testutil.ToFloat64(svc.messages.WithLabelValues(outcome)); got != want {
			t.Errorf("%s = %v, want %v", outcome, got, want)
		}
	}
}

func TestHandleStoreFailure(t *testing.T) {
	sink := &memSink{err: errors.New("disk full")}
	svc := NewService(sink, nil, "board_name", 0, nil)
	msg := fakeMessage{topic: "telemetry/b", payload: []byte(`{"payload":{"v":1}}`)}
	if err := svc.Handle(msg.Topic(), msg); err == nil {
		t.Fatal("expected store error")
	}
	if svc.LastErrorAge() > time.Minute {
		t.Fatalf("write error not recorded")
	}
}

func TestHandleRedeliveryAfterStoreFailure(t *testing.T) {
	sink := &memSink{err: errors.New("server selection timeout")}
	reg := prometheus.NewRegistry()
	svc := NewService(sink, dedup.New(time.Minute, 100), "board_name", time.Second, reg)
	msg := fakeMessage{topic: "telemetry/board-dw", payload: []byte(`{"time":"2024-05-01T10:00:00Z","payload":{"dish_water_YF-S201":3}}`)}

	if err := svc.Handle(msg.Topic(), msg); err == nil {
		t.Fatal("expected store error")
	}
	sink.err = nil
	if err := svc.Handle(msg.Topic(), msg); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if len(sink.docs) != 1 {
		t.Fatalf("stored %d documents, want 1", len(sink.docs))
	}
	if got := testutil.ToFloat64(svc.messages.WithLabelValues("duplicate")); got != 0 {
		t.Fatalf("redelivery counted as duplicate %v times", got)
	}
	// once stored, a further copy is a duplicate again
	if err := svc.Handle(msg.Topic(), msg); err != nil || len(sink.docs) != 1 {
		t.Fatalf("third delivery: err %v, %d documents", err, len(sink.docs))
	}
}

func TestHandleIntoLocalStore(t *testing.T) {
	st, err := readings.OpenLocalStore(t.TempDir(), 2, "board_name")
	if err != nil {
		t.Fatalf("OpenLocalStore: %v", err)
	}
	defer st.Close()
	svc := NewService(st, nil, "board_name", time.Second, nil)

	for i, v := range []string{"2.6", "2.7"} {
		body := `{"time":"2024-05-01T10:00:0` + string(rune('0'+i)) + `Z","payload":{"dish_current_ACS712":"` + v + `","dish_voltage_ZMPT101B":"120"}}`
		if err := svc.Handle("telemetry/board-dw", fakeMessage{topic: "telemetry/board-dw", payload: []byte(body)}); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}
	cur, err := st.Fetch(context.Background(), readings.Query{Board: "board-dw", Field: "dish_voltage_ZMPT101B", Ascending: true})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	docs, err := readings.Collect(context.Background(), cur)
	if err != nil || len(docs) != 2 {
		t.Fatalf("fetched %d documents (%v), want 2", len(docs), err)
	}
	if docs[0].Payload["dish_current_ACS712"] != "2.6" {
		t.Fatalf("first document %v", docs[0].Payload)
	}
}

type conn bool

func (c conn) IsConnectionOpen() bool { return bool(c) }

func TestRouterReadiness(t *testing.T) {
	reg := prometheus.NewRegistry()
	ok := NewService(&memSink{}, nil, "board_name", 0, reg)
	cases := []struct {
		name string
		conn Connection
		sink *memSink
		code int
	}{
		{"ready", conn(true), &memSink{}, http.StatusOK},
		{"mqtt down", conn(false), &memSink{}, http.StatusServiceUnavailable},
		{"store down", conn(true), &memSink{err: errors.New("closed")}, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		Router(c.conn, c.sink, ok, reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		if rec.Code != c.code {
			t.Errorf("%s: status %d, want %d", c.name, rec.Code, c.code)
		}
	}

	rec := httptest.NewRecorder()
	Router(conn(true), &memSink{}, ok, reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz body %q", rec.Body.String())
	}
}
