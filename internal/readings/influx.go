package readings

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

// InfluxSource stores each document as one point: the board identifier is a
// tag, every other payload entry a field. Fetch pivots fields back into rows
// so one row is one document again.
type InfluxSource struct {
	client      influxdb2.Client
	query       api.QueryAPI
	write       api.WriteAPIBlocking
	bucket      string
	measurement string
	boardField  string
}

func NewInfluxSource(client influxdb2.Client, org, bucket, measurement, boardField string) *InfluxSource {
	return &InfluxSource{
		client:      client,
		query:       client.QueryAPI(org),
		write:       client.WriteAPIBlocking(org, bucket),
		bucket:      bucket,
		measurement: measurement,
		boardField:  boardField,
	}
}

// BuildFlux renders the Flux query for q.
func BuildFlux(bucket, measurement, boardField string, q Query) string {
	start, stop := "0", "now()"
	if q.Range != nil {
		start = q.Range.Start.UTC().Format(time.RFC3339Nano)
		// range() esclude stop: +1ns rende il limite superiore inclusivo
		stop = q.Range.End.Add(time.Nanosecond).UTC().Format(time.RFC3339Nano)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %q)\n", bucket)
	fmt.Fprintf(&b, "  |> range(start: %s, stop: %s)\n", start, stop)
	fmt.Fprintf(&b, "  |> filter(fn: (r) => r._measurement == %q and r[%q] == %q)\n", measurement, boardField, q.Board)
	b.WriteString("  |> pivot(rowKey: [\"_time\"], columnKey: [\"_field\"], valueColumn: \"_value\")\n")
	fmt.Fprintf(&b, "  |> filter(fn: (r) => exists r[%q])\n", q.Field)
	if q.Ascending {
		b.WriteString("  |> sort(columns: [\"_time\"])\n")
	}
	return b.String()
}

func (s *InfluxSource) Fetch(ctx context.Context, q Query) (Cursor, error) {
	res, err := s.query.Query(ctx, BuildFlux(s.bucket, s.measurement, s.boardField, q))
	if err != nil {
		return nil, fmt.Errorf("influx query board=%s field=%s: %w", q.Board, q.Field, err)
	}
	return &influxCursor{res: res}, nil
}

func (s *InfluxSource) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("influx not reachable")
	}
	return nil
}

// Append writes one document as a point.
func (s *InfluxSource) Append(ctx context.Context, d model.Document) error {
	p, err := DocumentToPoint(s.measurement, s.boardField, d)
	if err != nil {
		return err
	}
	return s.write.WritePoint(ctx, p)
}

// DocumentToPoint normalizza un Document in un *write.Point.
func DocumentToPoint(measurement, boardField string, d model.Document) (*write.Point, error) {
	board, ok := d.Payload[boardField].(string)
	if !ok || board == "" {
		return nil, fmt.Errorf("document without %s", boardField)
	}
	fields := make(map[string]interface{}, len(d.Payload))
	for k, v := range d.Payload {
		if k == boardField || v == nil {
			continue
		}
		fields[k] = v
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("document for board %s has no values", board)
	}
	return influxdb2.NewPoint(measurement, map[string]string{boardField: board}, fields, d.Time), nil
}

// colonne di servizio che non fanno parte del payload
var influxMeta = map[string]struct{}{
	"result": {}, "table": {}, "_start": {}, "_stop": {}, "_time": {}, "_measurement": {},
}

type influxCursor struct {
	res *api.QueryTableResult
	doc model.Document
}

func (c *influxCursor) Next(_ context.Context) bool {
	if !c.res.Next() {
		return false
	}
	rec := c.res.Record()
	payload := make(map[string]any, len(rec.Values()))
	for k, v := range rec.Values() {
		if _, skip := influxMeta[k]; skip || v == nil {
			continue
		}
		payload[k] = v
	}
	c.doc = model.Document{Time: rec.Time(), Payload: payload}
	return true
}

func (c *influxCursor) Document() model.Document      { return c.doc }
func (c *influxCursor) Err() error                    { return c.res.Err() }
func (c *influxCursor) Close(_ context.Context) error { return c.res.Close() }
