package readings

import (
	"context"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

// Query selects the documents of one board that carry a given payload field.
// Range is optional (nil = no time restriction, bounds inclusive). Ascending
// asks for chronological order; without it the order is whatever the store
// returns.
type Query struct {
	Board     string
	Field     string
	Range     *model.TimeRange
	Ascending bool
}

// Source is a queryable reading store. Zero matches yield an empty cursor,
// not an error.
type Source interface {
	Fetch(ctx context.Context, q Query) (Cursor, error)
}

// Cursor iterates lazily over fetched documents.
type Cursor interface {
	Next(ctx context.Context) bool
	Document() model.Document
	Err() error
	Close(ctx context.Context) error
}

// Pinger is implemented by sources that can check connectivity (used by /readyz).
type Pinger interface {
	Ping(ctx context.Context) error
}

// SliceCursor serves documents already in memory.
type SliceCursor struct {
	docs []model.Document
	pos  int
	cur  model.Document
}

func NewSliceCursor(docs []model.Document) *SliceCursor {
	return &SliceCursor{docs: docs}
}

func (c *SliceCursor) Next(_ context.Context) bool {
	if c.pos >= len(c.docs) {
		return false
	}
	c.cur = c.docs[c.pos]
	c.pos++
	return true
}

func (c *SliceCursor) Document() model.Document      { return c.cur }
func (c *SliceCursor) Err() error                    { return nil }
func (c *SliceCursor) Close(_ context.Context) error { return nil }

// Collect drains a cursor into a slice and closes it.
func Collect(ctx context.Context, cur Cursor) ([]model.Document, error) {
	defer cur.Close(ctx)
	var out []model.Document
	for cur.Next(ctx) {
		out = append(out, cur.Document())
	}
	return out, cur.Err()
}

// Matches applies the Query filter to a single document in memory.
func Matches(q Query, boardField string, d model.Document) bool {
	if d.Payload == nil {
		return false
	}
	if b, ok := d.Payload[boardField]; !ok || b != q.Board {
		return false
	}
	if _, ok := d.Payload[q.Field]; !ok {
		return false
	}
	if q.Range != nil && !q.Range.Contains(d.Time) {
		return false
	}
	return true
}
