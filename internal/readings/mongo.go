package readings

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

// MongoSource reads documents shaped {time, payload:{board_name, <sensor>...}}.
type MongoSource struct {
	coll       *mongo.Collection
	boardField string
}

func NewMongoSource(coll *mongo.Collection, boardField string) *MongoSource {
	return &MongoSource{coll: coll, boardField: boardField}
}

// MongoFilter builds the store filter: board equality, field existence and
// the optional inclusive time range.
func MongoFilter(q Query, boardField string) bson.M {
	filter := bson.M{
		"payload." + boardField: q.Board,
		"payload." + q.Field:    bson.M{"$exists": true},
	}
	if q.Range != nil {
		filter["time"] = bson.M{"$gte": q.Range.Start, "$lte": q.Range.End}
	}
	return filter
}

// MongoFindOptions requests ascending time order only when asked.
func MongoFindOptions(q Query) *options.FindOptions {
	opts := options.Find()
	if q.Ascending {
		opts.SetSort(bson.D{{Key: "time", Value: 1}})
	}
	return opts
}

func (s *MongoSource) Fetch(ctx context.Context, q Query) (Cursor, error) {
	cur, err := s.coll.Find(ctx, MongoFilter(q, s.boardField), MongoFindOptions(q))
	if err != nil {
		return nil, fmt.Errorf("mongo find board=%s field=%s: %w", q.Board, q.Field, err)
	}
	return &mongoCursor{cur: cur}, nil
}

func (s *MongoSource) Ping(ctx context.Context) error {
	return s.coll.Database().Client().Ping(ctx, readpref.Primary())
}

// Append inserts one document; used by the ingest bridge.
func (s *MongoSource) Append(ctx context.Context, d model.Document) error {
	if _, err := s.coll.InsertOne(ctx, d); err != nil {
		return fmt.Errorf("mongo insert: %w", err)
	}
	return nil
}

type mongoCursor struct {
	cur *mongo.Cursor
	doc model.Document
	err error
}

func (c *mongoCursor) Next(ctx context.Context) bool {
	if c.err != nil || !c.cur.Next(ctx) {
		return false
	}
	var raw struct {
		Time    primitive.DateTime `bson:"time"`
		Payload bson.M             `bson:"payload"`
	}
	if err := c.cur.Decode(&raw); err != nil {
		c.err = fmt.Errorf("mongo decode: %w", err)
		return false
	}
	c.doc = model.Document{Time: raw.Time.Time(), Payload: map[string]any(raw.Payload)}
	return true
}

func (c *mongoCursor) Document() model.Document { return c.doc }

func (c *mongoCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cur.Err()
}

func (c *mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
