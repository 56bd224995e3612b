package metadata

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

// LoadMongo reads every device hierarchy stored in the metadata collection.
func LoadMongo(ctx context.Context, coll *mongo.Collection) ([]model.MetadataNode, error) {
	cur, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("metadata find: %w", err)
	}
	defer cur.Close(ctx)

	var out []model.MetadataNode
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("metadata decode: %w", err)
	}
	return out, nil
}

// LoadFile reads the hierarchy from a YAML/JSON/TOML file with a top-level
// "devices" list, the same shape as the metadata collection documents.
func LoadFile(path string) ([]model.MetadataNode, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("metadata file %s: %w", path, err)
	}
	var out []model.MetadataNode
	if err := v.UnmarshalKey("devices", &out); err != nil {
		return nil, fmt.Errorf("metadata file %s: %w", path, err)
	}
	if len(out) == 0 {
		return nil, &MetadataFormatError{Reason: "no devices in " + path}
	}
	return out, nil
}
