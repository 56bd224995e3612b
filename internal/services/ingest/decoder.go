package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

var errEmptyPayload = errors.New("telemetry without payload values")

// BoardFromTopic returns the last segment of "telemetry/<board>".
func BoardFromTopic(topic string) string {
	i := strings.LastIndex(topic, "/")
	if i < 0 || i == len(topic)-1 {
		return ""
	}
	return topic[i+1:]
}

// Decode turns a telemetry message into a stored reading document. The board
// comes from the payload when present, otherwise from the topic; a message
// without time is stamped with now.
func Decode(topic string, body []byte, boardField string, now time.Time) (model.Document, error) {
	var t model.Telemetry
	if err := json.Unmarshal(body, &t); err != nil {
		return model.Document{}, fmt.Errorf("invalid JSON on %s: %w", topic, err)
	}
	if len(t.Payload) == 0 {
		return model.Document{}, errEmptyPayload
	}

	board, _ := t.Payload[boardField].(string)
	if strings.TrimSpace(board) == "" {
		board = BoardFromTopic(topic)
		if board == "" {
			return model.Document{}, fmt.Errorf("no %s in payload or topic %q", boardField, topic)
		}
		t.Payload[boardField] = board
	}
	if t.Time.IsZero() {
		t.Time = now
	}
	return model.Document{Time: t.Time.UTC(), Payload: t.Payload}, nil
}
