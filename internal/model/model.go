package model

import "github.com/LeonardoBeccarini/iot_query/internal/model/messages"

// Alias per esporre tipi comuni ai servizi

type (
	Telemetry = messages.Telemetry
)
