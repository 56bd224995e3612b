package query

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/iot_query/internal/model"
)

// Recognized questions. Matching is exact and case-sensitive.
const (
	MoistureQuestion    = "What is the average moisture inside my kitchen fridge in the past three hours?"
	WaterQuestion       = "What is the average water consumption per cycle in my smart dishwasher?"
	ElectricityQuestion = "Which device consumed more electricity among my three IoT devices (two refrigerators and a dishwasher)?"
)

// Kind names a query family; it is also the wording used in error replies.
type Kind string

const (
	KindMoisture    Kind = "moisture"
	KindWater       Kind = "water consumption"
	KindElectricity Kind = "electricity consumption"
)

const (
	InvalidReply           = "Invalid query"
	noMoistureReply        = "No moisture data available for the past three hours"
	noWaterReply           = "No water consumption data available"
	noElectricityReply     = "No electricity consumption data available"
	moistureReplyFormat    = "Average moisture: %.2f%% RH\nMetadata: Device: %s, Unit: %s"
	waterReplyFormat       = "Average water consumption: %.2f gallons per minute"
	electricityLineFormat  = "%s: %.2f kWh"
	electricityReplyFormat = "Device Electricity Consumption:\n%s\n\nHighest consumer: %s with %.2f kWh"
)

var questions = map[string]Kind{
	MoistureQuestion:    KindMoisture,
	WaterQuestion:       KindWater,
	ElectricityQuestion: KindElectricity,
}

// Resolve maps query text to its Kind.
func Resolve(text string) (Kind, error) {
	if k, ok := questions[text]; ok {
		return k, nil
	}
	return "", &QueryUnrecognizedError{Text: text}
}

// Deriver is the computation side of the dispatcher; *Engine implements it.
type Deriver interface {
	AverageMoisture(ctx context.Context) (float64, model.Entry, error)
	AverageWater(ctx context.Context) (float64, error)
	Electricity(ctx context.Context) ([]DeviceEnergy, error)
}

// Dispatcher turns query text into a reply string. It never returns an
// error: every failure, panics included, becomes a reply.
type Dispatcher struct {
	eng     Deriver
	timeout time.Duration
	metrics *Metrics
}

// NewDispatcher; timeout <= 0 means queries run until the store answers.
func NewDispatcher(eng Deriver, timeout time.Duration, m *Metrics) *Dispatcher {
	return &Dispatcher{eng: eng, timeout: timeout, metrics: m}
}

func (d *Dispatcher) Dispatch(ctx context.Context, text string) (reply string) {
	start := time.Now()
	kind, err := Resolve(text)
	if err != nil {
		d.metrics.observe("unknown", "invalid", start)
		return InvalidReply
	}

	outcome := "error"
	defer func() {
		if r := recover(); r != nil {
			log.Printf("query-svc: panic while answering %s query: %v", kind, r)
			reply = fmt.Sprintf("Error processing %s query: %v", kind, r)
			outcome = "error"
		}
		d.metrics.observe(string(kind), outcome, start)
	}()

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	reply, err = d.answer(ctx, kind)
	var nd *NoDataError
	switch {
	case err == nil:
		outcome = "ok"
	case errors.As(err, &nd):
		outcome = "no_data"
	default:
		log.Printf("query-svc: %s query failed: %v", kind, err)
		reply = fmt.Sprintf("Error processing %s query: %v", kind, err)
	}
	return reply
}

// answer returns the reply and, for no-data or failures, the cause.
func (d *Dispatcher) answer(ctx context.Context, kind Kind) (string, error) {
	switch kind {
	case KindMoisture:
		avg, entry, err := d.eng.AverageMoisture(ctx)
		if err != nil {
			return noDataReply(err, noMoistureReply)
		}
		return fmt.Sprintf(moistureReplyFormat, avg, entry.BoardName, entry.Unit), nil

	case KindWater:
		avg, err := d.eng.AverageWater(ctx)
		if err != nil {
			return noDataReply(err, noWaterReply)
		}
		return fmt.Sprintf(waterReplyFormat, avg), nil

	case KindElectricity:
		results, err := d.eng.Electricity(ctx)
		if err != nil {
			return "", err
		}
		return FormatElectricity(results)
	}
	return "", fmt.Errorf("no handler for %s", kind)
}

func noDataReply(err error, msg string) (string, error) {
	var nd *NoDataError
	if errors.As(err, &nd) {
		return msg, err
	}
	return "", err
}

// FormatElectricity renders one line per device plus the highest consumer.
func FormatElectricity(results []DeviceEnergy) (string, error) {
	best, ok := HighestConsumer(results)
	if !ok {
		return noElectricityReply, &NoDataError{Role: model.RoleCurrent, Device: "any"}
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			log.Printf("query-svc: %s reported as 0 kWh: %v", r.Device, r.Err)
		}
		lines = append(lines, fmt.Sprintf(electricityLineFormat, r.Device, r.KWh))
	}
	return fmt.Sprintf(electricityReplyFormat, strings.Join(lines, "\n"), best.Device, best.KWh), nil
}
