package events

import (
	"fmt"
	"time"

	"signalforge/internal/core"
)

// Event is the common shape of everything published to the monitoring feed.
type Event interface {
	GetEventType() string
	GetTimestamp() time.Time
}

// FactCheckEvent announces one persisted fact-check outcome.
type FactCheckEvent struct {
	Type             string    `json:"type"`
	SignalName       string    `json:"signal_name"`
	Timeframe        string    `json:"timeframe"`
	DetectedAt       time.Time `json:"detected_at"`
	PredictedCorrect bool      `json:"predicted_correctly"`
	PriceChangePct   float64   `json:"price_change_pct"`
	ExitReason       string    `json:"exit_reason"`
	Timestamp        time.Time `json:"timestamp"`
}

// NewFactCheckEvent builds the event for a persisted record.
func NewFactCheckEvent(fc core.FactCheck) FactCheckEvent {
	return FactCheckEvent{
		Type:             "fact_check",
		SignalName:       fc.SignalName,
		Timeframe:        string(fc.Timeframe),
		DetectedAt:       fc.DetectedAt,
		PredictedCorrect: fc.PredictedCorrect,
		PriceChangePct:   fc.PriceChangePct,
		ExitReason:       fc.ExitReason,
		Timestamp:        time.Now().UTC(),
	}
}

func (e FactCheckEvent) GetEventType() string    { return e.Type }
func (e FactCheckEvent) GetTimestamp() time.Time { return e.Timestamp }

// PassSummaryEvent announces the aggregate outcome of a bulk pass.
type PassSummaryEvent struct {
	Type         string        `json:"type"`
	TotalChecked int           `json:"total_checked"`
	Correct      int           `json:"correct"`
	StoppedOut   int           `json:"stopped_out"`
	Accuracy     float64       `json:"accuracy"`
	ProfitFactor float64       `json:"profit_factor"`
	Elapsed      time.Duration `json:"elapsed"`
	Cancelled    bool          `json:"cancelled"`
	Timestamp    time.Time     `json:"timestamp"`
}

func (e PassSummaryEvent) GetEventType() string    { return e.Type }
func (e PassSummaryEvent) GetTimestamp() time.Time { return e.Timestamp }

// ComboEvent announces a mined combination that cleared the thresholds.
type ComboEvent struct {
	Type      string    `json:"type"`
	Signature string    `json:"signature"`
	Timeframe string    `json:"timeframe,omitempty"`
	Accuracy  float64   `json:"accuracy"`
	Samples   int       `json:"samples"`
	Timestamp time.Time `json:"timestamp"`
}

func (e ComboEvent) GetEventType() string    { return e.Type }
func (e ComboEvent) GetTimestamp() time.Time { return e.Timestamp }

// Channel names for the Redis feed.
const (
	ChannelFactChecks = "signalforge:fact_checks"
	ChannelPasses     = "signalforge:passes"
	ChannelCombos     = "signalforge:combos"
)

// AvailabilityKey is the Redis key mirroring the on-disk availability
// snapshot.
func AvailabilityKey() string {
	return "signalforge:availability"
}

// ChannelFor routes an event to its channel by type.
func ChannelFor(event Event) string {
	switch event.GetEventType() {
	case "fact_check":
		return ChannelFactChecks
	case "pass_summary":
		return ChannelPasses
	case "combo":
		return ChannelCombos
	default:
		return fmt.Sprintf("signalforge:%s", event.GetEventType())
	}
}
