package store

import (
	"time"
)

// SignalDefinition is the `signals` definition table: one row per known
// signal per timeframe with its validation window and baseline quality.
type SignalDefinition struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	SignalName       string    `gorm:"size:128;uniqueIndex:idx_signal_tf;not null"`
	Timeframe        string    `gorm:"size:8;uniqueIndex:idx_signal_tf;not null"`
	Category         string    `gorm:"size:64"`
	ValidationWindow int       `gorm:"not null;default:10"`
	BaseAccuracy     float64   `gorm:"not null;default:0"`
	BaseConfidence   float64   `gorm:"not null;default:70"`
	SampleSize       int       `gorm:"not null;default:0"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
}

func (SignalDefinition) TableName() string { return "signals" }

// LiveSignal is the `live_signals` table: detected signals awaiting or
// consumed by fact-checking. Written by the external analyzers; read-only here.
type LiveSignal struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	SignalName  string    `gorm:"size:128;index;not null"`
	Timeframe   string    `gorm:"size:8;index;not null"`
	Symbol      string    `gorm:"size:32;index;not null"`
	SignalType  string    `gorm:"size:8;not null"`
	Strength    string    `gorm:"size:16;not null"`
	Confidence  float64   `gorm:"not null"`
	SignalValue float64   `gorm:"not null;default:0"`
	Price       float64   `gorm:"not null"`
	Timestamp   time.Time `gorm:"index;not null"`
}

func (LiveSignal) TableName() string { return "live_signals" }

// FactCheckRecord is the `signal_fact_checks` append-only outcome log.
// Exactly one row exists per (signalName, timeframe, detectedAt).
type FactCheckRecord struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	SignalName       string    `gorm:"size:128;uniqueIndex:idx_fact_check_identity;not null"`
	Timeframe        string    `gorm:"size:8;uniqueIndex:idx_fact_check_identity;not null"`
	DetectedAt       time.Time `gorm:"uniqueIndex:idx_fact_check_identity;index;not null"`
	PriceAtDetection float64   `gorm:"not null"`
	ActualMove       string    `gorm:"size:8;not null"`
	PredictedCorrect bool      `gorm:"not null"`
	PriceChangePct   float64   `gorm:"not null"`
	ExitReason       string    `gorm:"size:64;not null"`
	CandlesElapsed   int       `gorm:"not null"`
	ValidationWindow int       `gorm:"not null"`
	CheckedAt        time.Time `gorm:"autoCreateTime"`
}

func (FactCheckRecord) TableName() string { return "signal_fact_checks" }

// ConfidenceAdjustmentRecord is the `signal_confidence_adjustments` table:
// one row per (signalName, timeframe), upserted each aggregation pass.
type ConfidenceAdjustmentRecord struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement"`
	SignalName         string    `gorm:"size:128;uniqueIndex:idx_confidence_identity;not null"`
	Timeframe          string    `gorm:"size:8;uniqueIndex:idx_confidence_identity;not null"`
	OriginalConfidence float64   `gorm:"not null"`
	AdjustedConfidence float64   `gorm:"not null"`
	AccuracyRate       float64   `gorm:"not null"`
	SampleSize         int       `gorm:"not null"`
	LastUpdated        time.Time `gorm:"autoUpdateTime"`
}

func (ConfidenceAdjustmentRecord) TableName() string { return "signal_confidence_adjustments" }

// TFComboRecord is the `tf_combos` table: mined same-timeframe combinations,
// unique on (signalNameHash, timeframe). Re-mining an existing identity
// refreshes its statistics (UpsertTFCombo).
type TFComboRecord struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement"`
	SignalNameHash     string    `gorm:"size:32;uniqueIndex:idx_tf_combo_identity;not null"`
	Timeframe          string    `gorm:"size:8;uniqueIndex:idx_tf_combo_identity;not null"`
	SignalNames        string    `gorm:"size:512;not null;comment:sorted, plus-joined"`
	Accuracy           float64   `gorm:"not null"`
	SampleCount        int       `gorm:"not null"`
	CorrectPredictions int       `gorm:"not null"`
	AvgPriceChange     float64   `gorm:"not null"`
	ProfitFactor       float64   `gorm:"not null"`
	ComboSize          int       `gorm:"not null"`
	DiscoveredAt       time.Time `gorm:"autoCreateTime"`
}

func (TFComboRecord) TableName() string { return "tf_combos" }

// CrossTFComboRecord is the `cross_tf_combos` table: mined cross-timeframe
// combinations, unique on the signature hash. Re-mining an existing signature
// refreshes its statistics (UpsertCrossTFCombo).
type CrossTFComboRecord struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement"`
	SignatureHash      string    `gorm:"size:32;uniqueIndex;not null"`
	ComboSignature     string    `gorm:"size:512;not null"`
	Timeframes         string    `gorm:"size:128;not null;comment:comma-joined"`
	SignalNames        string    `gorm:"size:512;not null;comment:comma-joined"`
	Accuracy           float64   `gorm:"not null"`
	SampleCount        int       `gorm:"not null"`
	CorrectPredictions int       `gorm:"not null"`
	AvgPriceChange     float64   `gorm:"not null"`
	ProfitFactor       float64   `gorm:"not null"`
	ComboSize          int       `gorm:"not null"`
	NumTimeframes      int       `gorm:"not null"`
	DiscoveredAt       time.Time `gorm:"autoCreateTime"`
}

func (CrossTFComboRecord) TableName() string { return "cross_tf_combos" }
