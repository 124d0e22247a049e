package store

import (
	"fmt"

	"gorm.io/gorm"

	"signalforge/internal/core"
)

// SignalRepository reads signal definitions and pending live signals.
type SignalRepository struct {
	db *gorm.DB
}

func NewSignalRepository(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

// BaseConfidence returns the configured default confidence for a signal name,
// or fallback when the definition is unknown.
func (r *SignalRepository) BaseConfidence(signalName string, timeframe core.Timeframe, fallback float64) float64 {
	var def SignalDefinition
	err := r.db.
		Where("signal_name = ? AND timeframe = ?", signalName, string(timeframe)).
		First(&def).Error
	if err != nil {
		return fallback
	}
	if def.BaseConfidence <= 0 {
		return fallback
	}
	return def.BaseConfidence
}

// ValidationWindow returns the configured forward-candle window for a signal,
// or fallback when the definition is unknown.
func (r *SignalRepository) ValidationWindow(signalName string, timeframe core.Timeframe, fallback int) int {
	var def SignalDefinition
	err := r.db.
		Where("signal_name = ? AND timeframe = ?", signalName, string(timeframe)).
		First(&def).Error
	if err != nil || def.ValidationWindow <= 0 {
		return fallback
	}
	return def.ValidationWindow
}

// UncheckedQuery filters the pending-signal scan.
type UncheckedQuery struct {
	Symbol string // optional
	Limit  int    // optional
}

// FindUnchecked returns live signals with no corresponding fact-check record
// (anti-join on signalName, timeframe, detectedAt = signal timestamp),
// ascending by detection time with id as the deterministic tiebreak.
func (r *SignalRepository) FindUnchecked(q UncheckedQuery) ([]core.Signal, error) {
	query := r.db.Model(&LiveSignal{}).
		Where(`NOT EXISTS (
			SELECT 1 FROM signal_fact_checks fc
			WHERE fc.signal_name = live_signals.signal_name
			  AND fc.timeframe = live_signals.timeframe
			  AND fc.detected_at = live_signals.timestamp
		)`)

	if q.Symbol != "" {
		query = query.Where("symbol = ?", q.Symbol)
	}
	query = query.Order("timestamp ASC, id ASC")
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var rows []LiveSignal
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query unchecked signals: %w", err)
	}

	signals := make([]core.Signal, 0, len(rows))
	for _, row := range rows {
		signals = append(signals, core.Signal{
			ID:         row.ID,
			Symbol:     row.Symbol,
			Timeframe:  core.Timeframe(row.Timeframe),
			Name:       row.SignalName,
			Type:       core.SignalType(row.SignalType),
			Strength:   core.SignalStrength(row.Strength),
			Confidence: row.Confidence,
			Value:      row.SignalValue,
			Price:      row.Price,
			DetectedAt: row.Timestamp,
		})
	}
	return signals, nil
}
