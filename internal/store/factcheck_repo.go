package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalforge/internal/core"
)

// FactCheckRepository persists and scans the append-only outcome log.
type FactCheckRepository struct {
	db *gorm.DB
}

func NewFactCheckRepository(db *gorm.DB) *FactCheckRepository {
	return &FactCheckRepository{db: db}
}

// Insert appends one fact-check row. A duplicate on the
// (signalName, timeframe, detectedAt) identity is silently ignored; re-runs
// over already-checked history are expected.
func (r *FactCheckRepository) Insert(fc core.FactCheck) error {
	record := toFactCheckRecord(fc)
	err := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to insert fact check: %w", err)
	}
	return nil
}

// CountBySignal returns the fact-check sample size for a signal.
func (r *FactCheckRepository) CountBySignal(signalName string, timeframe core.Timeframe) (int, error) {
	var count int64
	err := r.db.Model(&FactCheckRecord{}).
		Where("signal_name = ? AND timeframe = ?", signalName, string(timeframe)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count fact checks: %w", err)
	}
	return int(count), nil
}

// ListBySignal returns every fact check for a signal. An empty timeframe
// scans across all timeframes.
func (r *FactCheckRepository) ListBySignal(signalName string, timeframe core.Timeframe) ([]core.FactCheck, error) {
	query := r.db.Model(&FactCheckRecord{}).Where("signal_name = ?", signalName)
	if timeframe != "" {
		query = query.Where("timeframe = ?", string(timeframe))
	}

	var rows []FactCheckRecord
	if err := query.Order("detected_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list fact checks: %w", err)
	}
	return fromFactCheckRecords(rows), nil
}

// ListByTimeframe returns the whole fact-check history of one timeframe,
// ascending by detection time. The same-timeframe miner groups it in memory.
func (r *FactCheckRepository) ListByTimeframe(timeframe core.Timeframe) ([]core.FactCheck, error) {
	var rows []FactCheckRecord
	err := r.db.Model(&FactCheckRecord{}).
		Where("timeframe = ?", string(timeframe)).
		Order("detected_at ASC, signal_name ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list fact checks for timeframe: %w", err)
	}
	return fromFactCheckRecords(rows), nil
}

// DistinctSignalNames returns the signal names present in the history of one
// timeframe, sorted ascending.
func (r *FactCheckRepository) DistinctSignalNames(timeframe core.Timeframe) ([]string, error) {
	var names []string
	err := r.db.Model(&FactCheckRecord{}).
		Where("timeframe = ?", string(timeframe)).
		Distinct("signal_name").
		Order("signal_name ASC").
		Pluck("signal_name", &names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct signal names: %w", err)
	}
	return names, nil
}

// DistinctPairs returns every (signalName, timeframe) pair present in the
// history, for cross-timeframe candidate enumeration.
func (r *FactCheckRepository) DistinctPairs() ([]core.SignalPair, error) {
	var rows []struct {
		SignalName string
		Timeframe  string
	}
	err := r.db.Model(&FactCheckRecord{}).
		Distinct("signal_name", "timeframe").
		Order("signal_name ASC, timeframe ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct pairs: %w", err)
	}

	pairs := make([]core.SignalPair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, core.SignalPair{
			SignalName: row.SignalName,
			Timeframe:  core.Timeframe(row.Timeframe),
		})
	}
	return pairs, nil
}

// RecentBySignal returns the latest fact checks for a pair, newest first.
func (r *FactCheckRepository) RecentBySignal(signalName string, timeframe core.Timeframe, limit int) ([]core.FactCheck, error) {
	query := r.db.Model(&FactCheckRecord{}).
		Where("signal_name = ? AND timeframe = ?", signalName, string(timeframe)).
		Order("detected_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []FactCheckRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent fact checks: %w", err)
	}
	return fromFactCheckRecords(rows), nil
}

// ExistsNear reports whether a fact check for the pair exists within the
// window around t.
func (r *FactCheckRepository) ExistsNear(signalName string, timeframe core.Timeframe, t time.Time, window time.Duration) (bool, error) {
	var count int64
	err := r.db.Model(&FactCheckRecord{}).
		Where("signal_name = ? AND timeframe = ?", signalName, string(timeframe)).
		Where("detected_at BETWEEN ? AND ?", t.Add(-window), t.Add(window)).
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to probe fact check window: %w", err)
	}
	return count > 0, nil
}

func toFactCheckRecord(fc core.FactCheck) FactCheckRecord {
	return FactCheckRecord{
		SignalName:       fc.SignalName,
		Timeframe:        string(fc.Timeframe),
		DetectedAt:       fc.DetectedAt,
		PriceAtDetection: fc.PriceAtDetection,
		ActualMove:       string(fc.ActualMove),
		PredictedCorrect: fc.PredictedCorrect,
		PriceChangePct:   fc.PriceChangePct,
		ExitReason:       fc.ExitReason,
		CandlesElapsed:   fc.CandlesElapsed,
		ValidationWindow: fc.ValidationWindow,
		CheckedAt:        fc.CheckedAt,
	}
}

func fromFactCheckRecords(rows []FactCheckRecord) []core.FactCheck {
	out := make([]core.FactCheck, 0, len(rows))
	for _, row := range rows {
		out = append(out, core.FactCheck{
			ID:               row.ID,
			SignalName:       row.SignalName,
			Timeframe:        core.Timeframe(row.Timeframe),
			DetectedAt:       row.DetectedAt,
			PriceAtDetection: row.PriceAtDetection,
			ActualMove:       core.ActualMove(row.ActualMove),
			PredictedCorrect: row.PredictedCorrect,
			PriceChangePct:   row.PriceChangePct,
			ExitReason:       row.ExitReason,
			CandlesElapsed:   row.CandlesElapsed,
			ValidationWindow: row.ValidationWindow,
			CheckedAt:        row.CheckedAt,
		})
	}
	return out
}
