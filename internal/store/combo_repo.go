package store

import (
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalforge/internal/core"
)

// ComboRepository persists mined combinations and serves filter lookups.
type ComboRepository struct {
	db *gorm.DB
}

func NewComboRepository(db *gorm.DB) *ComboRepository {
	return &ComboRepository{db: db}
}

// UpsertTFCombo inserts or refreshes a same-timeframe combo keyed by
// (signalNameHash, timeframe).
func (r *ComboRepository) UpsertTFCombo(combo core.TFCombo) error {
	sorted := make([]string, len(combo.SignalNames))
	copy(sorted, combo.SignalNames)
	sort.Strings(sorted)

	record := TFComboRecord{
		SignalNameHash:     combo.Hash(),
		Timeframe:          string(combo.Timeframe),
		SignalNames:        strings.Join(sorted, "+"),
		Accuracy:           combo.Accuracy,
		SampleCount:        combo.SampleCount,
		CorrectPredictions: combo.CorrectPredictions,
		AvgPriceChange:     combo.AvgPriceChange,
		ProfitFactor:       combo.ProfitFactor,
		ComboSize:          combo.ComboSize,
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "signal_name_hash"}, {Name: "timeframe"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"accuracy", "sample_count", "correct_predictions",
			"avg_price_change", "profit_factor",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert tf combo: %w", err)
	}
	return nil
}

// UpsertCrossTFCombo inserts or refreshes a cross-timeframe combo keyed by
// its signature hash.
func (r *ComboRepository) UpsertCrossTFCombo(combo core.CrossTFCombo) error {
	record := CrossTFComboRecord{
		SignatureHash:      core.SignatureHash(combo.Signature),
		ComboSignature:     combo.Signature,
		Timeframes:         strings.Join(combo.Timeframes, ","),
		SignalNames:        strings.Join(combo.SignalNames, ","),
		Accuracy:           combo.Accuracy,
		SampleCount:        combo.SampleCount,
		CorrectPredictions: combo.CorrectPredictions,
		AvgPriceChange:     combo.AvgPriceChange,
		ProfitFactor:       combo.ProfitFactor,
		ComboSize:          combo.ComboSize,
		NumTimeframes:      combo.NumTimeframes,
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "signature_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"accuracy", "sample_count", "correct_predictions",
			"avg_price_change", "profit_factor",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert cross-tf combo: %w", err)
	}
	return nil
}

// HasWinningComboWith reports whether any combo on the timeframe with
// accuracy >= minAccuracy contains signalName as a member substring. Used by
// the signal filter's winning-combo rule.
func (r *ComboRepository) HasWinningComboWith(signalName string, timeframe core.Timeframe, minAccuracy float64) (bool, error) {
	var count int64
	err := r.db.Model(&TFComboRecord{}).
		Where("timeframe = ? AND accuracy >= ?", string(timeframe), minAccuracy).
		Where("signal_names LIKE ?", "%"+signalName+"%").
		Limit(1).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to probe winning combos: %w", err)
	}
	return count > 0, nil
}

// ListTFCombos returns the mined combos of a timeframe, best first.
func (r *ComboRepository) ListTFCombos(timeframe core.Timeframe, limit int) ([]core.TFCombo, error) {
	query := r.db.Model(&TFComboRecord{}).
		Where("timeframe = ?", string(timeframe)).
		Order("accuracy DESC, sample_count DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []TFComboRecord
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tf combos: %w", err)
	}

	combos := make([]core.TFCombo, 0, len(rows))
	for _, row := range rows {
		combos = append(combos, core.TFCombo{
			ID:                 row.ID,
			SignalNames:        strings.Split(row.SignalNames, "+"),
			Timeframe:          core.Timeframe(row.Timeframe),
			Accuracy:           row.Accuracy,
			SampleCount:        row.SampleCount,
			CorrectPredictions: row.CorrectPredictions,
			AvgPriceChange:     row.AvgPriceChange,
			ProfitFactor:       row.ProfitFactor,
			ComboSize:          row.ComboSize,
			DiscoveredAt:       row.DiscoveredAt,
		})
	}
	return combos, nil
}

// ConfidenceRepository upserts per-signal confidence adjustments.
type ConfidenceRepository struct {
	db *gorm.DB
}

func NewConfidenceRepository(db *gorm.DB) *ConfidenceRepository {
	return &ConfidenceRepository{db: db}
}

// Upsert writes the single adjustment row of (signalName, timeframe).
func (r *ConfidenceRepository) Upsert(adj core.ConfidenceAdjustment) error {
	record := ConfidenceAdjustmentRecord{
		SignalName:         adj.SignalName,
		Timeframe:          string(adj.Timeframe),
		OriginalConfidence: adj.OriginalConfidence,
		AdjustedConfidence: adj.AdjustedConfidence,
		AccuracyRate:       adj.AccuracyRate,
		SampleSize:         adj.SampleSize,
	}

	err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "signal_name"}, {Name: "timeframe"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"original_confidence", "adjusted_confidence", "accuracy_rate", "sample_size",
		}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("failed to upsert confidence adjustment: %w", err)
	}
	return nil
}
