package store

import (
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"signalforge/internal/core"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to create gorm DB: %v", err)
	}

	return gormDB, mock
}

func TestFactCheckInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFactCheckRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `signal_fact_checks`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Insert(core.FactCheck{
		SignalName:       "rsi_oversold",
		Timeframe:        core.TF1h,
		DetectedAt:       time.Unix(1700000000, 0),
		PriceAtDetection: 100,
		ActualMove:       core.MoveUp,
		PredictedCorrect: true,
		PriceChangePct:   1.2,
		ExitReason:       core.ExitProfitTarget,
		CandlesElapsed:   9,
		ValidationWindow: 10,
		CheckedAt:        time.Now(),
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFactCheckInsertDuplicateIgnored(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFactCheckRepository(db)

	// The duplicate-tolerant insert reports zero affected rows for an
	// existing identity; the repo treats that as success.
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `signal_fact_checks`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Insert(core.FactCheck{
		SignalName: "rsi_oversold",
		Timeframe:  core.TF1h,
		DetectedAt: time.Unix(1700000000, 0),
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountBySignal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewFactCheckRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `signal_fact_checks`")).
		WithArgs("rsi_oversold", "1h").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := repo.CountBySignal("rsi_oversold", core.TF1h)
	require.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindUncheckedAntiJoin(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewSignalRepository(db)

	rows := sqlmock.NewRows([]string{
		"id", "signal_name", "timeframe", "symbol", "signal_type",
		"strength", "confidence", "signal_value", "price", "timestamp",
	}).AddRow(1, "rsi_oversold", "1h", "BTC", "BUY", "STRONG", 80.0, 28.5, 100.0, time.Unix(1700000000, 0))

	mock.ExpectQuery("SELECT .* FROM `live_signals` WHERE NOT EXISTS").
		WillReturnRows(rows)

	signals, err := repo.FindUnchecked(UncheckedQuery{})
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "rsi_oversold", signals[0].Name)
	assert.Equal(t, core.SignalBuy, signals[0].Type)
	assert.Equal(t, core.TF1h, signals[0].Timeframe)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConfidence(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewConfidenceRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `signal_confidence_adjustments` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Upsert(core.ConfidenceAdjustment{
		SignalName:         "rsi_oversold",
		Timeframe:          core.TF1h,
		OriginalConfidence: 70,
		AdjustedConfidence: 64,
		AccuracyRate:       58.3,
		SampleSize:         120,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTFCombo(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewComboRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `tf_combos` .* ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.UpsertTFCombo(core.TFCombo{
		SignalNames:        []string{"rsi_oversold", "macd_cross"},
		Timeframe:          core.TF1h,
		Accuracy:           72.0,
		SampleCount:        30,
		CorrectPredictions: 22,
		AvgPriceChange:     0.8,
		ProfitFactor:       1.9,
		ComboSize:          2,
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
