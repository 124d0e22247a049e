package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TFCombo is a mined co-occurrence of signals within a single timeframe.
// SignalNames are stored canonically sorted; identity is the hash of the
// sorted names plus the timeframe.
type TFCombo struct {
	ID                 uint      `json:"id"`
	SignalNames        []string  `json:"signal_names"`
	Timeframe          Timeframe `json:"timeframe"`
	Accuracy           float64   `json:"accuracy"`
	SampleCount        int       `json:"sample_count"`
	CorrectPredictions int       `json:"correct_predictions"`
	AvgPriceChange     float64   `json:"avg_price_change"`
	ProfitFactor       float64   `json:"profit_factor"`
	ComboSize          int       `json:"combo_size"`
	DiscoveredAt       time.Time `json:"discovered_at"`
}

// Hash returns the unique key of the combo within its timeframe.
func (c TFCombo) Hash() string {
	return ComboHash(c.SignalNames, string(c.Timeframe))
}

// SignalPair addresses one signal on one timeframe for cross-timeframe mining.
type SignalPair struct {
	SignalName string    `json:"signal_name"`
	Timeframe  Timeframe `json:"timeframe"`
}

// Token renders the canonical "name@timeframe" form of the pair.
func (p SignalPair) Token() string {
	return p.SignalName + "@" + string(p.Timeframe)
}

// CrossTFCombo is a mined co-occurrence of signals across timeframes,
// correlated by a time window around the base pair's detections.
type CrossTFCombo struct {
	ID                 uint      `json:"id"`
	Signature          string    `json:"combo_signature"`
	Timeframes         []string  `json:"timeframes"`
	SignalNames        []string  `json:"signal_names"`
	Accuracy           float64   `json:"accuracy"`
	SampleCount        int       `json:"sample_count"`
	CorrectPredictions int       `json:"correct_predictions"`
	AvgPriceChange     float64   `json:"avg_price_change"`
	ProfitFactor       float64   `json:"profit_factor"`
	ComboSize          int       `json:"combo_size"`
	NumTimeframes      int       `json:"num_timeframes"`
	DiscoveredAt       time.Time `json:"discovered_at"`
}

// CrossComboSignature builds the canonical sorted signature of a pair set.
func CrossComboSignature(pairs []SignalPair) string {
	tokens := make([]string, 0, len(pairs))
	for _, p := range pairs {
		tokens = append(tokens, p.Token())
	}
	sort.Strings(tokens)
	return strings.Join(tokens, "+")
}

// ComboHash hashes the canonically sorted signal names plus a scope suffix
// (the timeframe, for same-TF combos). Cross-TF combos are keyed by
// SignatureHash instead.
func ComboHash(signalNames []string, scope string) string {
	sorted := make([]string, len(signalNames))
	copy(sorted, signalNames)
	sort.Strings(sorted)

	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s", strings.Join(sorted, "+"), scope)))
	return hex.EncodeToString(h[:16])
}

// SignatureHash hashes an already-canonical combo signature.
func SignatureHash(signature string) string {
	h := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(h[:16])
}
