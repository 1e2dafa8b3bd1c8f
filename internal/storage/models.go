package storage

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the timestamp layout used by the history file and the results log.
const TimeLayout = "2006-01-02 15:04:05"

// Observation is one normalized row combining both feeds plus its capture time.
// Fields are nullable because rows read back from storage may be incomplete.
type Observation struct {
	Timestamp    time.Time
	BTCPrice     decimal.NullDecimal
	BTCMarketCap decimal.NullDecimal
	GoldPrice    decimal.NullDecimal
	GoldChange   decimal.NullDecimal
	RunID        string
}

// Complete reports whether every numeric field holds a value.
func (o Observation) Complete() bool {
	return o.BTCPrice.Valid && o.BTCMarketCap.Valid && o.GoldPrice.Valid && o.GoldChange.Valid
}

// CorrelationResult is one correlation computed over the full history.
type CorrelationResult struct {
	ComputedAt time.Time
	Value      float64
	SampleSize int
	RunID      string
}

// Defined reports whether the correlation value is a number.
func (r CorrelationResult) Defined() bool {
	return !math.IsNaN(r.Value)
}
