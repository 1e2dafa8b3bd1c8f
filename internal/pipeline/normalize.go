package pipeline

import (
	"time"

	"github.com/shopspring/decimal"

	"btcgold-correlation/internal/fetcher"
	"btcgold-correlation/internal/storage"
)

// Normalize merges one crypto and one commodity quote into an observation
// stamped with capturedAt. Absent provider fields become zero, so the result is
// always complete.
func Normalize(crypto, commodity fetcher.Quote, capturedAt time.Time) storage.Observation {
	return storage.Observation{
		Timestamp:    capturedAt,
		BTCPrice:     orZero(crypto.Price),
		BTCMarketCap: orZero(crypto.Secondary),
		GoldPrice:    orZero(commodity.Price),
		GoldChange:   orZero(commodity.Secondary),
	}
}

func orZero(d decimal.NullDecimal) decimal.NullDecimal {
	if !d.Valid {
		return decimal.NewNullDecimal(decimal.Zero)
	}
	return d
}
