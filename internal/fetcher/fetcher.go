package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one raw reading from a provider. Secondary carries the market cap
// for crypto quotes and the percent change for commodity quotes. A field the
// provider reported as null is left invalid.
type Quote struct {
	Source    string
	Price     decimal.NullDecimal
	Secondary decimal.NullDecimal
	FetchedAt time.Time
}

// CryptoQuoteFetcher retrieves the current BTC price and market cap.
type CryptoQuoteFetcher interface {
	FetchCrypto(ctx context.Context) (Quote, error)
}

// CommodityQuoteFetcher retrieves the current gold price and daily percent change.
type CommodityQuoteFetcher interface {
	FetchCommodity(ctx context.Context) (Quote, error)
}

// Static returns a fixed quote, or Err when set. Used by simulations.
type Static struct {
	Quote Quote
	Err   error
}

// FetchCrypto implements CryptoQuoteFetcher.
func (s Static) FetchCrypto(context.Context) (Quote, error) {
	return s.fetch()
}

// FetchCommodity implements CommodityQuoteFetcher.
func (s Static) FetchCommodity(context.Context) (Quote, error) {
	return s.fetch()
}

func (s Static) fetch() (Quote, error) {
	if s.Err != nil {
		return Quote{}, s.Err
	}
	q := s.Quote
	if q.FetchedAt.IsZero() {
		q.FetchedAt = time.Now().UTC()
	}
	return q, nil
}

var (
	_ CryptoQuoteFetcher    = Static{}
	_ CommodityQuoteFetcher = Static{}
)
