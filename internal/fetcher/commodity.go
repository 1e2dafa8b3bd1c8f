package fetcher

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcgold-correlation/internal/stageerr"
)

const (
	goldRatesPath    = "/dbXRates/"
	defaultGoldBase  = "https://data-asg.goldprice.org"
	defaultBrowserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	// SourceGoldPrice tags quotes from goldprice.org.
	SourceGoldPrice = "goldprice"
)

// CommodityOptions parameterise the gold price fetcher.
type CommodityOptions struct {
	BaseURL   string
	Currency  string
	Timeout   time.Duration
	UserAgent string
}

// GoldPrice fetches the spot gold quote from goldprice.org.
type GoldPrice struct {
	opts   CommodityOptions
	logger zerolog.Logger
	src    *httpSource
}

// NewGoldPrice builds a commodity fetcher. The feed rejects requests without a
// browser-like User-Agent, so one is supplied when unset.
func NewGoldPrice(opts CommodityOptions, logger zerolog.Logger, options ...Option) *GoldPrice {
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = defaultBrowserUA
	}
	baseURL := opts.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultGoldBase
	}

	return &GoldPrice{
		opts:   opts,
		logger: logger.With().Str("component", "commodity_fetcher").Logger(),
		src:    newHTTPSource(baseURL, opts.UserAgent, opts.Timeout, options...),
	}
}

// FetchCommodity retrieves the gold price and its daily percent change.
func (g *GoldPrice) FetchCommodity(ctx context.Context) (Quote, error) {
	doc, err := g.src.getJSON(ctx, goldRatesPath+g.opts.Currency, nil, nil)
	if err != nil {
		return Quote{}, stageerr.Fetch("fetch gold quote", err)
	}

	price, err := lookupNumber(doc, "items", 0, "xauPrice")
	if err != nil {
		return Quote{}, stageerr.Fetch("extract gold price", err)
	}
	change, err := lookupNumber(doc, "items", 0, "pcXau")
	if err != nil {
		return Quote{}, stageerr.Fetch("extract gold change", err)
	}

	quote := Quote{
		Source:    SourceGoldPrice,
		Price:     price,
		Secondary: change,
		FetchedAt: g.src.now().UTC(),
	}
	g.logger.Debug().
		Str("currency", g.opts.Currency).
		Str("price", formatQuoteField(price)).
		Str("change_pct", formatQuoteField(change)).
		Msg("gold quote fetched")
	return quote, nil
}

func formatQuoteField(d decimal.NullDecimal) string {
	if !d.Valid {
		return "null"
	}
	return d.Decimal.String()
}

var _ CommodityQuoteFetcher = (*GoldPrice)(nil)
