package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"btcgold-correlation/internal/stageerr"
)

const (
	cmcQuotesPath  = "/v2/cryptocurrency/quotes/latest"
	cmcKeyHeader   = "X-CMC_PRO_API_KEY"
	defaultCMCBase = "https://pro-api.coinmarketcap.com"

	// SourceCoinMarketCap tags quotes from CoinMarketCap.
	SourceCoinMarketCap = "coinmarketcap"
)

// ErrMissingAPIKey is returned when the crypto provider key is not configured.
var ErrMissingAPIKey = errors.New("crypto api key not configured")

// CryptoOptions parameterise the CoinMarketCap fetcher.
type CryptoOptions struct {
	BaseURL   string
	APIKey    string
	Symbol    string
	Convert   string
	Timeout   time.Duration
	UserAgent string
}

// CoinMarketCap fetches the latest BTC quote.
type CoinMarketCap struct {
	opts   CryptoOptions
	logger zerolog.Logger
	src    *httpSource
}

// NewCoinMarketCap builds a crypto fetcher. The API key must come from configuration.
func NewCoinMarketCap(opts CryptoOptions, logger zerolog.Logger, options ...Option) (*CoinMarketCap, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, stageerr.Config("new crypto fetcher", ErrMissingAPIKey)
	}
	if opts.Symbol == "" {
		opts.Symbol = "BTC"
	}
	if opts.Convert == "" {
		opts.Convert = "USD"
	}
	baseURL := opts.BaseURL
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultCMCBase
	}

	return &CoinMarketCap{
		opts:   opts,
		logger: logger.With().Str("component", "crypto_fetcher").Logger(),
		src:    newHTTPSource(baseURL, opts.UserAgent, opts.Timeout, options...),
	}, nil
}

// FetchCrypto retrieves price and market cap for the configured symbol.
func (c *CoinMarketCap) FetchCrypto(ctx context.Context) (Quote, error) {
	query := url.Values{}
	query.Set("symbol", c.opts.Symbol)
	query.Set("convert", c.opts.Convert)

	header := http.Header{}
	header.Set(cmcKeyHeader, c.opts.APIKey)

	doc, err := c.src.getJSON(ctx, cmcQuotesPath, query, header)
	if err != nil {
		return Quote{}, stageerr.Fetch("fetch crypto quote", err)
	}

	base := []any{"data", c.opts.Symbol, 0, "quote", c.opts.Convert}
	price, err := lookupNumber(doc, append(base, "price")...)
	if err != nil {
		return Quote{}, stageerr.Fetch("extract crypto price", err)
	}
	marketCap, err := lookupNumber(doc, append(base, "market_cap")...)
	if err != nil {
		return Quote{}, stageerr.Fetch("extract crypto market cap", err)
	}

	quote := Quote{
		Source:    SourceCoinMarketCap,
		Price:     price,
		Secondary: marketCap,
		FetchedAt: c.src.now().UTC(),
	}
	c.logger.Debug().
		Str("symbol", c.opts.Symbol).
		Str("price", formatQuoteField(price)).
		Str("market_cap", formatQuoteField(marketCap)).
		Msg("crypto quote fetched")
	return quote, nil
}

var _ CryptoQuoteFetcher = (*CoinMarketCap)(nil)
