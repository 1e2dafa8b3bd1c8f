package fetcher_test

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"btcgold-correlation/internal/fetcher"
	"btcgold-correlation/internal/stageerr"
)

const cmcBody = `{
  "status": {"error_code": 0},
  "data": {
    "BTC": [
      {"symbol": "BTC", "quote": {"USD": {"price": 50000.25, "market_cap": 900000000000}}}
    ]
  }
}`

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newCrypto(t *testing.T, client fetcher.HTTPClient, opts ...fetcher.Option) *fetcher.CoinMarketCap {
	t.Helper()
	all := append([]fetcher.Option{fetcher.WithHTTPClient(client)}, opts...)
	c, err := fetcher.NewCoinMarketCap(fetcher.CryptoOptions{APIKey: "test-key", Timeout: time.Second}, zerolog.Nop(), all...)
	require.NoError(t, err)
	return c
}

func TestNewCoinMarketCapRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := fetcher.NewCoinMarketCap(fetcher.CryptoOptions{APIKey: "  "}, zerolog.Nop())
	require.ErrorIs(t, err, fetcher.ErrMissingAPIKey)
	require.ErrorIs(t, err, stageerr.ErrConfig)
}

func TestFetchCryptoRequest(t *testing.T) {
	t.Parallel()

	// Arrange: a mock client that checks the outgoing request.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, http.MethodGet, req.Method)
			require.Truef(t, strings.HasPrefix(req.URL.String(), "http://cmc.local/v2/cryptocurrency/quotes/latest"), "unexpected url: %s", req.URL.String())
			require.Equal(t, "BTC", req.URL.Query().Get("symbol"))
			require.Equal(t, "USD", req.URL.Query().Get("convert"))
			require.Equal(t, "test-key", req.Header.Get("X-CMC_PRO_API_KEY"))
			require.Equal(t, "application/json", req.Header.Get("Accept"))
			return jsonResponse(http.StatusOK, cmcBody), nil
		}).
		Times(1)

	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	c := newCrypto(t, httpClient, fetcher.WithBaseURL("http://cmc.local/"), fetcher.WithClock(func() time.Time { return fixed }))

	// Act
	quote, err := c.FetchCrypto(t.Context())

	// Assert
	require.NoError(t, err)
	require.Equal(t, fetcher.SourceCoinMarketCap, quote.Source)
	require.True(t, quote.Price.Valid)
	require.True(t, quote.Price.Decimal.Equal(decimal.RequireFromString("50000.25")))
	require.True(t, quote.Secondary.Decimal.Equal(decimal.RequireFromString("900000000000")))
	require.Equal(t, fixed, quote.FetchedAt)
}

func TestFetchCryptoNullIsAbsent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(jsonResponse(http.StatusOK, `{"data":{"BTC":[{"quote":{"USD":{"price":61000,"market_cap":null}}}]}}`), nil).
		Times(1)

	quote, err := newCrypto(t, httpClient).FetchCrypto(t.Context())
	require.NoError(t, err)
	require.True(t, quote.Price.Valid)
	require.False(t, quote.Secondary.Valid)
}

func TestFetchCryptoFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		resp *http.Response
		err  error
	}{
		{name: "transport", err: errors.New("connection refused")},
		{name: "status", resp: jsonResponse(http.StatusUnauthorized, `{"status":{"error_message":"API key missing."}}`)},
		{name: "invalid json", resp: jsonResponse(http.StatusOK, `{"data":`)},
		{name: "missing key", resp: jsonResponse(http.StatusOK, `{"data":{"ETH":[]}}`)},
		{name: "empty array", resp: jsonResponse(http.StatusOK, `{"data":{"BTC":[]}}`)},
		{name: "non numeric", resp: jsonResponse(http.StatusOK, `{"data":{"BTC":[{"quote":{"USD":{"price":"n/a","market_cap":1}}}]}}`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			httpClient := NewMockHTTPClient(ctrl)
			httpClient.EXPECT().Do(gomock.Any()).Return(tc.resp, tc.err).Times(1)

			_, err := newCrypto(t, httpClient).FetchCrypto(t.Context())
			require.Error(t, err)
			require.ErrorIs(t, err, stageerr.ErrFetch)
		})
	}
}

func TestFetchCryptoStatusMessage(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(jsonResponse(http.StatusTooManyRequests, `{"status":{"error_message":"rate limited"}}`), nil)

	_, err := newCrypto(t, httpClient).FetchCrypto(t.Context())
	require.ErrorContains(t, err, "rate limited")
	require.ErrorContains(t, err, "429")
}
