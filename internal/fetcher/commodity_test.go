package fetcher_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcgold-correlation/internal/fetcher"
	"btcgold-correlation/internal/stageerr"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func TestGoldPriceFetchSuccess(t *testing.T) {
	var gotPath, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ts": 1714557600000,
			"items": []map[string]any{
				{"curr": "USD", "xauPrice": 1800.0, "pcXau": 1.5},
			},
		})
	}))
	defer srv.Close()

	g := fetcher.NewGoldPrice(fetcher.CommodityOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	quote, err := g.FetchCommodity(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}
	if gotPath != "/dbXRates/USD" {
		t.Fatalf("请求路径错误: %s", gotPath)
	}
	if !strings.HasPrefix(gotUA, "Mozilla/") {
		t.Fatalf("应发送浏览器 User-Agent, 实际 %q", gotUA)
	}
	if !quote.Price.Valid || quote.Price.Decimal.Cmp(decimal.NewFromInt(1800)) != 0 {
		t.Fatalf("期望金价 1800, 实际 %v", quote.Price)
	}
	if !quote.Secondary.Valid || quote.Secondary.Decimal.Cmp(decimal.RequireFromString("1.5")) != 0 {
		t.Fatalf("期望涨跌幅 1.5, 实际 %v", quote.Secondary)
	}
	if quote.Source != fetcher.SourceGoldPrice {
		t.Fatalf("来源标记错误: %s", quote.Source)
	}
}

func TestGoldPriceFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("forbidden"))
	}))
	defer srv.Close()

	g := fetcher.NewGoldPrice(fetcher.CommodityOptions{BaseURL: srv.URL, Timeout: time.Second, UserAgent: "test"}, noopLogger())
	_, err := g.FetchCommodity(context.Background())
	if err == nil {
		t.Fatal("HTTP 403 应返回错误")
	}
	if !errors.Is(err, stageerr.ErrFetch) {
		t.Fatalf("应为 FetchError: %v", err)
	}
}

func TestGoldPriceFetchMissingItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer srv.Close()

	g := fetcher.NewGoldPrice(fetcher.CommodityOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	if _, err := g.FetchCommodity(context.Background()); !errors.Is(err, stageerr.ErrFetch) {
		t.Fatalf("空 items 应返回 FetchError: %v", err)
	}
}

func TestGoldPriceFetchNullChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"xauPrice":2300.1,"pcXau":null}]}`))
	}))
	defer srv.Close()

	g := fetcher.NewGoldPrice(fetcher.CommodityOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	quote, err := g.FetchCommodity(context.Background())
	if err != nil {
		t.Fatalf("null 字段不应报错: %v", err)
	}
	if quote.Secondary.Valid {
		t.Fatal("null 字段应视为缺失")
	}
}

func TestGoldPriceTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	g := fetcher.NewGoldPrice(fetcher.CommodityOptions{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, noopLogger())
	if _, err := g.FetchCommodity(context.Background()); !errors.Is(err, stageerr.ErrFetch) {
		t.Fatalf("超时应返回 FetchError: %v", err)
	}
}

func TestStaticFetcher(t *testing.T) {
	q := fetcher.Quote{Source: "static", Price: decimal.NewNullDecimal(decimal.NewFromInt(1))}
	got, err := fetcher.Static{Quote: q}.FetchCrypto(context.Background())
	if err != nil || got.FetchedAt.IsZero() {
		t.Fatalf("静态报价应成功并带时间戳: %v", err)
	}

	boom := errors.New("boom")
	if _, err := (fetcher.Static{Err: boom}).FetchCommodity(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("应返回预设错误: %v", err)
	}
}
