package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"btcgold-correlation/internal/pipeline"
	"btcgold-correlation/internal/storage"
)

type memoryStore struct {
	observations []storage.Observation
	results      []storage.CorrelationResult
	err          error
}

func (m *memoryStore) AppendObservation(_ context.Context, obs storage.Observation) error {
	m.observations = append(m.observations, obs)
	return nil
}

func (m *memoryStore) ListObservations(context.Context) ([]storage.Observation, error) {
	return m.observations, m.err
}

func (m *memoryStore) AppendResult(_ context.Context, r storage.CorrelationResult) error {
	m.results = append(m.results, r)
	return nil
}

func (m *memoryStore) ListResults(context.Context) ([]storage.CorrelationResult, error) {
	return m.results, m.err
}

type stubChart struct {
	calls int
	err   error
}

func (s *stubChart) RenderTo(w io.Writer, _ []storage.CorrelationResult) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	_, err := w.Write([]byte("\x89PNG\r\n\x1a\n"))
	return err
}

func newTestServer(store *memoryStore, chart ChartWriter, status func() (pipeline.RunReport, bool)) *Server {
	return New(Options{}, Deps{Observations: store, Results: store, Chart: chart, Status: status}, zerolog.Nop())
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func obs(ts time.Time, btc int64) storage.Observation {
	return storage.Observation{
		Timestamp:    ts,
		BTCPrice:     decimal.NewNullDecimal(decimal.NewFromInt(btc)),
		BTCMarketCap: decimal.NewNullDecimal(decimal.NewFromInt(btc * 19_000_000)),
		GoldPrice:    decimal.NewNullDecimal(decimal.NewFromInt(1800)),
		GoldChange:   decimal.NullDecimal{},
	}
}

func TestHealthz(t *testing.T) {
	rec := get(t, newTestServer(&memoryStore{}, nil, nil).Handler(), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestObservationsLimit(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := &memoryStore{}
	for i := 0; i < 5; i++ {
		store.observations = append(store.observations, obs(base.Add(time.Duration(i)*24*time.Hour), int64(50000+i)))
	}
	h := newTestServer(store, nil, nil).Handler()

	rec := get(t, h, "/api/observations?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "50003", rows[0]["btc_price"])
	assert.Equal(t, "50004", rows[1]["btc_price"])
	assert.Nil(t, rows[1]["gold_change"])

	rec = get(t, h, "/api/observations?limit=0")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Len(t, rows, 5)

	rec = get(t, h, "/api/observations?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCorrelationsDedupAndNaN(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := &memoryStore{results: []storage.CorrelationResult{
		{ComputedAt: at, Value: 0.5, SampleSize: 3},
		{ComputedAt: at, Value: 0.9, SampleSize: 3},
		{ComputedAt: at.Add(time.Hour), Value: math.NaN(), SampleSize: 1},
	}}

	rec := get(t, newTestServer(store, nil, nil).Handler(), "/api/correlations")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []correlationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Correlation)
	assert.InDelta(t, 0.5, *rows[0].Correlation, 1e-12)
	assert.Nil(t, rows[1].Correlation)
	assert.Equal(t, 1, rows[1].SampleSize)
}

func TestStoreErrorIs500(t *testing.T) {
	store := &memoryStore{err: errors.New("disk gone")}
	h := newTestServer(store, nil, nil).Handler()
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/observations").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/correlations").Code)
}

func TestStatus(t *testing.T) {
	h := newTestServer(&memoryStore{}, nil, func() (pipeline.RunReport, bool) {
		return pipeline.RunReport{}, false
	}).Handler()
	rec := get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"IDLE"}`, rec.Body.String())

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	report := pipeline.RunReport{
		RunID:    "01HX",
		State:    pipeline.StateFailed,
		Stage:    pipeline.StateFetching,
		Attempts: map[pipeline.Task]int{pipeline.TaskIngest: 2},
		Err:      errors.New("FETCHING: boom"),
		Started:  started,
		Finished: started.Add(time.Minute),
	}
	h = newTestServer(&memoryStore{}, nil, func() (pipeline.RunReport, bool) { return report, true }).Handler()
	rec = get(t, h, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var view statusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "FAILED", view.State)
	assert.Equal(t, "FETCHING", view.Stage)
	assert.Equal(t, 2, view.Attempts["ingest"])
	assert.Equal(t, "FETCHING: boom", view.Error)
	assert.Equal(t, "1m0s", view.Duration)
}

func TestChart(t *testing.T) {
	store := &memoryStore{}
	chart := &stubChart{}
	h := newTestServer(store, chart, nil).Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/chart.png").Code)
	assert.Equal(t, 0, chart.calls)

	store.results = []storage.CorrelationResult{{ComputedAt: time.Now(), Value: 0.1}}
	rec := get(t, h, "/chart.png")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	chart.err = errors.New("render failed")
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/chart.png").Code)
}

func TestMissingDepsUnavailable(t *testing.T) {
	h := New(Options{}, Deps{}, zerolog.Nop()).Handler()
	for _, path := range []string{"/api/observations", "/api/correlations", "/api/status", "/chart.png"} {
		assert.Equal(t, http.StatusServiceUnavailable, get(t, h, path).Code, path)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := newTestServer(&memoryStore{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
