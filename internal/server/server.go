package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"btcgold-correlation/internal/pipeline"
	"btcgold-correlation/internal/render"
	"btcgold-correlation/internal/storage"
)

const defaultObservationLimit = 50

// ChartWriter streams a chart of results.
type ChartWriter interface {
	RenderTo(w io.Writer, results []storage.CorrelationResult) error
}

// Options configure the HTTP listener.
type Options struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Deps are the read sides the server exposes.
type Deps struct {
	Observations storage.ObservationStore
	Results      storage.ResultLog
	Chart        ChartWriter
	Status       func() (pipeline.RunReport, bool)
}

// Server is a read-only status API over the stores and the last run.
type Server struct {
	opts   Options
	deps   Deps
	logger zerolog.Logger
	router chi.Router
}

// New builds the router. Nil dependencies make their routes answer 503.
func New(opts Options, deps Deps, logger zerolog.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: logger.With().Str("component", "server").Logger(),
	}
	s.router = s.routes()
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/observations", s.handleObservations)
		r.Get("/correlations", s.handleCorrelations)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/chart.png", s.handleChart)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("status server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info().Msg("status server stopped")
	return nil
}

type observationView struct {
	Timestamp    time.Time           `json:"timestamp"`
	BTCPrice     decimal.NullDecimal `json:"btc_price"`
	BTCMarketCap decimal.NullDecimal `json:"btc_market_cap"`
	GoldPrice    decimal.NullDecimal `json:"gold_price"`
	GoldChange   decimal.NullDecimal `json:"gold_change"`
	RunID        string              `json:"run_id,omitempty"`
}

type correlationView struct {
	ComputedAt  time.Time `json:"computed_at"`
	Correlation *float64  `json:"correlation"`
	SampleSize  int       `json:"sample_size"`
	RunID       string    `json:"run_id,omitempty"`
}

type statusView struct {
	RunID       string           `json:"run_id"`
	Owner       string           `json:"owner,omitempty"`
	State       string           `json:"state"`
	Stage       string           `json:"stage,omitempty"`
	Skipped     bool             `json:"skipped,omitempty"`
	Attempts    map[string]int   `json:"attempts,omitempty"`
	Observation *observationView `json:"observation,omitempty"`
	Result      *correlationView `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	Started     time.Time        `json:"started"`
	Finished    time.Time        `json:"finished"`
	Duration    string           `json:"duration"`
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Observations == nil {
		s.unavailable(w, "observations")
		return
	}
	limit := defaultObservationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rows, err := s.deps.Observations.ListObservations(r.Context())
	if err != nil {
		s.internal(w, r, "list observations", err)
		return
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}
	out := make([]observationView, 0, len(rows))
	for _, o := range rows {
		out = append(out, toObservationView(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	if s.deps.Results == nil {
		s.unavailable(w, "correlations")
		return
	}
	results, err := s.deps.Results.ListResults(r.Context())
	if err != nil {
		s.internal(w, r, "list results", err)
		return
	}
	deduped := render.Dedup(results)
	out := make([]correlationView, 0, len(deduped))
	for _, res := range deduped {
		out = append(out, toCorrelationView(res))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Status == nil {
		s.unavailable(w, "status")
		return
	}
	report, ok := s.deps.Status()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"state": string(pipeline.StateIdle)})
		return
	}

	view := statusView{
		RunID:    report.RunID,
		Owner:    report.Owner,
		State:    string(report.State),
		Stage:    string(report.Stage),
		Skipped:  report.Skipped,
		Attempts: make(map[string]int, len(report.Attempts)),
		Started:  report.Started,
		Finished: report.Finished,
		Duration: report.Duration().String(),
	}
	for task, n := range report.Attempts {
		view.Attempts[string(task)] = n
	}
	if report.Observation != nil {
		o := toObservationView(*report.Observation)
		view.Observation = &o
	}
	if report.Result != nil {
		c := toCorrelationView(*report.Result)
		view.Result = &c
	}
	if report.Err != nil {
		view.Error = report.Err.Error()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Chart == nil || s.deps.Results == nil {
		s.unavailable(w, "chart")
		return
	}
	results, err := s.deps.Results.ListResults(r.Context())
	if err != nil {
		s.internal(w, r, "list results", err)
		return
	}
	if len(results) == 0 {
		writeError(w, http.StatusNotFound, "no correlation results yet")
		return
	}

	// Rendered into memory so a failure can still produce a clean error response.
	var buf bytes.Buffer
	if err := s.deps.Chart.RenderTo(&buf, results); err != nil {
		s.internal(w, r, "render chart", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(started)).
			Msg("request served")
	})
}

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, what+" not available")
}

func (s *Server) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg(op + " failed")
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func toObservationView(o storage.Observation) observationView {
	return observationView{
		Timestamp:    o.Timestamp,
		BTCPrice:     o.BTCPrice,
		BTCMarketCap: o.BTCMarketCap,
		GoldPrice:    o.GoldPrice,
		GoldChange:   o.GoldChange,
		RunID:        o.RunID,
	}
}

// toCorrelationView maps NaN to JSON null.
func toCorrelationView(r storage.CorrelationResult) correlationView {
	view := correlationView{ComputedAt: r.ComputedAt, SampleSize: r.SampleSize, RunID: r.RunID}
	if !math.IsNaN(r.Value) {
		v := r.Value
		view.Correlation = &v
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
