package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/ports"
)

const (
	defaultTradesLimit = 50
	shutdownTimeout    = 5 * time.Second
)

// StatusSource is what the status endpoint needs from the engine.
type StatusSource interface {
	LastReport() (domain.CycleReport, bool)
}

// ServerConfig wires the HTTP surface. Journal and Gatherer are optional.
type ServerConfig struct {
	Addr     string
	Mode     string // "live" or "paper"
	Status   StatusSource
	Journal  ports.TradeJournal
	Gatherer prometheus.Gatherer
}

// Server serves /health, /metrics and the JSON status API.
type Server struct {
	cfg     ServerConfig
	started time.Time
	srv     *http.Server
}

// NewServer builds the router. Call Run to start listening.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{cfg: cfg, started: time.Now()}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.HandlerFor(s.cfg.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/positions", s.positions)
		r.Get("/trades", s.trades)
	})
	return r
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("metrics.Server.Run: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics.Server.Run: shutdown: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status    string  `json:"status"`
	Mode      string  `json:"mode"`
	Uptime    string  `json:"uptime"`
	Cycles    int     `json:"cycles"`
	LastCycle string  `json:"last_cycle,omitempty"`
	Balance   float64 `json:"balance"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Mode:   s.cfg.Mode,
		Uptime: time.Since(s.started).Round(time.Second).String(),
	}
	if rep, ok := s.lastReport(); ok {
		resp.Cycles = rep.Cycle
		resp.Balance = rep.Balance.Amount
		if !rep.Balance.At.IsZero() {
			resp.LastCycle = rep.Balance.At.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	Cycle        int                     `json:"cycle"`
	Balance      float64                 `json:"balance"`
	Source       string                  `json:"balance_source"`
	Stale        bool                    `json:"balance_stale"`
	SurvivalMode bool                    `json:"survival_mode"`
	Scanned      int                     `json:"scanned"`
	Analyzed     int                     `json:"analyzed"`
	Signals      int                     `json:"signals"`
	Trades       int                     `json:"trades"`
	Exits        int                     `json:"exits"`
	Arbitrage    int                     `json:"arbitrage"`
	DurationMS   int64                   `json:"duration_ms"`
	APICostUSD   float64                 `json:"api_cost_usd"`
	APICalls     int                     `json:"api_calls"`
	Portfolio    domain.PortfolioSummary `json:"portfolio"`
	Economics    *domain.Economics       `json:"economics,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	rep, ok := s.lastReport()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no cycle completed yet"})
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Cycle:        rep.Cycle,
		Balance:      rep.Balance.Amount,
		Source:       rep.Balance.Source,
		Stale:        rep.Balance.Stale,
		SurvivalMode: rep.SurvivalMode,
		Scanned:      rep.Scanned,
		Analyzed:     rep.Analyzed,
		Signals:      rep.Signals,
		Trades:       rep.Trades,
		Exits:        rep.Exits,
		Arbitrage:    rep.Arbitrage,
		DurationMS:   rep.Duration.Milliseconds(),
		APICostUSD:   rep.APICostUSD,
		APICalls:     rep.APICalls,
		Portfolio:    rep.Portfolio,
		Economics:    rep.Economics,
	})
}

func (s *Server) positions(w http.ResponseWriter, _ *http.Request) {
	rep, ok := s.lastReport()
	if !ok {
		writeJSON(w, http.StatusOK, []domain.Position{})
		return
	}
	out := rep.OpenPositions
	if out == nil {
		out = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) trades(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "trade journal not enabled"})
		return
	}
	limit := defaultTradesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	closed, err := s.cfg.Journal.ClosedPositions(r.Context(), limit)
	if err != nil {
		slog.Warn("trade journal read failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "journal unavailable"})
		return
	}
	if closed == nil {
		closed = []domain.ClosedPosition{}
	}
	writeJSON(w, http.StatusOK, closed)
}

func (s *Server) lastReport() (domain.CycleReport, bool) {
	if s.cfg.Status == nil {
		return domain.CycleReport{}, false
	}
	return s.cfg.Status.LastReport()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}
