// Package server exposes quote verification and swaps against a local
// consuming ledger over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"celofx/pkg/ledger"
	"celofx/pkg/metrics"
	"celofx/pkg/slippage"
)

// Config wires the server to its ledger.
type Config struct {
	Ledger      *ledger.Local
	SlippageBps uint64
	// Faucet is credited once to every executor the server has not seen,
	// keyed by token address.
	Faucet   map[common.Address]*big.Int
	Gatherer prometheus.Gatherer
	Metrics  metrics.Recorder
	Logger   *zap.Logger
}

// Server is the HTTP front of a local ledger.
type Server struct {
	ledger      *ledger.Local
	slippageBps uint64
	faucet      map[common.Address]*big.Int
	gatherer    prometheus.Gatherer
	metrics     metrics.Recorder
	logger      *zap.Logger

	mu     sync.Mutex
	funded map[common.Address]bool
}

// New creates a server. Ledger is required.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("server: ledger is required")
	}
	s := &Server{
		ledger:      cfg.Ledger,
		slippageBps: cfg.SlippageBps,
		faucet:      cfg.Faucet,
		gatherer:    cfg.Gatherer,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		funded:      make(map[common.Address]bool),
	}
	if s.slippageBps == 0 {
		s.slippageBps = slippage.DefaultMaxSlippageBps
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.Health)
	r.Route("/v1", func(api chi.Router) {
		api.Post("/quotes/verify", s.VerifyQuote)
		api.Get("/quotes/{hash}", s.GetConsumption)
		api.Post("/swaps", s.Swap)
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())))
	})
}

// fund credits the faucet to executor the first time it is seen.
func (s *Server) fund(executor common.Address) {
	if len(s.faucet) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.funded[executor] {
		return
	}
	s.funded[executor] = true
	for token, amount := range s.faucet {
		s.ledger.Mint(token, executor, amount)
	}
	s.logger.Info("funded executor", zap.String("executor", executor.Hex()))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
