// Package api serves the read side of the earn ledger over HTTP, together
// with Merkle proofs, bridge ingress and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/history"
	"github.com/m0-foundation/solana-m/logger"
	"github.com/m0-foundation/solana-m/merkle"
	"github.com/m0-foundation/solana-m/metrics"
)

// Ledger is the read side of *earn.Engine.
type Ledger interface {
	Global(ctx context.Context) (*earn.Global, error)
	Earners(ctx context.Context) ([]*earn.Earner, error)
	Earner(ctx context.Context, tokenAccount solana.PublicKey) (*earn.Earner, error)
	EarnManager(ctx context.Context, manager solana.PublicKey) (*earn.EarnManager, error)
}

// ClaimHistory is implemented by *history.Repository.
type ClaimHistory interface {
	ListByTokenAccount(ctx context.Context, tokenAccount solana.PublicKey, limit int) ([]history.SettlementRecord, error)
}

// Bridge forwards a decoded index update as the portal. *oracle.Relayer
// implements it.
type Bridge interface {
	Propagate(ctx context.Context, update earn.IndexUpdate) (*earn.PropagationResult, error)
}

// HealthCheck probes one upstream dependency.
type HealthCheck func(ctx context.Context) error

type Config struct {
	Ledger Ledger
	// History and Bridge are optional; their routes answer 503 when
	// unset.
	History ClaimHistory
	Bridge  Bridge
	// BridgeSigner must sign every payload posted to the bridge route. It
	// is required with Bridge.
	BridgeSigner solana.PublicKey
	Lists        map[string]*merkle.Tree
	// HealthChecks are run by /health, keyed by dependency name.
	HealthChecks map[string]HealthCheck
	Logger       *slog.Logger
}

type Server struct {
	router       *chi.Mux
	ledger       Ledger
	history      ClaimHistory
	bridge       Bridge
	bridgeSigner solana.PublicKey
	lists        map[string]*merkle.Tree
	checks       map[string]HealthCheck
	logger       *slog.Logger
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("api: ledger is required")
	}
	if cfg.Bridge != nil && cfg.BridgeSigner.IsZero() {
		return nil, errors.New("api: bridge ingress requires a bridge signer")
	}
	s := &Server{
		router:       chi.NewRouter(),
		ledger:       cfg.Ledger,
		history:      cfg.History,
		bridge:       cfg.Bridge,
		bridgeSigner: cfg.BridgeSigner,
		lists:        cfg.Lists,
		checks:       cfg.HealthChecks,
		logger:       logger.OrDiscard(cfg.Logger),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.observe)

	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/global", s.handleGlobal)
		r.Get("/earners", s.handleEarners)
		r.Get("/earners/{tokenAccount}", s.handleEarner)
		r.Get("/managers/{manager}", s.handleManager)
		r.Get("/claims", s.handleClaims)
		r.Get("/proofs/{list}/{address}", s.handleProof)
		r.Post("/bridge/index", s.handleBridgeIndex)
	})
}

// observe counts requests by route pattern and logs them at debug level.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", slog.String("address", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve api: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down api: %w", err)
		}
		return nil
	}
}
