package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hl-perp-trader/internal/account"
	"hl-perp-trader/internal/exec"
	"hl-perp-trader/internal/market"
	"hl-perp-trader/internal/state"
	"hl-perp-trader/internal/tradelog"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Engine interface {
	Execute(ctx context.Context, intent exec.Intent) (exec.Result, error)
	ExecuteDirect(ctx context.Context, intent exec.Intent, tick decimal.Decimal) (exec.Result, error)
	Unresolved(ctx context.Context, symbol string) (state.UnresolvedAttempt, bool, error)
	ListUnresolved(ctx context.Context) ([]state.UnresolvedAttempt, error)
	DefaultSlippageBps() int
}

type Assets interface {
	Resolve(ctx context.Context, symbol string) (market.AssetDescriptor, error)
}

type AccountReader interface {
	Reconcile(ctx context.Context) (account.State, error)
}

type TradeHistory interface {
	Recent(ctx context.Context, limit int) ([]tradelog.Record, error)
}

type Options struct {
	Engine      Engine
	Assets      Assets
	Account     AccountReader
	Trades      TradeHistory
	Metrics     http.Handler
	CORSOrigins []string
	Log         *zap.Logger
}

// Server is the request-handling layer in front of the engine.
type Server struct {
	opts   Options
	log    *zap.Logger
	router *mux.Router
}

func New(opts Options) *Server {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{opts: opts, log: log, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/orders", s.handleExecute).Methods("POST")
	api.HandleFunc("/orders/direct", s.handleExecuteDirect).Methods("POST")
	api.HandleFunc("/orders/unresolved", s.handleListUnresolved).Methods("GET")
	api.HandleFunc("/orders/unresolved/{symbol}", s.handleUnresolved).Methods("GET")
	api.HandleFunc("/assets/{symbol}", s.handleGetAsset).Methods("GET")
	api.HandleFunc("/account", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics).Methods("GET")
	}
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Use(s.logRequests)
}

// Handler returns the router wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	_, intent, ok := s.decodeIntent(w, r)
	if !ok {
		return
	}
	res, err := s.opts.Engine.Execute(r.Context(), intent)
	s.respondAttempt(w, res, err)
}

func (s *Server) handleExecuteDirect(w http.ResponseWriter, r *http.Request) {
	req, intent, ok := s.decodeIntent(w, r)
	if !ok {
		return
	}
	res, err := s.opts.Engine.ExecuteDirect(r.Context(), intent, req.TickSize)
	s.respondAttempt(w, res, err)
}

func (s *Server) decodeIntent(w http.ResponseWriter, r *http.Request) (OrderRequest, exec.Intent, bool) {
	if s.opts.Engine == nil {
		respondError(w, http.StatusServiceUnavailable, "engine not configured", "")
		return OrderRequest{}, exec.Intent{}, false
	}
	var req OrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid order request", err.Error())
		return OrderRequest{}, exec.Intent{}, false
	}
	direction, err := exec.ParseDirection(req.Direction)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid direction", err.Error())
		return OrderRequest{}, exec.Intent{}, false
	}
	slippage := s.opts.Engine.DefaultSlippageBps()
	if req.SlippageBps != nil {
		slippage = *req.SlippageBps
	}
	return req, exec.Intent{
		Symbol:        strings.TrimSpace(req.Symbol),
		Direction:     direction,
		Size:          req.Size,
		Leverage:      req.Leverage,
		SlippageBps:   slippage,
		ClientOrderID: strings.TrimSpace(req.ClientOrderID),
	}, true
}

// respondAttempt answers 200 for every attempt, whatever its outcome; the
// outcome's treatment tells the client how to present it.
func (s *Server) respondAttempt(w http.ResponseWriter, res exec.Result, err error) {
	switch {
	case errors.Is(err, exec.ErrAttemptInFlight):
		respondError(w, http.StatusConflict, "attempt in flight", err.Error())
	case errors.Is(err, exec.ErrInvalidIntent):
		respondError(w, http.StatusBadRequest, "invalid order request", err.Error())
	case err != nil:
		s.log.Error("execute failed before attempt", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "execute failed", err.Error())
	default:
		respondJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleListUnresolved(w http.ResponseWriter, r *http.Request) {
	if s.opts.Engine == nil {
		respondError(w, http.StatusServiceUnavailable, "engine not configured", "")
		return
	}
	markers, err := s.opts.Engine.ListUnresolved(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list unresolved markers failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"unresolved": markers, "count": len(markers)})
}

func (s *Server) handleUnresolved(w http.ResponseWriter, r *http.Request) {
	if s.opts.Engine == nil {
		respondError(w, http.StatusServiceUnavailable, "engine not configured", "")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	marker, ok, err := s.opts.Engine.Unresolved(r.Context(), symbol)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "load unresolved marker failed", err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no unresolved attempt", symbol)
		return
	}
	respondJSON(w, http.StatusOK, marker)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	if s.opts.Assets == nil {
		respondError(w, http.StatusServiceUnavailable, "asset catalog not configured", "")
		return
	}
	symbol := mux.Vars(r)["symbol"]
	desc, err := s.opts.Assets.Resolve(r.Context(), symbol)
	switch {
	case errors.Is(err, market.ErrUnknownAsset):
		respondError(w, http.StatusNotFound, "asset not found", err.Error())
	case err != nil:
		respondError(w, http.StatusServiceUnavailable, "asset catalog unavailable", err.Error())
	default:
		respondJSON(w, http.StatusOK, desc)
	}
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	if s.opts.Account == nil {
		respondError(w, http.StatusServiceUnavailable, "account view not configured", "")
		return
	}
	st, err := s.opts.Account.Reconcile(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "account fetch failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	if s.opts.Trades == nil {
		respondError(w, http.StatusServiceUnavailable, "trade log not configured", "")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = n
	}
	records, err := s.opts.Trades.Recent(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade log read failed", err.Error())
		return
	}
	if records == nil {
		records = []tradelog.Record{}
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err string, message string) {
	respondJSON(w, status, ErrorResponse{Error: err, Message: message})
}
