// Package api is the position service boundary: it validates and normalizes
// external open/close requests, delegates to the ledger, and shapes
// responses. It shares the ledger's mutation path (and therefore its
// invariants) with the liquidation sweep.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"marginledger/internal/ledger"
	"marginledger/internal/observability"
)

// Server handles the REST API.
type Server struct {
	ledger  *ledger.Ledger
	router  *mux.Router
	log     zerolog.Logger
	metrics *observability.Metrics
	health  *observability.HealthChecker
	http    *http.Server
}

// NewServer creates the API server and wires its routes.
func NewServer(l *ledger.Ledger, log zerolog.Logger, metrics *observability.Metrics, health *observability.HealthChecker) *Server {
	s := &Server{
		ledger:  l,
		router:  mux.NewRouter(),
		log:     log,
		metrics: metrics,
		health:  health,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/state", s.handleGetState).Methods("GET")
	api.HandleFunc("/positions/open", s.handleOpenPosition).Methods("POST")
	api.HandleFunc("/positions/close", s.handleClosePosition).Methods("POST")

	if s.health != nil {
		s.router.HandleFunc("/healthz", s.health.LivenessHandler).Methods("GET")
		s.router.HandleFunc("/readyz", s.health.ReadinessHandler).Methods("GET")
	}
}

// Handler returns the full HTTP handler including CORS, for tests and for
// embedding.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(s.router)
}

// Start runs the API server until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutCtx)
	}()

	s.log.Info().Str("addr", addr).Msg("API server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	defer s.observe("state", time.Now(), http.StatusOK)

	resp := stateResponse{
		Balances:  s.ledger.Balances(),
		Positions: s.ledger.OpenPositions(""),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req openRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.observe("open", start, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body", Error: err.Error()})
		return
	}

	openReq, err := req.validate()
	if err != nil {
		s.observe("open", start, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid open request", Error: err.Error()})
		return
	}

	pos, err := s.ledger.Open(openReq)
	if err != nil {
		s.observe("open", start, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "failed to open position", Error: err.Error()})
		return
	}

	s.log.Info().
		Str("position_id", pos.ID).
		Str("asset", pos.Asset).
		Str("side", string(pos.Side)).
		Float64("margin", pos.Margin).
		Float64("entry_price", pos.EntryPrice).
		Msg("position opened")

	if s.metrics != nil {
		s.metrics.PositionsOpened.WithLabelValues(pos.Asset, string(pos.Side)).Inc()
	}

	s.observe("open", start, http.StatusCreated)
	writeJSON(w, http.StatusCreated, pos)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req closeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.observe("close", start, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body", Error: err.Error()})
		return
	}

	if err := req.validate(); err != nil {
		s.observe("close", start, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid close request", Error: err.Error()})
		return
	}

	realized, err := s.ledger.Close(req.PositionID, req.CurrentPrice)
	if err != nil {
		s.observe("close", start, http.StatusBadRequest)
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "failed to close position", Error: err.Error()})
		return
	}

	s.log.Info().
		Str("position_id", req.PositionID).
		Float64("realized_pnl", realized).
		Msg("position closed")

	if s.metrics != nil {
		s.metrics.PositionsClosed.WithLabelValues("user").Inc()
	}

	s.observe("close", start, http.StatusOK)
	writeJSON(w, http.StatusOK, closeResponse{Message: "Position closed successfully", RealizedPnL: realized})
}

func (s *Server) observe(endpoint string, start time.Time, status int) {
	if s.metrics == nil {
		return
	}
	s.metrics.APIRequests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	s.metrics.APIDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
