package rebalance

import (
	"context"
	"encoding/json"
	"net/http"

	"lp-hedge-bot/internal/chain"

	"go.uber.org/zap"
)

// Server exposes the rebalancer's HTTP surface: the per-position
// asset endpoint the hedge engine adjusts against, and task
// enrollment.
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	pool    chain.PoolAPI
	store   TaskStore
	metrics http.Handler
	log     *zap.Logger
}

func NewServer(addr string, pool chain.PoolAPI, store TaskStore, metricsHandler http.Handler, log *zap.Logger) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		pool:    pool,
		store:   store,
		metrics: metricsHandler,
		log:     log,
	}
	s.routes()
	s.server = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /rebalance/position/{positionId}/assets", s.handleAssets)
	s.router.HandleFunc("POST /rebalance/start", s.handleStart)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) Start() error {
	s.log.Info("rebalancer listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleAssets reports the LP's live token composition. The response
// order (base, quote) is the contract the hedge engine's leg order
// is built on.
func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	positionID := r.PathValue("positionId")
	amounts, err := s.pool.PositionAmounts(r.Context(), positionID)
	if err != nil {
		s.log.Warn("position amounts lookup failed",
			zap.String("position_id", positionID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{
		"base":  amounts.Base,
		"quote": amounts.Quote,
	})
}

// handleStart enrolls a position in the state machine. The durable
// row is the source of truth; the worker picks the task up on its
// next reload.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID string `json:"positionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PositionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "positionId is required"})
		return
	}
	task, found, err := s.store.LoadTask(r.Context(), req.PositionID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no durable row for position"})
		return
	}
	if !task.AutoRebalancing {
		task.AutoRebalancing = true
		if err := s.store.SaveTask(r.Context(), task); err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"positionId": req.PositionID, "status": "tracking"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
