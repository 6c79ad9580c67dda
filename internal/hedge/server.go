package hedge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// Server is the HTTP surface other services drive the engine with.
type Server struct {
	router *http.ServeMux
	server *http.Server
	engine *Engine
	log    *zap.Logger
}

func NewServer(addr string, engine *Engine, metricsHandler http.Handler, log *zap.Logger) *Server {
	s := &Server{
		router: http.NewServeMux(),
		engine: engine,
		log:    log,
	}
	s.routes(metricsHandler)
	s.server = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) routes(metricsHandler http.Handler) {
	s.router.HandleFunc("POST /hedging/start", s.handleStartGrid)
	s.router.HandleFunc("POST /hedging/start-dual-delta-neutral", s.handleStartDeltaNeutral)
	s.router.HandleFunc("POST /hedging/stop", s.handleStop)
	s.router.HandleFunc("GET /hedging/status/{positionId}", s.handleStatus)
	s.router.HandleFunc("POST /hedging/internal/prepare-for-rebalance", s.handlePrepareForRebalance)
	s.router.HandleFunc("POST /hedging/remap", s.handleRemap)
	s.router.HandleFunc("POST /hedging/validate-value", s.handleValidateValue)
	if metricsHandler != nil {
		s.router.Handle("GET /metrics", metricsHandler)
	}
}

func (s *Server) Start() error {
	s.log.Info("hedge engine listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStartGrid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID  string  `json:"positionId"`
		PairName    string  `json:"pairName"`
		TradingPair string  `json:"tradingPair"`
		TotalValue  float64 `json:"totalValue"`
		Leverage    int     `json:"leverage"`
		Range       struct {
			Lower float64 `json:"lower"`
			Upper float64 `json:"upper"`
		} `json:"range"`
		HedgePlan []struct {
			PriceBelow  float64 `json:"priceBelow"`
			HedgeAmount float64 `json:"hedgeAmount"`
		} `json:"hedgePlan"`
		IsSimulation bool `json:"isSimulation"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	plan := GridPlan{RangeLower: req.Range.Lower, RangeUpper: req.Range.Upper}
	for _, zone := range req.HedgePlan {
		plan.Zones = append(plan.Zones, GridZone{PriceBelow: zone.PriceBelow, HedgeAmount: zone.HedgeAmount})
	}
	err := s.engine.StartGrid(r.Context(), req.PositionID, req.PairName, req.TradingPair,
		req.TotalValue, req.Leverage, plan, req.IsSimulation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"positionId": req.PositionID, "status": "started"})
}

func (s *Server) handleStartDeltaNeutral(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID   string    `json:"positionId"`
		PairName     string    `json:"pairName"`
		TotalValue   float64   `json:"totalValue"`
		Legs         []LegSpec `json:"legs"`
		IsSimulation bool      `json:"isSimulation"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.engine.StartDeltaNeutral(r.Context(), req.PositionID, req.PairName,
		req.TotalValue, req.Legs, req.IsSimulation)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"positionId": req.PositionID, "status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID string `json:"positionId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.Stop(r.Context(), req.PositionID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"positionId": req.PositionID, "status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	positionID := r.PathValue("positionId")
	view, err := s.engine.Status(r.Context(), positionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handlePrepareForRebalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PositionID string `json:"positionId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	// Always a success response, even when no hedge exists.
	s.engine.PrepareForRebalance(r.Context(), req.PositionID)
	writeJSON(w, http.StatusOK, map[string]string{"positionId": req.PositionID, "status": "paused"})
}

func (s *Server) handleRemap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPositionID string `json:"oldPositionId"`
		NewPositionID string `json:"newPositionId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.Remap(r.Context(), req.OldPositionID, req.NewPositionID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"oldPositionId": req.OldPositionID,
		"newPositionId": req.NewPositionID,
		"status":        "remapped",
	})
}

func (s *Server) handleValidateValue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TotalValue float64   `json:"totalValue"`
		Legs       []LegSpec `json:"legs"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.ValidateValue(req.TotalValue, req.Legs); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	}
	if status >= 500 {
		s.log.Warn("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("bad request body: %v", err)})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
