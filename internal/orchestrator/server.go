package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"lp-hedge-bot/internal/chain"
	"lp-hedge-bot/internal/hedge"
	"lp-hedge-bot/internal/rebalance"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

const maxSnapshotBytes = 1 << 20

type Server struct {
	router  *http.ServeMux
	server  *http.Server
	store   *Store
	service *Service
	pool    chain.PoolAPI
	metrics http.Handler
	log     *zap.Logger
}

func NewServer(addr string, store *Store, service *Service, pool chain.PoolAPI, metricsHandler http.Handler, log *zap.Logger) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		store:   store,
		service: service,
		pool:    pool,
		metrics: metricsHandler,
		log:     log,
	}
	s.routes()
	s.server = &http.Server{Addr: addr, Handler: s.router}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /positions", s.handleListPositions)
	s.router.HandleFunc("POST /positions", s.handleCreatePosition)
	s.router.HandleFunc("GET /positions/active-for-rebalance", s.handleActiveForRebalance)
	s.router.HandleFunc("GET /positions/active-for-hedging", s.handleActiveForHedging)
	s.router.HandleFunc("GET /positions/{positionId}", s.handleGetPosition)
	s.router.HandleFunc("PUT /positions/{positionId}/rebalance-state", s.handlePutRebalanceState)
	s.router.HandleFunc("POST /internal/rebalance-complete", s.handleRebalanceComplete)
	s.router.HandleFunc("POST /internal/hedge-snapshot", s.handlePushSnapshot)
	s.router.HandleFunc("GET /internal/hedge-snapshot/{positionId}", s.handleGetSnapshot)
	s.router.HandleFunc("GET /pools/{poolId}/price", s.handlePoolPrice)
	if s.metrics != nil {
		s.router.Handle("GET /metrics", s.metrics)
	}
}

func (s *Server) Start() error {
	s.log.Info("orchestrator listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.ListPositions(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCreatePosition(w http.ResponseWriter, r *http.Request) {
	var row PositionRow
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil || row.PositionID == "" || row.PoolID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "positionId and poolId are required"})
		return
	}
	if _, found, err := s.store.GetPosition(r.Context(), row.PositionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	} else if found {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "position already exists"})
		return
	}
	if row.Status == "" {
		row.Status = rebalance.StatusIdle
	}
	if err := s.store.PutPosition(r.Context(), row); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	row, found, err := s.store.GetPosition(r.Context(), r.PathValue("positionId"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "position not found"})
		return
	}
	writeJSON(w, http.StatusOK, row.Task)
}

func (s *Server) handlePutRebalanceState(w http.ResponseWriter, r *http.Request) {
	positionID := r.PathValue("positionId")
	var task rebalance.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad task body"})
		return
	}
	row, found, err := s.store.GetPosition(r.Context(), positionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "position not found"})
		return
	}
	task.PositionID = positionID
	row.Task = task
	if err := s.store.PutPosition(r.Context(), row); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"positionId": positionID, "status": "saved"})
}

func (s *Server) handleActiveForRebalance(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ActiveForRebalance(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	tasks := make([]rebalance.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.Task)
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleActiveForHedging(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.service.ActiveForHedging(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	payload, err := msgpack.Marshal(snaps)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleRebalanceComplete(w http.ResponseWriter, r *http.Request) {
	var report rebalance.CompletionReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad completion report"})
		return
	}
	if err := s.service.HandleCompletion(r.Context(), report); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidReport) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "remapped"})
}

func (s *Server) handlePushSnapshot(w http.ResponseWriter, r *http.Request) {
	blob, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable snapshot body"})
		return
	}
	snap, err := hedge.DecodeSnapshot(blob)
	if err != nil || snap.PositionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad snapshot payload"})
		return
	}
	if err := s.store.SaveSnapshot(r.Context(), snap.PositionID, blob); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"positionId": snap.PositionID, "status": "stored"})
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	blob, found, err := s.store.GetSnapshot(r.Context(), r.PathValue("positionId"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no snapshot"})
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(blob)
}

func (s *Server) handlePoolPrice(w http.ResponseWriter, r *http.Request) {
	price, err := s.pool.PoolPrice(r.Context(), r.PathValue("poolId"))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"price": price})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
