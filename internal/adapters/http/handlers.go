package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/geopub/internal/domain"
)

// handleHealth returns liveness status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReadiness checks that the pipeline state can be read, which covers
// both the download directory and the database connection.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if _, err := s.processor.Status(r.Context()); err != nil {
		s.logger.Error("readiness check failed", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the pipeline state across all orders.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.processor.Status(r.Context())
	if err != nil {
		s.logger.Error("failed to read status", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to read status")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleOrderInfo returns the detection view of one order.
func (s *Server) handleOrderInfo(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID := vars["orderId"]

	order, err := s.processor.OrderInfo(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			s.writeError(w, http.StatusNotFound, "Order not found")
			return
		}
		s.logger.Error("failed to inspect order", "order", orderID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to inspect order")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order_id":   order.OrderID,
		"data_type":  string(order.DataType),
		"label":      order.DataType.Label(),
		"file_count": order.FileCount(),
		"total_size": order.TotalSize,
		"layers":     order.Layers,
	})
}

// handleProcessOrder publishes one order synchronously.
func (s *Server) handleProcessOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID := vars["orderId"]

	result := s.processor.ProcessOrder(r.Context(), orderID, nil)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	s.writeJSON(w, status, result)
}

// handleSync triggers a storage mirror sync.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	stats, err := s.syncer.Sync(r.Context())
	if err != nil {
		s.logger.Error("sync failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
