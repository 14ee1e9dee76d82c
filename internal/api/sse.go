package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// operationEventInterval paces the operation progress stream
const operationEventInterval = 500 * time.Millisecond

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
	return nil
}

// handleOperationEvents streams the running operations and their progress via SSE
func (s *Server) handleOperationEvents(w http.ResponseWriter, r *http.Request) {
	setSSEHeaders(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(operationEventInterval)
	defer ticker.Stop()

	ctx := r.Context()

	s.logger.Info("SSE client connected for operation events")

	for {
		ops, err := s.orchestrator.Registry().Snapshot(ctx)
		if err != nil {
			// Registry stopped or client gone
			s.logger.Info("operation event stream ended", "error", err)
			return
		}
		if err := writeEvent(w, flusher, ops); err != nil {
			s.logger.Error("failed to marshal operations for SSE", "error", err)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected from operation events")
			return
		case <-ticker.C:
		}
	}
}

// handleAppEvents streams ledger updates via SSE
func (s *Server) handleAppEvents(w http.ResponseWriter, r *http.Request) {
	setSSEHeaders(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	s.logger.Info("SSE client connected for app events")

	// Subscribe to ledger updates
	ch := s.appHub.Subscribe()
	defer s.appHub.Unsubscribe(ch)

	// Send initial app list
	apps, err := s.ledger.GetAll(r.Context())
	if err != nil {
		s.logger.Error("failed to get apps for SSE", "error", err)
	} else if err := writeEvent(w, flusher, apps); err != nil {
		s.logger.Error("failed to marshal apps for SSE", "error", err)
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("SSE client disconnected from app events")
			return
		case apps, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, flusher, apps); err != nil {
				s.logger.Error("failed to marshal apps for SSE", "error", err)
			}
		}
	}
}
