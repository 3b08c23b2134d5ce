package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"jobsight/orchestrator/internal/models"
	"jobsight/orchestrator/internal/orchestrator"
)

type Handler struct {
	orch       *orchestrator.Orchestrator
	corsOrigin string
}

func NewHandler(orch *orchestrator.Orchestrator, corsOrigin string) *Handler {
	return &Handler{orch: orch, corsOrigin: corsOrigin}
}

func (h *Handler) enableCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", h.corsOrigin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")
	w.Header().Set("Content-Type", "application/json")
}

// Detect runs the full fan-out/aggregate cycle for one photo.
func (h *Handler) Detect(w http.ResponseWriter, r *http.Request) {
	h.enableCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.DetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	req.PhotoURL = strings.TrimSpace(req.PhotoURL)
	if req.PhotoID == "" || req.PhotoURL == "" {
		http.Error(w, "photo_id and photo_url are required", http.StatusBadRequest)
		return
	}
	for _, c := range req.Capabilities {
		if !c.Valid() {
			http.Error(w, "unsupported capability: "+string(c), http.StatusBadRequest)
			return
		}
	}
	if req.Priority == "" {
		req.Priority = models.PriorityNormal
	}

	response := h.orch.Process(r.Context(), req, r.Header.Get("X-Correlation-ID"))
	writeJSON(w, http.StatusOK, response)
}

// Status reports a previously processed request by id.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	h.enableCORS(w)
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requestID := r.URL.Query().Get("id")
	if requestID == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}

	response, err := h.orch.Status(requestID)
	if errors.Is(err, models.ErrRequestNotFound) {
		http.Error(w, "Detection request not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.enableCORS(w)
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.orch.Health())
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.enableCORS(w)
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.orch.Metrics())
}

func (h *Handler) Models(w http.ResponseWriter, r *http.Request) {
	h.enableCORS(w)
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.orch.Models())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("http json encode error: %v", err)
	}
}
