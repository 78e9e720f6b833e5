package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schedcall/intake-engine/internal/dialog"
	"github.com/schedcall/intake-engine/internal/domain"
	"github.com/schedcall/intake-engine/internal/health"
)

// Handler adapts the dialog machine to the webhook surface.
type Handler struct {
	machine *dialog.Machine
	monitor *health.Monitor
	logger  *slog.Logger
}

func NewHandler(machine *dialog.Machine, monitor *health.Monitor, logger *slog.Logger) *Handler {
	return &Handler{machine: machine, monitor: monitor, logger: logger}
}

// Mount registers all routes on the server's router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/healthz", h.handleHealthz)
	r.Get("/v1/providers/health", h.handleProviderHealth)
	r.Post("/v1/calls", h.handleInitiate)
	r.Post("/v1/calls/{callID}/turns", h.handleTurn)
}

type initiateRequest struct {
	CallID       string `json:"call_id"`
	CallerNumber string `json:"caller_number,omitempty"`
}

type turnRequest struct {
	Input string `json:"input"`
}

type errorResponse struct {
	Error string `json:"error"`
	Type  string `json:"type,omitempty"`
}

func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "call_id is required"})
		return
	}

	resp, err := h.machine.InitiateConversation(r.Context(), req.CallID, req.CallerNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "call_id", req.CallID)
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleTurn(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callID")
	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Input == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "input is required"})
		return
	}

	resp, err := h.machine.ProcessTurn(r.Context(), callID, req.Input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	AddLogField(r.Context(), "call_id", callID)
	AddLogField(r.Context(), "phase", string(resp.Phase))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleProviderHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": h.monitor.Snapshots()})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	var ee *domain.EngineError
	if errors.As(err, &ee) {
		writeJSON(w, ee.HTTPStatusCode(), errorResponse{Error: ee.Message, Type: string(ee.Type)})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
