package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/fundarb/internal/engine"
)

const defaultExecutionLimit = 20

type apiHandler struct {
	engine *engine.Engine
	logger *slog.Logger
}

func (h *apiHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"state":  h.engine.State(),
	})
}

func (h *apiHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Status())
}

func (h *apiHandler) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":   h.engine.Statistics(),
		"detector": h.engine.Detector().Statistics(),
		"executor": h.engine.Executor().Statistics(),
	})
}

func (h *apiHandler) spreads(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("profitable") == "true" {
		writeJSON(w, http.StatusOK, h.engine.Monitor().ProfitableSpreads())
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Monitor().CurrentSpreads())
}

func (h *apiHandler) rates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Monitor().FundingRates())
}

func (h *apiHandler) opportunities(w http.ResponseWriter, r *http.Request) {
	if symbol := r.URL.Query().Get("symbol"); symbol != "" {
		writeJSON(w, http.StatusOK, h.engine.Detector().OpportunitiesForSymbol(symbol))
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Detector().ActiveOpportunities())
}

func (h *apiHandler) opportunityByID(w http.ResponseWriter, r *http.Request) {
	opp, ok := h.engine.Detector().OpportunityByID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "opportunity not found")
		return
	}
	writeJSON(w, http.StatusOK, opp)
}

func (h *apiHandler) executions(w http.ResponseWriter, r *http.Request) {
	limit := defaultExecutionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.engine.RecentExecutions(limit))
}

func (h *apiHandler) executionByID(w http.ResponseWriter, r *http.Request) {
	exec, ok := h.engine.Executor().ExecutionByID(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

func (h *apiHandler) refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ForceRefresh(r.Context()); err != nil {
		h.logger.Error("force refresh failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (h *apiHandler) emergencyStop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.EmergencyStop(r.Context()); err != nil {
		h.logger.Error("emergency stop failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "emergency stop failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
