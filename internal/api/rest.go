package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/orbit-sh/orbitd/internal/manifest"
	"github.com/orbit-sh/orbitd/internal/models"
	"github.com/orbit-sh/orbitd/internal/reconciler"
	"github.com/orbit-sh/orbitd/internal/server"
)

type Handler struct {
	srv *server.Server
	log *zap.SugaredLogger
}

// NewHTTPHandler builds the control-plane mux for the daemon.
func NewHTTPHandler(srv *server.Server, log *zap.SugaredLogger) http.Handler {
	h := &Handler{srv: srv, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("/ping", h.handlePing)
	mux.HandleFunc("/v1/workloads", h.handleWorkloads)
	mux.HandleFunc("/v1/instances", h.handleInstances)
	mux.HandleFunc("/v1/tick", h.handleTick)

	mux.HandleFunc("/chaos/fail", h.handleFail)

	return mux
}

func (h *Handler) handlePing(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"msg": "pong from orbitd"})
}

func (h *Handler) handleWorkloads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.writeJSON(w, http.StatusOK, map[string]any{"workloads": h.srv.Workloads()})
	case http.MethodPost:
		h.applyWorkloads(w, r)
	case http.MethodDelete:
		h.deleteWorkload(w, r)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// applyWorkloads accepts either a single JSON spec or a YAML manifest
// (Content-Type: application/yaml), which may hold several documents.
func (h *Handler) applyWorkloads(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var specs []models.WorkloadSpec
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		specs, err = manifest.Decode(body)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid manifest: "+err.Error())
			return
		}
	} else {
		var spec models.WorkloadSpec
		if err := json.Unmarshal(body, &spec); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		specs = []models.WorkloadSpec{spec}
	}

	ctx := r.Context()
	applied := make([]string, 0, len(specs))
	for _, spec := range specs {
		if err := h.srv.Apply(ctx, spec); err != nil {
			var verr *reconciler.ValidationError
			if errors.As(err, &verr) {
				h.writeError(w, http.StatusBadRequest, verr.Error())
				return
			}
			h.log.Errorw("apply failed", "workload", spec.Name, "err", err)
			h.writeError(w, http.StatusInternalServerError, "failed to apply workload")
			return
		}
		applied = append(applied, spec.Name)
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (h *Handler) deleteWorkload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "name required")
		return
	}
	actions, err := h.srv.Remove(r.Context(), name)
	if err != nil {
		if errors.Is(err, reconciler.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "workload not found")
			return
		}
		h.log.Errorw("remove failed", "workload", name, "err", err)
		h.writeError(w, http.StatusInternalServerError, "failed to remove workload")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"removed": name, "actions": actions})
}

func (h *Handler) handleInstances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	instances := h.srv.Instances(r.URL.Query().Get("workload"))
	h.writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

func (h *Handler) handleTick(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	actions, err := h.srv.RunTick(r.Context())
	if err != nil {
		h.log.Errorw("tick failed", "err", err)
		h.writeError(w, http.StatusInternalServerError, "tick failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"converged": len(actions) == 0,
		"actions":   actions,
	})
}

// handleFail injects an instance failure, the test hook for the
// external failure signal.
func (h *Handler) handleFail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		InstanceID string `json:"instance_id"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.InstanceID == "" {
		h.writeError(w, http.StatusBadRequest, "instance_id required")
		return
	}
	if err := h.srv.FailInstance(r.Context(), body.InstanceID); err != nil {
		if errors.Is(err, reconciler.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "instance not found")
			return
		}
		h.log.Errorw("fail injection failed", "instance", body.InstanceID, "err", err)
		h.writeError(w, http.StatusInternalServerError, "failed to mark instance failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":      "failed",
		"instance_id": body.InstanceID,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
	h.log.Debugw("request rejected", "status", status, "msg", msg)
}
