package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"energy-monitor-service/internal/identity"
	"energy-monitor-service/internal/observability"
	"energy-monitor-service/internal/pipeline"
	"energy-monitor-service/internal/realtime"
	"energy-monitor-service/internal/store"
	"energy-monitor-service/internal/upstream"

	"github.com/go-chi/chi/v5"
)

type Server struct {
	repo     *store.Repo
	pipe     *pipeline.Pipeline
	hub      *realtime.Hub
	upstream *upstream.Client
	auth     func(http.Handler) http.Handler
}

// NewServer wires the API surface. auth is the middleware that authenticates
// viewers and stores their id in the request context; main passes the JWT
// middleware, tests pass a stub.
func NewServer(repo *store.Repo, pipe *pipeline.Pipeline, hub *realtime.Hub, up *upstream.Client, auth func(http.Handler) http.Handler) *Server {
	return &Server{repo: repo, pipe: pipe, hub: hub, upstream: up, auth: auth}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(observability.RequestMetrics)

	r.Get("/api/energy/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.PromHandler())

	r.Group(func(r chi.Router) {
		if s.auth != nil {
			r.Use(s.auth)
		}

		r.Post("/api/energy/telemetry", s.handleTelemetry)

		r.Route("/api/energy/installations/{installation_id}", func(r chi.Router) {
			r.Post("/pull", s.handlePull)
			r.Get("/latest", s.handleLatest)
			r.Get("/logs", s.handleLogs)
			r.Get("/aggregates", s.handleAggregates)
			r.Post("/control", s.handleControl)
		})

		if s.hub != nil {
			r.Get("/ws/energy", s.hub.ServeHTTP)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type telemetryRequest struct {
	InstallationID string            `json:"installation_id"`
	Devices        map[string]string `json:"devices"`
	BatteryLevel   *float64          `json:"battery_level"`
	SolarOutput    *float64          `json:"solar_output"`
}

// handleTelemetry is the push ingress: one call per sample.
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var req telemetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.BatteryLevel == nil {
		writeError(w, http.StatusBadRequest, "missing required field: battery_level")
		return
	}
	if req.SolarOutput == nil {
		writeError(w, http.StatusBadRequest, "missing required field: solar_output")
		return
	}

	if err := s.requireBinding(r, req.InstallationID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	sample := &pipeline.Sample{
		InstallationID: req.InstallationID,
		Devices:        req.Devices,
		BatteryLevel:   *req.BatteryLevel,
		SolarOutput:    *req.SolarOutput,
		TS:             time.Now().UTC(),
	}
	res, err := s.pipe.Process(r.Context(), sample)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Data processed and saved successfully",
		"data":    realtime.StatePayloadFrom(res.Snapshot),
	})
}

// handlePull fetches one sample from the upstream simulator and runs it
// through the pipeline on behalf of the caller.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	installationID := chi.URLParam(r, "installation_id")
	if err := s.requireBinding(r, installationID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	dto, err := s.upstream.FetchSample(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if dto.BatteryLevel == nil || dto.SolarOutput == nil || dto.InstallationID == "" {
		writeError(w, http.StatusBadRequest, "upstream payload missing required fields")
		return
	}
	if dto.InstallationID != installationID {
		writeError(w, http.StatusForbidden, "installation id mismatch")
		return
	}

	sample := &pipeline.Sample{
		InstallationID: dto.InstallationID,
		Devices:        dto.Devices,
		BatteryLevel:   *dto.BatteryLevel,
		SolarOutput:    *dto.SolarOutput,
		TS:             time.Now().UTC(),
	}
	res, err := s.pipe.Process(r.Context(), sample)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Data processed and saved successfully",
		"data":    realtime.StatePayloadFrom(res.Snapshot),
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	installationID := chi.URLParam(r, "installation_id")
	if err := s.requireBinding(r, installationID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	snap, err := s.repo.LatestSnapshot(r.Context(), installationID)
	if err != nil {
		slog.Error("latest snapshot query failed", "installation_id", installationID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not query snapshots")
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "no data found for the specified installation")
		return
	}
	writeJSON(w, http.StatusOK, realtime.StatePayloadFrom(snap))
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	installationID := chi.URLParam(r, "installation_id")
	if err := s.requireBinding(r, installationID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	logs, err := s.repo.LatestChangeLogs(r.Context(), installationID, store.LogRetention)
	if err != nil {
		slog.Error("change log query failed", "installation_id", installationID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not query change logs")
		return
	}
	writeJSON(w, http.StatusOK, realtime.LogPayloadFrom(logs))
}

type aggregateDTO struct {
	TS                      time.Time          `json:"ts"`
	AvgPower                float64            `json:"avg_power"`
	TotalEnergy             float64            `json:"total_energy"`
	BatteryLevel            float64            `json:"battery_level"`
	SolarOutput             float64            `json:"solar_output"`
	DevicesTotalConsumption map[string]float64 `json:"devices_total_consumption"`
}

func (s *Server) handleAggregates(w http.ResponseWriter, r *http.Request) {
	installationID := chi.URLParam(r, "installation_id")
	if err := s.requireBinding(r, installationID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	since := time.Time{}
	if v := strings.TrimSpace(r.URL.Query().Get("since")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since")
			return
		}
		since = t.UTC()
	}

	rows, err := s.repo.AggregatesSince(r.Context(), installationID, since)
	if err != nil {
		slog.Error("aggregate query failed", "installation_id", installationID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not query aggregates")
		return
	}

	out := make([]aggregateDTO, 0, len(rows))
	for _, a := range rows {
		out = append(out, aggregateDTO{
			TS:                      a.TS,
			AvgPower:                a.AvgPower,
			TotalEnergy:             a.TotalEnergy,
			BatteryLevel:            a.BatteryLevel,
			SolarOutput:             a.SolarOutput,
			DevicesTotalConsumption: store.DecodeFloatMap(a.DevicesTotalConsumption),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"installation_id": installationID, "aggregates": out})
}

type controlRequest struct {
	DeviceName    string `json:"device_name"`
	ControlAction string `json:"control_action"`
}

// handleControl proxies a manual device action to the simulator.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	installationID := chi.URLParam(r, "installation_id")
	if err := s.requireBinding(r, installationID); err != nil {
		s.writeDomainError(w, err)
		return
	}

	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.DeviceName == "" || req.ControlAction == "" {
		writeError(w, http.StatusBadRequest, "device_name and control_action are required")
		return
	}

	body, status, err := s.upstream.ControlDevice(r.Context(), upstream.ControlRequest{
		InstallationID: installationID,
		DeviceName:     req.DeviceName,
		ControlAction:  req.ControlAction,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// requireBinding checks that the caller's bound installation matches the one
// they are acting on.
func (s *Server) requireBinding(r *http.Request, installationID string) error {
	if installationID == "" {
		return pipeline.ErrValidation
	}
	viewerID := identity.ViewerID(r.Context())
	bound, err := s.repo.InstallationForViewer(r.Context(), viewerID)
	if err != nil {
		return err
	}
	if bound == "" || bound != installationID {
		return pipeline.ErrIdentityMismatch
	}
	return nil
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrIdentityMismatch):
		writeError(w, http.StatusForbidden, "installation id mismatch")
	case errors.Is(err, upstream.ErrUnavailable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		slog.Error("pipeline run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "could not process sample")
	}
}

type jsonErr struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, jsonErr{Error: msg, Code: status})
}
