//
//
package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/instrument-control/icb/internal/auth"
	"github.com/instrument-control/icb/internal/state"
	"github.com/instrument-control/icb/internal/telemetry"
)

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"

	// Health and metrics endpoints (no auth required)
	mux.HandleFunc(apiV1+"/health", s.handleHealth)
	mux.Handle("/metrics", telemetry.MetricsHandler())

	// If no auth middleware, register routes without protection
	if s.authMiddleware == nil {
		mux.HandleFunc(apiV1+"/status", s.handleStatus)
		mux.HandleFunc(apiV1+"/ready", s.handleReady)
		mux.HandleFunc(apiV1+"/modules/", s.handleModuleByID)
		mux.HandleFunc(apiV1+"/vials", s.handleVials)
		mux.HandleFunc(apiV1+"/vials/load", s.handleLoadVial)
		mux.HandleFunc(apiV1+"/method/start", s.handleStartMethod)
		mux.HandleFunc(apiV1+"/abort", s.handleAbort)
		mux.HandleFunc(apiV1+"/command", s.handleCommand)
		mux.HandleFunc(apiV1+"/telemetry", s.handleTelemetry)
		return
	}

	requireRead := func(h http.HandlerFunc) http.HandlerFunc {
		return s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeRead)(h))
	}
	requireControl := func(h http.HandlerFunc) http.HandlerFunc {
		return s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeControl)(h))
	}

	mux.HandleFunc(apiV1+"/status", requireRead(s.handleStatus))
	mux.HandleFunc(apiV1+"/ready", requireRead(s.handleReady))
	mux.HandleFunc(apiV1+"/modules/", requireRead(s.handleModuleByID))
	mux.HandleFunc(apiV1+"/vials", requireRead(s.handleVials))
	mux.HandleFunc(apiV1+"/vials/load", requireControl(s.handleLoadVial))
	mux.HandleFunc(apiV1+"/method/start", requireControl(s.handleStartMethod))
	mux.HandleFunc(apiV1+"/abort", requireControl(s.handleAbort))
	mux.HandleFunc(apiV1+"/command", requireControl(s.handleCommand))
	mux.HandleFunc(apiV1+"/telemetry", s.authMiddleware.RequireAuth(s.authMiddleware.RequireScope(auth.ScopeTelemetry)(s.handleTelemetry)))
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"status":        "ok",
		"uptimeSeconds": int(time.Since(s.startTime).Seconds()),
	})
}

// handleStatus handles GET /status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	systemState, err := s.bridge.SystemState(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	running, err := s.bridge.Running(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"systemState": systemState.String(),
		"running":     running,
	})
}

// handleReady handles GET /ready?timeoutMs=5000
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	timeout := 5 * time.Second
	if raw := r.URL.Query().Get("timeoutMs"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
				"timeoutMs must be a positive integer", nil)
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	ready, err := s.monitor.WaitUntilReady(r.Context(), timeout)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"ready": ready})
}

// handleModuleByID handles GET /modules/{id}
func (s *Server) handleModuleByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	moduleID := extractModuleID(r.URL.Path)
	if moduleID == "" {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"Module ID is required", nil)
		return
	}

	moduleState, err := s.bridge.ModuleState(r.Context(), moduleID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"moduleId":    moduleID,
		"state":       moduleState.String(),
		"operational": moduleState.Operational(),
	})
}

// handleVials handles GET /vials
func (s *Server) handleVials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	table, err := s.bridge.VialPositions(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}

	vials := make(map[string]string, len(table))
	for id, position := range table {
		vials[strconv.Itoa(id)] = position.String()
	}
	WriteSuccess(w, map[string]interface{}{"vials": vials})
}

// handleLoadVial handles POST /vials/load
func (s *Server) handleLoadVial(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	var req struct {
		Vial     int    `json:"vial"`
		Position string `json:"position"`
	}
	if !decodeStrict(w, r, &req) {
		return
	}
	if req.Vial <= 0 {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"vial must be a positive integer", nil)
		return
	}
	position, err := state.ParseVialPosition(req.Position)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}

	if err := s.bridge.LoadVial(r.Context(), req.Vial, position); err != nil {
		writeAPIError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{
		"vial":     req.Vial,
		"position": position.String(),
	})
}

// handleStartMethod handles POST /method/start
func (s *Server) handleStartMethod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	var req struct {
		Method string `json:"method"`
	}
	if !decodeStrict(w, r, &req) {
		return
	}
	if req.Method == "" {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"method must not be empty", nil)
		return
	}

	if err := s.bridge.StartMethod(r.Context(), req.Method); err != nil {
		writeAPIError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"method": req.Method, "started": true})
}

// handleAbort handles POST /abort
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	if err := s.bridge.AbortRun(r.Context()); err != nil {
		writeAPIError(w, err)
		return
	}

	WriteSuccess(w, map[string]interface{}{"aborted": true})
}

// handleCommand handles POST /command: a raw console passthrough for
// maintenance use. The payload travels through the same sequencing, audit
// and classification path as the typed endpoints.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only POST method is allowed", nil)
		return
	}

	var req struct {
		Payload        string `json:"payload"`
		ExpectResponse bool   `json:"expectResponse"`
	}
	if !decodeStrict(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Payload) == "" {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"payload must not be empty", nil)
		return
	}

	if !req.ExpectResponse {
		if err := s.bridge.Execute(r.Context(), req.Payload); err != nil {
			writeAPIError(w, err)
			return
		}
		WriteSuccess(w, map[string]interface{}{"acknowledged": true})
		return
	}

	reply, err := s.bridge.Query(r.Context(), req.Payload)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	WriteSuccess(w, map[string]interface{}{"reply": reply})
}

// handleTelemetry handles GET /telemetry (SSE stream)
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Only GET method is allowed", nil)
		return
	}

	if err := s.telemetryHub.Subscribe(r.Context(), w, r); err != nil {
		WriteError(w, http.StatusInternalServerError, "INTERNAL",
			"Failed to subscribe to telemetry", nil)
	}
}

// decodeStrict decodes a JSON request body rejecting unknown fields and
// trailing data. It writes the error response itself and reports success.
func decodeStrict(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"Malformed JSON or unknown fields", nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		WriteError(w, http.StatusBadRequest, "BAD_REQUEST",
			"Trailing data after JSON object", nil)
		return false
	}
	return true
}

// extractModuleID extracts the module ID from a /api/v1/modules/{id} path.
func extractModuleID(path string) string {
	const prefix = "/api/v1/modules/"
	if !strings.HasPrefix(path, prefix) {
		return ""
	}
	id := strings.TrimPrefix(path, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}
