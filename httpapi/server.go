// Package httpapi exposes the session manager over HTTP: prompt dispatch,
// session reset, health, and a reflected request schema. Handlers translate
// wire shapes to manager calls and map the error taxonomy onto status codes;
// all coordination stays in the session package.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/invopop/jsonschema"

	"github.com/promptrelay/promptrelay/provider"
	"github.com/promptrelay/promptrelay/session"
)

// Server routes API requests to a session manager.
type Server struct {
	manager *session.Manager
	logger  *slog.Logger
	mux     *http.ServeMux
}

// New builds a Server around manager. A nil logger falls back to
// slog.Default().
func New(manager *session.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		manager: manager,
		logger:  logger,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("POST /generate", s.handleGenerate)
	s.mux.HandleFunc("DELETE /session/{provider}", s.handleReset)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /schema", s.handleSchema)

	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Provider == "" {
		s.writeError(w, http.StatusBadRequest, "provider is required")
		return
	}
	if req.Prompt.Empty() {
		s.writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	result, err := s.manager.Dispatch(r.Context(), req.Provider, req.Prompt.Payload())
	if err != nil {
		s.writeDispatchError(w, req.Provider, err)
		return
	}

	s.writeJSON(w, http.StatusOK, newGenerateResponse(req.Provider, result))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("provider")

	if err := s.manager.Reset(r.Context(), providerID); err != nil {
		s.writeDispatchError(w, providerID, err)
		return
	}

	s.writeJSON(w, http.StatusOK, MessageResponse{
		Message: "session reset for " + providerID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Providers: s.manager.Status(),
	})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	reflector := jsonschema.Reflector{DoNotReference: true}
	s.writeJSON(w, http.StatusOK, reflector.Reflect(&GenerateRequest{}))
}

// writeDispatchError maps manager errors onto status codes: unknown
// provider is the caller's fault, everything else is ours.
func (s *Server) writeDispatchError(w http.ResponseWriter, providerID string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, provider.ErrUnknownProvider) {
		status = http.StatusBadRequest
	}

	s.logger.Error("request failed",
		"provider", providerID,
		"status", status,
		"error", err)
	s.writeError(w, status, err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
