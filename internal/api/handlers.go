package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/pkg/resource"
)

type deployResponse struct {
	Success    bool                 `json:"success"`
	Deployment *resource.Deployment `json:"deployment"`
	Message    string               `json:"message"`
}

// Deploy handles POST /api/multi-cloud/deploy.
func (s *Server) Deploy(w http.ResponseWriter, r *http.Request) {
	var req resource.DeployRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	dep, err := s.Manager.Deploy(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, deployResponse{
		Success:    true,
		Deployment: dep,
		Message:    fmt.Sprintf("Deployed %s to %s", dep.Name, dep.Provider),
	})
}

// ListResources handles GET /api/multi-cloud/resources.
func (s *Server) ListResources(w http.ResponseWriter, r *http.Request) {
	refresh := false
	if v := r.URL.Query().Get("refresh"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "refresh must be true or false")
			return
		}
		refresh = b
	}

	resources, err := s.Manager.AllResources(r.Context(), refresh)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if resources == nil {
		resources = []resource.Resource{}
	}
	writeJSON(w, http.StatusOK, resources)
}

// ProviderStatuses handles GET /api/multi-cloud/status.
func (s *Server) ProviderStatuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Manager.ProviderStatuses(r.Context()))
}

// Stats handles GET /api/multi-cloud/stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Manager.DeploymentStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListProviders handles GET /api/multi-cloud/providers.
func (s *Server) ListProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Manager.Providers())
}

type statusResponse struct {
	Provider string `json:"provider"`
	Type     string `json:"type"`
	ID       string `json:"id"`
	Status   string `json:"status"`
}

// resourceParams reads provider, type and the trailing id of a
// single-resource route. The id may itself contain slashes and arrive
// percent-encoded.
func resourceParams(r *http.Request) (p, typ, id string, err error) {
	id, err = url.PathUnescape(chi.URLParam(r, "*"))
	if err != nil {
		return "", "", "", fmt.Errorf("invalid resource id: %w", err)
	}
	if id == "" {
		return "", "", "", errors.New("resource id is required")
	}
	return chi.URLParam(r, "provider"), chi.URLParam(r, "type"), id, nil
}

// ResourceStatus handles GET /api/multi-cloud/resources/{provider}/{type}/{id...}.
func (s *Server) ResourceStatus(w http.ResponseWriter, r *http.Request) {
	p, typ, id, err := resourceParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := s.Manager.ResourceStatus(r.Context(), p, id, typ)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Provider: p, Type: typ, ID: id, Status: status})
}

// DeleteResource handles DELETE /api/multi-cloud/resources/{provider}/{type}/{id...}.
func (s *Server) DeleteResource(w http.ResponseWriter, r *http.Request) {
	p, typ, id, err := resourceParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.Manager.DeleteResource(r.Context(), p, id, typ); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type credentialsResponse struct {
	Providers []provider.Kind `json:"providers"`
}

// ListCredentials handles GET /api/credentials. Only provider names are
// returned.
func (s *Server) ListCredentials(w http.ResponseWriter, _ *http.Request) {
	kinds := s.Credentials.Providers()
	if kinds == nil {
		kinds = []provider.Kind{}
	}
	writeJSON(w, http.StatusOK, credentialsResponse{Providers: kinds})
}

// PutCredentials handles PUT /api/credentials/{provider}.
func (s *Server) PutCredentials(w http.ResponseWriter, r *http.Request) {
	kind, ok := provider.ParseKind(chi.URLParam(r, "provider"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Unsupported cloud provider: "+chi.URLParam(r, "provider"))
		return
	}

	var c credentials.Credentials
	if !decodeJSON(w, r, &c) {
		return
	}
	if c.IsZero() {
		writeError(w, http.StatusBadRequest, "credentials are empty")
		return
	}
	if err := s.Credentials.Set(kind, c); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.WithContext(r.Context()).Info().Str("provider", string(kind)).Msg("credentials updated")
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCredentials handles DELETE /api/credentials/{provider}.
func (s *Server) DeleteCredentials(w http.ResponseWriter, r *http.Request) {
	kind, ok := provider.ParseKind(chi.URLParam(r, "provider"))
	if !ok {
		writeError(w, http.StatusBadRequest, "Unsupported cloud provider: "+chi.URLParam(r, "provider"))
		return
	}

	err := s.Credentials.Remove(kind)
	switch {
	case errors.Is(err, credentials.ErrNotFound):
		writeError(w, http.StatusNotFound, fmt.Sprintf("no credentials stored for %s", kind))
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.WithContext(r.Context()).Info().Str("provider", string(kind)).Msg("credentials removed")
		w.WriteHeader(http.StatusNoContent)
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

// Chat handles POST /api/assistant/chat.
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	if s.Assistant == nil {
		writeError(w, http.StatusServiceUnavailable, "assistant is not configured")
		return
	}

	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.Assistant.Chat(r.Context(), req.Message)
	if err != nil {
		s.logger.WithContext(r.Context()).Warn().Err(err).Msg("assistant request failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// Healthz handles GET /healthz.
func (s *Server) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readyz handles GET /readyz. The service is ready once at least one
// provider is registered. The warmer status is reported, not gated on.
func (s *Server) Readyz(w http.ResponseWriter, _ *http.Request) {
	n := len(s.Manager.Providers())
	body := map[string]any{"status": "ready", "providers": n}
	if s.Warmer != nil {
		body["warmer"] = s.Warmer.Health().Status
	}
	if n == 0 {
		body["status"] = "not ready"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// WarmerHealth handles GET /api/multi-cloud/health: 200 while every
// provider refreshes, 503 when any is failing or the warmer is not running.
func (s *Server) WarmerHealth(w http.ResponseWriter, _ *http.Request) {
	if s.Warmer == nil {
		writeError(w, http.StatusServiceUnavailable, "cache warmer is not running")
		return
	}
	h := s.Warmer.Health()
	code := http.StatusOK
	if h.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, h)
}
