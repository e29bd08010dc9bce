package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/dudufisio/fisioflow/internal/llm"
	"github.com/dudufisio/fisioflow/internal/providers"
)

// llmCallTimeout bounds a single completion call.
const llmCallTimeout = 2 * time.Minute

// maxBodyBytes caps REST request bodies.
const maxBodyBytes = 1 << 20

// HealthResponse is returned by health endpoints. The public HTTP endpoint
// only populates Status; the authenticated RPC handler populates all fields.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Clients   int    `json:"clients,omitempty"`
	Providers int    `json:"providers,omitempty"`
	Enabled   int    `json:"enabled,omitempty"`
	UptimeMs  int64  `json:"uptimeMs,omitempty"`
}

// ProviderView is one row of the provider listing. API keys are redacted.
type ProviderView struct {
	providers.Config
	IsDefault bool `json:"isDefault"`
}

// ProvidersResponse lists the effective configuration of every provider in
// catalog order.
type ProvidersResponse struct {
	Providers       []ProviderView `json:"providers"`
	DefaultProvider providers.Key  `json:"defaultProvider"`
}

// SettingsResponse is the persisted settings plus a drift marker when the
// stored default no longer names a catalog provider.
type SettingsResponse struct {
	providers.Settings
	DefaultDrift bool `json:"defaultDrift,omitempty"`
}

type setEnabledParams struct {
	Key     providers.Key `json:"key"`
	Enabled *bool         `json:"enabled"`
}

type setDefaultParams struct {
	Provider providers.Key `json:"provider"`
}

type completeParams struct {
	Provider    string   `json:"provider,omitempty"`
	System      string   `json:"system,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"maxTokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

func (p completeParams) request() llm.CompletionRequest {
	return llm.CompletionRequest{
		System:      p.System,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: p.Prompt}},
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	}
}

func providersView(r *providers.Resolver) ProvidersResponse {
	def := r.Load().DefaultProvider
	if def == "" {
		def = r.Catalog().Fallback()
	}
	merged := r.MergedConfigs()
	out := ProvidersResponse{
		Providers:       make([]ProviderView, 0, merged.Len()),
		DefaultProvider: def,
	}
	for _, c := range merged.All() {
		out.Providers = append(out.Providers, ProviderView{Config: c.Redacted(), IsDefault: c.Key == def})
	}
	return out
}

func settingsView(r *providers.Resolver, s providers.Settings) SettingsResponse {
	drift := s.DefaultProvider != "" && !r.Catalog().Has(s.DefaultProvider)
	return SettingsResponse{Settings: s, DefaultDrift: drift}
}

// errorStatus maps resolver and provider errors to an HTTP status and an
// error code shared with the RPC surface.
func errorStatus(err error) (int, string) {
	var perr *llm.ProviderError
	switch {
	case errors.Is(err, providers.ErrUnknownProvider):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, providers.ErrNoProviderEnabled):
		return http.StatusConflict, "no_provider"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.As(err, &perr):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// handleHealth returns the server health status. Only status is exposed
// publicly; detailed info is available via the authenticated RPC health method.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, providersView(s.resolver))
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settingsView(s.resolver, s.resolver.Load()))
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var settings providers.Settings
	if err := decodeBody(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	if err := s.resolver.Save(settings); err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	s.afterMutation(w, s.resolver.Load())
}

func (s *Server) handleResetSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.resolver.Reset(); err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	s.afterMutation(w, s.resolver.Load())
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var p setEnabledParams
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	if p.Enabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_params", "enabled is required")
		return
	}
	settings, err := s.resolver.SetEnabled(providers.Key(r.PathValue("key")), *p.Enabled)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	s.afterMutation(w, settings)
}

func (s *Server) handleSetDefault(w http.ResponseWriter, r *http.Request) {
	var p setDefaultParams
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	if p.Provider == "" {
		writeError(w, http.StatusBadRequest, "invalid_params", "provider is required")
		return
	}
	settings, err := s.resolver.SetDefault(p.Provider)
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	s.afterMutation(w, settings)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if s.router == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "completions are disabled")
		return
	}
	var p completeParams
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_params", err.Error())
		return
	}
	if p.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_params", "prompt is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), llmCallTimeout)
	defer cancel()

	resp, err := s.router.Complete(ctx, p.Provider, p.request())
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// afterMutation broadcasts and echoes the new settings.
func (s *Server) afterMutation(w http.ResponseWriter, settings providers.Settings) {
	s.broadcastSettings(settings)
	writeJSON(w, http.StatusOK, settingsView(s.resolver, settings))
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "not found",
		"path":  r.URL.Path,
	})
}

func decodeBody(r *http.Request, target any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// RequestHandler processes an incoming RPC request frame from a client.
type RequestHandler func(rc *RequestContext)

// RequestContext carries everything a handler needs.
type RequestContext struct {
	Ctx    context.Context
	Client *Client
	Frame  Frame
	Server *Server
}

// Respond sends a success response.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("failed to send response")
	}
}

// RespondError sends an error response.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:    code,
		Message: message,
	})
}

// RespondErr maps err to an error response.
func (rc *RequestContext) RespondErr(err error) {
	_, code := errorStatus(err)
	var perr *llm.ProviderError
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{
		Code:      code,
		Message:   err.Error(),
		Retryable: errors.As(err, &perr) && perr.Retryable(),
	})
}

// Params unmarshals the request params into the given target.
func (rc *RequestContext) Params(target any) error {
	if rc.Frame.Params == nil {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, target)
}
