package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/dudufisio/fisioflow/internal/llm"
	"github.com/dudufisio/fisioflow/internal/providers"
)

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/ai/providers", s.handleListProviders)
	mux.HandleFunc("PATCH /api/ai/providers/{key}", s.handleSetEnabled)
	mux.HandleFunc("GET /api/ai/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/ai/settings", s.handleSaveSettings)
	mux.HandleFunc("DELETE /api/ai/settings", s.handleResetSettings)
	mux.HandleFunc("PUT /api/ai/default", s.handleSetDefault)
	mux.HandleFunc("POST /api/ai/complete", s.handleComplete)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// registerRPCHandlers sets up all JSON-RPC method handlers.
func (s *Server) registerRPCHandlers() {
	s.Handle("health", s.rpcHealth)
	s.Handle("providers.list", s.rpcProvidersList)
	s.Handle("providers.setEnabled", s.rpcSetEnabled)
	s.Handle("providers.setDefault", s.rpcSetDefault)
	s.Handle("settings.get", s.rpcSettingsGet)
	s.Handle("settings.save", s.rpcSettingsSave)
	s.Handle("settings.reset", s.rpcSettingsReset)
	if s.router != nil {
		s.Handle("ai.complete", s.rpcComplete)
	}
}

func (s *Server) rpcHealth(rc *RequestContext) {
	merged := s.resolver.MergedConfigs()
	var uptime int64
	if !s.startedAt.IsZero() {
		uptime = time.Since(s.startedAt).Milliseconds()
	}
	rc.Respond(HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Clients:   s.clients.Count(),
		Providers: merged.Len(),
		Enabled:   len(merged.Enabled()),
		UptimeMs:  uptime,
	})
}

func (s *Server) rpcProvidersList(rc *RequestContext) {
	rc.Respond(providersView(s.resolver))
}

func (s *Server) rpcSettingsGet(rc *RequestContext) {
	rc.Respond(settingsView(s.resolver, s.resolver.Load()))
}

func (s *Server) rpcSettingsSave(rc *RequestContext) {
	var settings providers.Settings
	if err := rc.Params(&settings); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if err := s.resolver.Save(settings); err != nil {
		rc.RespondErr(err)
		return
	}
	s.rpcAfterMutation(rc, s.resolver.Load())
}

func (s *Server) rpcSettingsReset(rc *RequestContext) {
	if err := s.resolver.Reset(); err != nil {
		rc.RespondErr(err)
		return
	}
	s.rpcAfterMutation(rc, s.resolver.Load())
}

func (s *Server) rpcSetEnabled(rc *RequestContext) {
	var p setEnabledParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Key == "" || p.Enabled == nil {
		rc.RespondError("invalid_params", "key and enabled are required")
		return
	}
	settings, err := s.resolver.SetEnabled(p.Key, *p.Enabled)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	s.rpcAfterMutation(rc, settings)
}

func (s *Server) rpcSetDefault(rc *RequestContext) {
	var p setDefaultParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Provider == "" {
		rc.RespondError("invalid_params", "provider is required")
		return
	}
	settings, err := s.resolver.SetDefault(p.Provider)
	if err != nil {
		rc.RespondErr(err)
		return
	}
	s.rpcAfterMutation(rc, settings)
}

// rpcAfterMutation responds first so the caller sees its own result before
// the settings.changed broadcast.
func (s *Server) rpcAfterMutation(rc *RequestContext, settings providers.Settings) {
	rc.Respond(settingsView(s.resolver, settings))
	s.broadcastSettings(settings)
}

func (s *Server) rpcComplete(rc *RequestContext) {
	var p completeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if p.Prompt == "" {
		rc.RespondError("invalid_params", "prompt is required")
		return
	}

	parent := rc.Ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, llmCallTimeout)
	defer cancel()

	if !p.Stream {
		resp, err := s.router.Complete(ctx, p.Provider, p.request())
		if err != nil {
			rc.RespondErr(err)
			return
		}
		rc.Respond(resp)
		return
	}

	ch, cfg, err := s.router.Stream(ctx, p.Provider, p.request())
	if err != nil {
		rc.RespondErr(err)
		return
	}
	for evt := range ch {
		switch evt.Type {
		case llm.EventDelta:
			rc.Client.SendEvent(EventCompletionDelta, CompletionDelta{
				RequestID: rc.Frame.ID,
				Provider:  cfg.Key,
				Content:   evt.Content,
			}, s.eventSeq.Add(1))
		case llm.EventError:
			rc.RespondError("provider_error", evt.Error)
			return
		case llm.EventDone:
			rc.Respond(evt.Response)
			return
		}
	}
	rc.RespondError("provider_error", "stream ended without a result")
}
