// Package gateway serves the provider settings over HTTP and WebSocket.
//
// REST routes under /api/ require a bearer credential. WebSocket clients
// authenticate through a challenge/connect handshake and then exchange JSON
// request, response and event frames. Every settings mutation is broadcast
// to connected clients as a settings.changed event.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"github.com/dudufisio/fisioflow/internal/config"
	"github.com/dudufisio/fisioflow/internal/llm"
	"github.com/dudufisio/fisioflow/internal/logging"
	"github.com/dudufisio/fisioflow/internal/providers"
	"github.com/dudufisio/fisioflow/internal/version"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrClientClosed = errors.New("client connection closed")

const (
	maxPayload       = 4 * 1024 * 1024  // 4MB
	maxBufferedBytes = 16 * 1024 * 1024 // 16MB
	handshakeTimeout = 10 * time.Second
)

// Server is the FisioFlow gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	auth     ResolvedAuth
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	version  string
	eventSeq atomic.Int64

	resolver *providers.Resolver
	router   *llm.Router // nil disables ai.complete

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithRouter enables completions through the given LLM router.
func WithRouter(r *llm.Router) ServerOption {
	return func(s *Server) {
		s.router = r
	}
}

// New creates a new gateway server over the provider settings resolver.
func New(cfg config.Config, resolver *providers.Resolver, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		auth:        ResolveAuth(cfg.Gateway.Auth),
		log:         log.Sub("gateway"),
		clients:     NewClientRegistry(log.Sub("clients")),
		handlers:    make(map[string]RequestHandler),
		version:     version.Version,
		resolver:    resolver,
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	s.registerRPCHandlers()
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// Requests without an Origin header (non-browser clients) are always allowed;
// otherwise the Origin must match an allowed entry or "*".
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// Handle registers an RPC method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the registered RPC method names, sorted.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	slices.Sort(methods)
	return methods
}

// Handler returns the HTTP handler with the full middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)

	h := apiAuthMiddleware(mux, s.auth, s.authLimiter, s.log)
	return withMiddleware(h, s.log, s.cfg.Gateway.AllowedOrigins)
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return net.JoinHostPort(host, fmt.Sprint(cfg.Port))
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the gateway on an existing listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServer = &http.Server{
		Addr:         ln.Addr().String(),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: llmCallTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	if s.cfg.Gateway.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Gateway.TLS.CertPath, s.cfg.Gateway.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Gateway.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled, credentials will be transmitted in cleartext")
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Str("auth", s.auth.Mode).
		Int("methods", len(s.handlers)).
		Int("providers", s.resolver.Catalog().Len()).
		Msg("gateway server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
		s.authLimiter.close()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades the request and serves one session until the
// peer disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.authLimiter.allow(r.RemoteAddr) {
		s.log.Warn().Str("remote", r.RemoteAddr).Msg("websocket rejected, too many failed auth attempts")
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxPayload)

	client, err := s.handshake(conn)
	if err != nil {
		var herr *handshakeError
		if errors.As(err, &herr) && herr.code == "unauthorized" {
			s.authLimiter.recordFailure(r.RemoteAddr)
		}
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket handshake failed")
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(r.Context(), client)
}

// handshakeError is a handshake failure reported to the peer before the
// connection is closed.
type handshakeError struct {
	reqID   string
	code    string
	message string
}

func (e *handshakeError) Error() string { return e.code + ": " + e.message }

// handshake runs challenge, connect and hello-ok on a fresh connection.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	challenge, err := NewEvent(EventConnectChallenge, ChallengePayload{
		Nonce: uuid.NewString(),
		TS:    time.Now().UnixMilli(),
	}, 0)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(challenge); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	params, auth, err := s.acceptConnect(frame)
	if err != nil {
		var herr *handshakeError
		if errors.As(err, &herr) {
			sendErrorAndClose(conn, herr.reqID, herr.code, herr.message)
		}
		return nil, err
	}

	client := newClient(conn, params.Client, auth.Method)
	resp, err := NewResponse(frame.ID, HelloOK{
		Protocol: ProtocolVersion,
		Server:   ServerInfo{Version: s.version, Commit: version.Commit, ConnID: client.ConnID},
		Features: Features{Methods: s.Methods(), Events: serverEvents},
		Policy:   ServerPolicy{MaxPayload: maxPayload, MaxBufferedBytes: maxBufferedBytes},
		Settings: settingsView(s.resolver, s.resolver.Load()),
	})
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("client", params.Client.ID).
		Str("clientVersion", params.Client.Version).
		Str("auth", auth.Method).
		Msg("client authenticated")
	return client, nil
}

// acceptConnect validates the connect request: frame shape, protocol range
// and credentials.
func (s *Server) acceptConnect(frame Frame) (ConnectParams, AuthResult, error) {
	var params ConnectParams
	fail := func(code, message string) (ConnectParams, AuthResult, error) {
		return params, AuthResult{}, &handshakeError{reqID: frame.ID, code: code, message: message}
	}

	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		return fail("protocol_error", "expected connect request")
	}
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return fail("invalid_params", "invalid connect params")
	}
	if !params.accepts(ProtocolVersion) {
		return fail("protocol_error", fmt.Sprintf("server speaks protocol %d", ProtocolVersion))
	}
	auth := Authorize(s.auth, params.Auth)
	if !auth.OK {
		return fail("unauthorized", auth.Reason)
	}
	return params, auth, nil
}

// readLoop serves request frames until the connection fails or closes.
// Requests are handled in order; a streaming ai.complete holds the loop.
func (s *Server) readLoop(ctx context.Context, client *Client) {
	log := s.log.With("connId", client.ConnID)
	for {
		frame, err := client.ReadFrame()
		switch {
		case err == nil:
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			log.Debug().Msg("client closed connection")
			return
		default:
			log.Warn().Err(err).Msg("read failed")
			return
		}

		if frame.Type != FrameTypeRequest {
			log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(ctx, client, frame)
	}
}

func (s *Server) dispatch(ctx context.Context, client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{Code: "method_not_found", Message: "unknown method: " + frame.Method})
		return
	}
	handler(&RequestContext{Ctx: ctx, Client: client, Frame: frame, Server: s})
}

// broadcastSettings pushes settings.changed to every session.
func (s *Server) broadcastSettings(settings providers.Settings) {
	s.clients.Broadcast(EventSettingsChanged, settingsView(s.resolver, settings), s.eventSeq.Add(1))
}

func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	conn.WriteJSON(NewErrorResponse(reqID, ErrorShape{Code: code, Message: message}))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message))
}
