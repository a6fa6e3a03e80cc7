package gateway

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mkessel/loremaster/internal/agent"
	"github.com/mkessel/loremaster/internal/config"
	"github.com/mkessel/loremaster/internal/dice"
	"github.com/mkessel/loremaster/internal/domain"
	"github.com/mkessel/loremaster/internal/logging"
	"github.com/mkessel/loremaster/internal/store"
	"github.com/mkessel/loremaster/internal/version"
)

// turnTimeout bounds a single agent turn, model calls included.
const turnTimeout = 5 * time.Minute

// backtraceLimit caps diagnostic stack traces in error events.
const backtraceLimit = 20

// Server is the Loremaster gateway HTTP + WebSocket server.
type Server struct {
	cfg      config.Config
	log      *logging.Logger
	clients  *ClientRegistry
	handlers map[string]RequestHandler
	eventSeq atomic.Int64

	games  *store.GameStore
	notes  *store.NoteStore
	agents *store.AgentStore
	runner *agent.Runner
	roller *dice.Roller
	queue  *TurnQueue

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// RequestHandler processes one WebSocket request frame.
type RequestHandler func(rc *RequestContext)

// RequestContext carries a request frame and its client.
type RequestContext struct {
	Client *Client
	Frame  Frame
	Server *Server
}

// Params unmarshals the request parameters into v.
func (rc *RequestContext) Params(v any) error {
	if len(rc.Frame.Params) == 0 {
		return nil
	}
	return json.Unmarshal(rc.Frame.Params, v)
}

// Respond sends a success response for this request.
func (rc *RequestContext) Respond(payload any) {
	if err := rc.Client.Respond(rc.Frame.ID, payload); err != nil {
		rc.Server.log.Warn().Err(err).Str("method", rc.Frame.Method).Msg("response send failed")
	}
}

// RespondError sends an error response for this request.
func (rc *RequestContext) RespondError(code, message string) {
	rc.Client.RespondError(rc.Frame.ID, ErrorShape{Code: code, Message: message})
}

// New creates a gateway server over the given stores and agent runner.
func New(cfg config.Config, log *logging.Logger, games *store.GameStore, notes *store.NoteStore, agents *store.AgentStore, runner *agent.Runner) *Server {
	s := &Server{
		cfg:      cfg,
		log:      log.Sub("gateway"),
		clients:  NewClientRegistry(log.Sub("clients")),
		handlers: make(map[string]RequestHandler),
		games:    games,
		notes:    notes,
		agents:   agents,
		runner:   runner,
		roller:   dice.New(nil),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}
	s.registerWSHandlers()
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket
// Origin headers. Browser clients must match a configured origin;
// requests without an Origin header pass.
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

// Handle registers a WebSocket method handler.
func (s *Server) Handle(method string, handler RequestHandler) {
	s.handlers[method] = handler
}

// Methods returns the list of registered WebSocket method names.
func (s *Server) Methods() []string {
	methods := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		methods = append(methods, m)
	}
	return methods
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "lan":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	s.queue = NewTurnQueue(ctx, s.log.Sub("jobs"))

	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)

	handler := withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
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
	}

	s.startedAt = time.Now()
	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Bool("auth", s.cfg.Gateway.AuthToken != "").
		Msg("gateway server ready")

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.clients.CloseAll()
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

// handleWebSocket upgrades HTTP to WebSocket and runs the connection loop.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(4 * 1024 * 1024)

	client, err := s.handshake(conn)
	if err != nil {
		s.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("handshake failed")
		conn.Close()
		return
	}

	s.clients.Add(client)
	defer func() {
		s.clients.Remove(client.ConnID)
		client.Close()
	}()

	s.readLoop(client)
}

// handshake reads the client's connect request, checks the auth token
// when one is configured, and answers hello-ok.
func (s *Server) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("reading connect: %w", err)
	}

	var frame Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		return nil, fmt.Errorf("parsing connect frame: %w", err)
	}
	if frame.Type != FrameTypeRequest || frame.Method != "connect" {
		sendErrorAndClose(conn, frame.ID, "protocol_error", "expected connect request")
		return nil, fmt.Errorf("expected connect request, got type=%s method=%s", frame.Type, frame.Method)
	}

	var params ConnectParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		sendErrorAndClose(conn, frame.ID, "invalid_params", "invalid connect params")
		return nil, fmt.Errorf("parsing connect params: %w", err)
	}

	if token := s.cfg.Gateway.AuthToken; token != "" {
		if !safeEqual(params.Token, token) {
			sendErrorAndClose(conn, frame.ID, "unauthorized", "invalid token")
			return nil, errors.New("auth failed: token mismatch")
		}
	}

	conn.SetReadDeadline(time.Time{})

	client := NewClient(conn, params.Client, s.log.Sub("ws"))

	hello := HelloOK{
		Protocol: ProtocolVersion,
		Server: ServerInfo{
			Version: version.Version,
			ConnID:  client.ConnID,
		},
		Features: Features{
			Methods: s.Methods(),
			Events:  []string{"game.event"},
		},
	}
	resp, err := NewResponse(frame.ID, hello)
	if err != nil {
		return nil, fmt.Errorf("creating hello response: %w", err)
	}
	if err := conn.WriteJSON(resp); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	s.log.Info().
		Str("connId", client.ConnID).
		Str("clientId", params.Client.ID).
		Msg("client connected")
	return client, nil
}

// safeEqual performs a constant-time string comparison.
func safeEqual(a, b string) bool {
	lenMatch := subtle.ConstantTimeEq(int32(len(a)), int32(len(b)))
	cmp := subtle.ConstantTimeCompare([]byte(a), []byte(b))
	return subtle.ConstantTimeSelect(lenMatch, cmp, 0) == 1
}

// readLoop processes incoming frames from a connected client.
func (s *Server) readLoop(client *Client) {
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", client.ConnID).Msg("client closed connection")
			} else {
				s.log.Warn().Err(err).Str("connId", client.ConnID).Msg("read error")
			}
			return
		}
		if frame.Type != FrameTypeRequest {
			s.log.Debug().Str("type", frame.Type).Msg("ignoring non-request frame")
			continue
		}
		s.dispatch(client, frame)
	}
}

// dispatch routes a request frame to the appropriate handler.
func (s *Server) dispatch(client *Client, frame Frame) {
	handler, ok := s.handlers[frame.Method]
	if !ok {
		client.RespondError(frame.ID, ErrorShape{
			Code:    "method_not_found",
			Message: "unknown method: " + frame.Method,
		})
		return
	}
	handler(&RequestContext{Client: client, Frame: frame, Server: s})
}

// registerWSHandlers sets up the WebSocket method handlers.
func (s *Server) registerWSHandlers() {
	s.Handle("ping", func(rc *RequestContext) {
		rc.Respond(map[string]any{"pong": time.Now().UnixMilli()})
	})
	s.Handle("subscribe", s.wsSubscribe)
	s.Handle("unsubscribe", s.wsUnsubscribe)
}

func (s *Server) wsSubscribe(rc *RequestContext) {
	var p SubscribeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	if _, err := s.games.Get(p.GameID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rc.RespondError("not_found", fmt.Sprintf("game %d not found", p.GameID))
			return
		}
		rc.RespondError("internal", err.Error())
		return
	}
	rc.Client.Subscribe(p.GameID)
	rc.Respond(map[string]any{"subscribed": p.GameID})
}

func (s *Server) wsUnsubscribe(rc *RequestContext) {
	var p SubscribeParams
	if err := rc.Params(&p); err != nil {
		rc.RespondError("invalid_params", err.Error())
		return
	}
	rc.Client.Unsubscribe(p.GameID)
	rc.Respond(map[string]any{"unsubscribed": p.GameID})
}

// publish fans one turn event out to the game's subscribers.
func (s *Server) publish(gameID int64, ev domain.StreamEvent) {
	seq := s.eventSeq.Add(1)
	s.clients.BroadcastGame(gameID, "game.event", GameEvent{GameID: gameID, StreamEvent: ev}, seq)
}

// enqueueTurn schedules an agent turn. Progress and the final result
// travel over the game's broadcast channel only.
func (s *Server) enqueueTurn(gameID int64, input string, contextItems []int64) (string, error) {
	return s.queue.Enqueue(gameID, func(ctx context.Context) {
		s.runTurn(ctx, gameID, input, contextItems)
	})
}

// runTurn executes one queued agent turn and bridges its events to the
// WebSocket subscribers.
func (s *Server) runTurn(ctx context.Context, gameID int64, input string, contextItems []int64) {
	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	// A panicking turn still owes subscribers a terminal event, or
	// they wait forever.
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error().Int64("game", gameID).Any("panic", rec).Msg("turn panicked")
			errEvent := domain.StreamEvent{Type: domain.EventError, Error: fmt.Sprintf("turn panicked: %v", rec)}
			if !s.cfg.Production() {
				errEvent.Backtrace = shortBacktrace(backtraceLimit)
			}
			s.publish(gameID, errEvent)
		}
	}()

	s.publish(gameID, domain.StreamEvent{Type: domain.EventStart})

	err := s.runner.Run(ctx, gameID, input, contextItems, func(ev domain.StreamEvent) {
		// Terminal events are built here from the durable state, so the
		// runner's own error event is enriched rather than relayed.
		if ev.Type == domain.EventError {
			return
		}
		s.publish(gameID, ev)
	})
	if err != nil {
		s.log.Error().Err(err).Int64("game", gameID).Msg("turn failed")
		errEvent := domain.StreamEvent{Type: domain.EventError, Error: err.Error()}
		if !s.cfg.Production() {
			errEvent.Backtrace = shortBacktrace(backtraceLimit)
		}
		s.publish(gameID, errEvent)
		return
	}

	state, err := s.agents.State(gameID)
	if err != nil {
		s.log.Error().Err(err).Int64("game", gameID).Msg("loading agent state after turn")
		s.publish(gameID, domain.StreamEvent{Type: domain.EventError, Error: err.Error()})
		return
	}
	s.publish(gameID, domain.StreamEvent{
		Type:    domain.EventJobComplete,
		History: state.History,
		Plan:    state.Plan,
	})
}

// sendErrorAndClose sends an error response and closes the connection.
func sendErrorAndClose(conn *websocket.Conn, reqID, code, message string) {
	errFrame := NewErrorResponse(reqID, ErrorShape{Code: code, Message: message})
	conn.WriteJSON(errFrame)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, message))
}
