package v16

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/seu-repo/ocpp-datum/internal/domain"
	"github.com/seu-repo/ocpp-datum/internal/observability/telemetry"
	"github.com/seu-repo/ocpp-datum/internal/ports"
)

const Subprotocol = "ocpp1.6"

var upgrader = websocket.Upgrader{
	Subprotocols: []string{Subprotocol},
	CheckOrigin:  func(r *http.Request) bool { return true },
}

// Options configures the websocket endpoint.
type Options struct {
	// Path prefix; the charge point identifier follows it.
	Path         string
	NodeID       string
	PingInterval time.Duration
}

// client is one connected charge point.
type client struct {
	conn      *websocket.Conn
	cp        *domain.ChargePoint
	sessionID string
	writeMu   sync.Mutex
}

func (c *client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server handles OCPP 1.6 WebSocket connections
type Server struct {
	chargePoints ports.ChargePointRepository
	statuses     ports.ChargePointStatusRepository
	handlers     *Handlers
	clock        ports.Clock
	opts         Options
	clients      map[string]*client
	mu           sync.RWMutex
	httpServer   *http.Server
	log          *zap.Logger
}

// NewServer creates a new OCPP 1.6 WebSocket server. Connection changes are
// reported to statuses.
func NewServer(handlers *Handlers, chargePoints ports.ChargePointRepository, statuses ports.ChargePointStatusRepository, clock ports.Clock, opts Options, log *zap.Logger) *Server {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if opts.Path == "" {
		opts.Path = "/ocpp/"
	}
	if !strings.HasSuffix(opts.Path, "/") {
		opts.Path += "/"
	}
	return &Server{
		chargePoints: chargePoints,
		statuses:     statuses,
		handlers:     handlers,
		clock:        clock,
		opts:         opts,
		clients:      make(map[string]*client),
		log:          log,
	}
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.opts.Path, s.handleWebSocket)
	return mux
}

// Start starts the OCPP 1.6 WebSocket server on the given port
func (s *Server) Start(port int) error {
	return s.serve(port, "", "")
}

// StartTLS is Start over wss using the given certificate pair.
func (s *Server) StartTLS(port int, certFile, keyFile string) error {
	return s.serve(port, certFile, keyFile)
}

func (s *Server) serve(port int, certFile, keyFile string) error {
	addr := fmt.Sprintf(":%d", port)
	s.mu.Lock()
	s.httpServer = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting OCPP 1.6 WebSocket Server",
		zap.String("addr", addr),
		zap.String("path", s.opts.Path),
		zap.Bool("tls", certFile != ""),
	)
	var err error
	if certFile != "" {
		err = srv.ListenAndServeTLS(certFile, keyFile)
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops accepting connections and closes all client connections
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	for id, c := range s.clients {
		c.conn.Close()
		delete(s.clients, id)
	}
	s.mu.Unlock()

	s.log.Info("OCPP 1.6 server stopped")
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Connected reports whether a charge point with identifier is connected.
func (s *Server) Connected(identifier string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[identifier]
	return ok
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	identifier := strings.Trim(strings.TrimPrefix(r.URL.Path, s.opts.Path), "/")
	if identifier == "" {
		http.Error(w, "missing charge point identifier", http.StatusBadRequest)
		return
	}

	cp, err := s.chargePoints.FindByIdentifier(r.Context(), identifier)
	if err != nil {
		s.log.Error("Failed to look up charge point", zap.String("identifier", identifier), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if cp == nil || !cp.Enabled {
		s.log.Warn("Rejected unknown charge point", zap.String("identifier", identifier))
		http.Error(w, "unknown charge point", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, cp: cp, sessionID: uuid.New().String()}
	s.mu.Lock()
	if old, ok := s.clients[identifier]; ok {
		old.conn.Close()
	}
	s.clients[identifier] = c
	s.mu.Unlock()

	telemetry.ConnectedChargePoints.Inc()
	s.reportConnection(c, true)
	s.log.Info("OCPP 1.6 charge point connected",
		zap.String("identifier", identifier),
		zap.String("owner_id", cp.OwnerID),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		conn.Close()
		s.mu.Lock()
		current := s.clients[identifier] == c
		if current {
			delete(s.clients, identifier)
		}
		s.mu.Unlock()
		telemetry.ConnectedChargePoints.Dec()
		// A replaced connection must not mark the charge point offline.
		if current {
			s.reportConnection(c, false)
		}
		s.log.Info("OCPP 1.6 charge point disconnected", zap.String("identifier", identifier))
	}()

	if s.opts.PingInterval > 0 {
		go s.keepAlive(ctx, c, identifier)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		response, err := s.processMessage(ctx, c.cp, message)
		if err != nil {
			s.log.Error("Failed to process OCPP 1.6 message",
				zap.String("identifier", identifier),
				zap.Error(err),
			)
			continue
		}

		if response != nil {
			if err := c.write(response); err != nil {
				s.log.Error("Failed to send response", zap.Error(err))
				break
			}
		}
	}
}

func (s *Server) reportConnection(c *client, connected bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	connectedTo := ""
	if connected {
		connectedTo = s.opts.NodeID
	}
	err := s.statuses.UpdateConnectionStatus(ctx, c.cp.OwnerID, c.cp.Identifier, connectedTo, c.sessionID, s.clock.Now(), connected)
	if err != nil {
		s.log.Warn("Failed to report connection status",
			zap.String("identifier", c.cp.Identifier),
			zap.Bool("connected", connected),
			zap.Error(err),
		)
	}
}

func (s *Server) keepAlive(ctx context.Context, c *client, identifier string) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.PingInterval / 2)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.log.Debug("Ping failed", zap.String("identifier", identifier), zap.Error(err))
				return
			}
		}
	}
}

// processMessage parses and routes OCPP 1.6 JSON messages
// Format: [MessageTypeId, UniqueId, Action, Payload] for Call
// Format: [MessageTypeId, UniqueId, Payload] for CallResult
func (s *Server) processMessage(ctx context.Context, cp *domain.ChargePoint, raw []byte) ([]byte, error) {
	var msg []json.RawMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("invalid OCPP message format: %w", err)
	}

	if len(msg) < 3 {
		return nil, fmt.Errorf("OCPP message too short")
	}

	var msgType int
	if err := json.Unmarshal(msg[0], &msgType); err != nil {
		return nil, fmt.Errorf("invalid message type: %w", err)
	}

	var uniqueID string
	if err := json.Unmarshal(msg[1], &uniqueID); err != nil {
		return nil, fmt.Errorf("invalid unique ID: %w", err)
	}

	if msgType != CallMessage {
		return nil, nil // Only handle Call messages from charge points
	}
	if len(msg) < 4 {
		return json.Marshal([]interface{}{CallErrorMessage, uniqueID, ErrorCodeFormationViolation, "call without payload", struct{}{}})
	}

	var action string
	if err := json.Unmarshal(msg[2], &action); err != nil {
		return nil, fmt.Errorf("invalid action: %w", err)
	}

	s.log.Debug("Received OCPP 1.6 message",
		zap.String("identifier", cp.Identifier),
		zap.String("action", action),
		zap.String("unique_id", uniqueID),
	)

	responsePayload, err := s.handlers.HandleMessage(ctx, cp, action, msg[3])
	if err != nil {
		code := ErrorCodeInternalError
		var ce *callError
		if errors.As(err, &ce) {
			code = ce.code
		} else {
			s.log.Error("OCPP 1.6 handler failed",
				zap.String("identifier", cp.Identifier),
				zap.String("action", action),
				zap.Error(err),
			)
		}
		errorResp := []interface{}{CallErrorMessage, uniqueID, code, err.Error(), struct{}{}}
		return json.Marshal(errorResp)
	}

	telemetry.OCPPMessagesTotal.WithLabelValues(action, "out").Inc()
	result := []interface{}{CallResultMessage, uniqueID, responsePayload}
	return json.Marshal(result)
}
