package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/pairing"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/profile"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing/internal/ratelimit"
)

const (
	wsWriteWait = 1 * time.Second

	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = 64 * 1024
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueDepth       = 64
	defaultProfileLookupTimeout = 2 * time.Second
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Engine  *pairing.Engine
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Origins gates the WebSocket upgrade. Nil accepts every origin.
	Origins *origin.Policy

	// Profiles enriches peers that connect with ?externalId=. Nil disables
	// lookups.
	Profiles             profile.Lookup
	ProfileLookupTimeout time.Duration

	// Clock drives per-connection rate limits. Nil means wall time.
	Clock clock.Clock

	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SendQueueDepth                int
}

// Server implements the WebSocket signaling endpoint:
//
//   - GET /ws : one pairing peer per connection
//
// It also implements pairing.Sink so room timeouts and matches made when a
// pair block lapses reach the affected connections.
type Server struct {
	cfg    Config
	engine *pairing.Engine
	log    *slog.Logger

	upgrader websocket.Upgrader

	// order serializes engine commands with the dispatch of their results so
	// every connection sees events in the order the engine produced them.
	order sync.Mutex

	mu       sync.Mutex
	sessions map[pairing.PeerID]*wsSession
	closed   bool

	ctx     context.Context
	cancel  context.CancelFunc
	lookups sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.SignalingWSIdleTimeout <= 0 {
		cfg.SignalingWSIdleTimeout = defaultIdleTimeout
	}
	if cfg.SignalingWSPingInterval <= 0 {
		cfg.SignalingWSPingInterval = defaultPingInterval
	}
	if cfg.SignalingWSPingInterval >= cfg.SignalingWSIdleTimeout {
		cfg.SignalingWSPingInterval = cfg.SignalingWSIdleTimeout / 3
	}
	if cfg.MaxSignalingMessageBytes <= 0 {
		cfg.MaxSignalingMessageBytes = defaultMaxMessageBytes
	}
	if cfg.MaxSignalingMessagesPerSecond <= 0 {
		cfg.MaxSignalingMessagesPerSecond = defaultMaxMessagesPerSecond
	}
	if cfg.SendQueueDepth <= 0 {
		cfg.SendQueueDepth = defaultSendQueueDepth
	}
	if cfg.ProfileLookupTimeout <= 0 {
		cfg.ProfileLookupTimeout = defaultProfileLookupTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		engine: cfg.Engine,
		log:    cfg.Logger,
		upgrader: websocket.Upgrader{
			// Origin is checked against the policy before upgrading.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[pairing.PeerID]*wsSession),
		ctx:      ctx,
		cancel:   cancel,
	}
	cfg.Engine.SetSink(s)
	return s
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Deliver implements pairing.Sink. Timer-driven changes take order first,
// like client commands.
func (s *Server) Deliver(produce func() []pairing.Outbound) {
	s.order.Lock()
	defer s.order.Unlock()
	s.dispatchLocked(produce())
}

// Sessions returns the number of open connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Close stops accepting connections, sends a going-away close to every open
// one and waits for their writers to finish or for ctx to expire. Hijacked
// connections are not tracked by http.Server.Shutdown, so callers must use
// this as well.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*wsSession, 0, len(s.sessions))
	for _, ws := range s.sessions {
		sessions = append(sessions, ws)
	}
	s.mu.Unlock()

	s.cancel()

	var err error
	for _, ws := range sessions {
		ws.shutdown(websocket.CloseGoingAway, "server shutting down")
	}
	for _, ws := range sessions {
		select {
		case <-ws.writerDone:
			err = multierr.Append(err, ws.closeErr)
		case <-ctx.Done():
			return multierr.Append(err, fmt.Errorf("close signaling sessions: %w", ctx.Err()))
		}
	}

	s.lookups.Wait()
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Origins != nil {
		if err := s.cfg.Origins.Check(r); err != nil {
			s.cfg.Metrics.Drop(metrics.DropReasonOriginBlocked)
			s.log.Debug("rejected signaling origin", "origin", r.Header.Get("Origin"), "err", err)
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
	}

	externalID := r.URL.Query().Get("externalId")
	if externalID != "" && !profile.ValidExternalID(externalID) {
		http.Error(w, "invalid externalId", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ws := &wsSession{
		srv:        s,
		id:         pairing.PeerID(uuid.NewString()),
		conn:       conn,
		limiter:    ratelimit.NewPerSecond(s.cfg.Clock, s.cfg.MaxSignalingMessagesPerSecond),
		send:       make(chan []byte, s.cfg.SendQueueDepth),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go ws.writePump()

	if !s.track(ws) {
		ws.fail(codeShuttingDown, "server shutting down", websocket.CloseGoingAway, "server shutting down")
		<-ws.writerDone
		return
	}
	defer s.untrack(ws)

	s.order.Lock()
	out, err := s.engine.Connect(ws.id, externalID)
	s.dispatchLocked(out)
	s.order.Unlock()
	if errors.Is(err, pairing.ErrCapacity) {
		s.log.Warn("rejected signaling connection", "err", err)
		ws.shutdown(websocket.ClosePolicyViolation, "server at capacity")
		<-ws.writerDone
		return
	}
	if err != nil {
		s.log.Error("failed to register peer", "peer_id", ws.id, "err", err)
		ws.fail(codeInternalError, "failed to register peer", websocket.CloseInternalServerErr, "internal error")
		<-ws.writerDone
		return
	}
	s.log.Debug("signaling connection opened", "peer_id", ws.id, "remote_addr", r.RemoteAddr)

	if externalID != "" && s.cfg.Profiles != nil {
		s.lookupProfile(ws.id, externalID)
	}

	ws.readPump()

	s.order.Lock()
	s.dispatchLocked(s.engine.Disconnect(ws.id))
	s.order.Unlock()

	<-ws.writerDone
	s.log.Debug("signaling connection closed", "peer_id", ws.id)
}

func (s *Server) lookupProfile(id pairing.PeerID, externalID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.lookups.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.lookups.Done()

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.ProfileLookupTimeout)
		defer cancel()
		p, err := s.cfg.Profiles.GetProfile(ctx, externalID)
		if err != nil {
			s.log.Debug("profile lookup failed", "peer_id", id, "external_id", externalID, "err", err)
			return
		}

		s.order.Lock()
		defer s.order.Unlock()
		s.dispatchLocked(s.engine.SetProfile(id, p))
	}()
}

// handle runs one client command. Errors the engine reports have already
// been turned into events where the client needs to hear about them.
func (s *Server) handle(ws *wsSession, msg clientMessage) {
	s.order.Lock()
	defer s.order.Unlock()

	var (
		out []pairing.Outbound
		err error
	)
	switch msg.Type {
	case messageTypeFindPartner:
		out, err = s.engine.FindPartner(ws.id)
	case messageTypeOffer:
		out, err = s.engine.Relay(pairing.SignalOffer, ws.id, pairing.PeerID(msg.PeerID), msg.SDP)
	case messageTypeAnswer:
		out, err = s.engine.Relay(pairing.SignalAnswer, ws.id, pairing.PeerID(msg.PeerID), msg.SDP)
	case messageTypeICECandidate:
		out, err = s.engine.Relay(pairing.SignalICECandidate, ws.id, pairing.PeerID(msg.PeerID), msg.Candidate)
	case messageTypeConnectionEstablished:
		out, err = s.engine.Ack(ws.id)
		if errors.Is(err, pairing.ErrNotPartnered) {
			out = append(out, pairing.Outbound{To: ws.id, Event: pairing.Error{Code: pairing.CodeNotPartnered, Message: "not in a room"}})
		}
	case messageTypeLeave:
		out, err = s.engine.Leave(ws.id)
	case messageTypeHeartbeat:
		err = s.engine.Touch(ws.id)
	}
	if err != nil {
		s.log.Debug("signaling command failed", "peer_id", ws.id, "type", msg.Type, "err", err)
	}
	s.dispatchLocked(out)
}

func (s *Server) dispatchLocked(out []pairing.Outbound) {
	for _, o := range out {
		data, err := encodeEvent(o.Event)
		if err != nil {
			s.log.Error("failed to encode signaling event", "event", o.Event.EventType(), "err", err)
			continue
		}
		if o.Broadcast {
			for _, ws := range s.snapshot() {
				ws.enqueue(data)
			}
			continue
		}
		if ws := s.lookup(o.To); ws != nil {
			ws.enqueue(data)
		}
	}
}

func (s *Server) track(ws *wsSession) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[ws.id] = ws
	return true
}

func (s *Server) untrack(ws *wsSession) {
	s.mu.Lock()
	delete(s.sessions, ws.id)
	s.mu.Unlock()
}

func (s *Server) lookup(id pairing.PeerID) *wsSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id]
}

func (s *Server) snapshot() []*wsSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wsSession, 0, len(s.sessions))
	for _, ws := range s.sessions {
		out = append(out, ws)
	}
	return out
}

// wsSession is one signaling connection. readPump is the only reader and
// writePump the only writer of data frames.
type wsSession struct {
	srv     *Server
	id      pairing.PeerID
	conn    *websocket.Conn
	limiter *ratelimit.TokenBucket

	send chan []byte
	// done is closed once to ask the writer to flush, send closeFrame and
	// close the connection.
	done       chan struct{}
	closeOnce  sync.Once
	closeFrame []byte

	writerDone chan struct{}
	closeErr   error
}

func (ws *wsSession) readPump() {
	defer ws.shutdown(websocket.CloseNormalClosure, "")

	cfg := ws.srv.cfg
	ws.conn.SetReadLimit(cfg.MaxSignalingMessageBytes)
	_ = ws.conn.SetReadDeadline(time.Now().Add(cfg.SignalingWSIdleTimeout))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(cfg.SignalingWSIdleTimeout))
	})

	for {
		msgType, data, err := ws.conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				// gorilla has already sent 1009.
				cfg.Metrics.Drop(metrics.DropReasonBadMessage)
				ws.shutdown(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				ws.shutdown(websocket.CloseNormalClosure, "idle timeout")
			}
			return
		}
		_ = ws.conn.SetReadDeadline(time.Now().Add(cfg.SignalingWSIdleTimeout))

		// Rate limit after reading so the close frame is not lost to a reset
		// caused by unread data.
		if !ws.limiter.Allow(1) {
			cfg.Metrics.Drop(metrics.DropReasonRateLimited)
			ws.fail(codeRateLimited, "rate limit exceeded", websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != websocket.TextMessage {
			cfg.Metrics.Drop(metrics.DropReasonBadMessage)
			ws.fail(codeBadMessage, "expected text message", websocket.CloseUnsupportedData, "expected text message")
			return
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			cfg.Metrics.Drop(metrics.DropReasonBadMessage)
			ws.sendEvent(pairing.Error{Code: codeBadMessage, Message: err.Error()})
			continue
		}
		ws.srv.handle(ws, msg)
	}
}

func (ws *wsSession) writePump() {
	ticker := time.NewTicker(ws.srv.cfg.SignalingWSPingInterval)
	defer func() {
		ticker.Stop()
		if err := ws.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			ws.closeErr = err
		}
		close(ws.writerDone)
	}()

	for {
		select {
		case data := <-ws.send:
			if err := ws.write(websocket.TextMessage, data); err != nil {
				ws.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			if err := ws.write(websocket.PingMessage, nil); err != nil {
				ws.shutdown(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ws.done:
			if err := ws.flush(); err != nil {
				return
			}
			if ws.closeFrame != nil {
				_ = ws.conn.WriteControl(websocket.CloseMessage, ws.closeFrame, time.Now().Add(wsWriteWait))
			}
			return
		}
	}
}

// flush writes whatever is still queued.
func (ws *wsSession) flush() error {
	for {
		select {
		case data := <-ws.send:
			if err := ws.write(websocket.TextMessage, data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (ws *wsSession) write(messageType int, data []byte) error {
	_ = ws.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ws.conn.WriteMessage(messageType, data)
}

// enqueue never blocks. A connection whose queue is full is too slow to
// keep up with signaling and is closed.
func (ws *wsSession) enqueue(data []byte) {
	select {
	case <-ws.done:
		return
	default:
	}
	select {
	case ws.send <- data:
	default:
		ws.srv.cfg.Metrics.Drop(metrics.DropReasonSendOverflow)
		ws.srv.log.Warn("signaling send queue overflow", "peer_id", ws.id)
		ws.shutdown(websocket.ClosePolicyViolation, "send queue overflow")
	}
}

func (ws *wsSession) sendEvent(ev pairing.Event) {
	data, err := encodeEvent(ev)
	if err != nil {
		ws.srv.log.Error("failed to encode signaling event", "event", ev.EventType(), "err", err)
		return
	}
	ws.enqueue(data)
}

func (ws *wsSession) fail(code, message string, closeCode int, closeReason string) {
	ws.sendEvent(pairing.Error{Code: code, Message: message})
	ws.shutdown(closeCode, closeReason)
}

// shutdown is idempotent; the first close code wins. CloseAbnormalClosure
// means the connection is already broken and no close frame is sent.
func (ws *wsSession) shutdown(code int, reason string) {
	ws.closeOnce.Do(func() {
		if code != websocket.CloseAbnormalClosure {
			ws.closeFrame = websocket.FormatCloseMessage(code, reason)
		}
		close(ws.done)
	})
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
