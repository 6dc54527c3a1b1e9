package waclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"warelay/pkg/constants"
	"warelay/pkg/waclient/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// socketFrame is the wire envelope exchanged with the multi-device gateway.
// Inbound frame types: message, qr, status, ack. Outbound: send, seen,
// resolve, chat, logout.
type socketFrame struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	State      string          `json:"state,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	QR         string          `json:"qr,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Error      string          `json:"error,omitempty"`
	StatusCode int             `json:"statusCode,omitempty"`
	MessageID  string          `json:"messageId,omitempty"`
	Timestamp  int64           `json:"timestamp,omitempty"`
	Exists     bool            `json:"exists,omitempty"`
	Jid        string          `json:"jid,omitempty"`
}

type socketSendPayload struct {
	ChatID   string              `json:"chatId"`
	Text     string              `json:"text,omitempty"`
	Image    *types.MediaContent `json:"image,omitempty"`
	Video    *types.MediaContent `json:"video,omitempty"`
	Audio    *types.MediaContent `json:"audio,omitempty"`
	Document *types.MediaContent `json:"document,omitempty"`
}

type socketChatPayload struct {
	ChatID string `json:"chatId"`
}

type socketResolvePayload struct {
	Phone string `json:"phone"`
}

// SocketConfig configures the multi-device gateway adapter
type SocketConfig struct {
	Name              string
	GatewayURL        string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	AckTimeout        time.Duration
	AuthStore         *AuthStore
}

func (c *SocketConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "socket"
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = constants.DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Duration(constants.DefaultReconnectDelaySec) * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = time.Duration(constants.DefaultSendAckTimeoutSec) * time.Second
	}
}

// terminalDisconnectReasons require re-authentication; the adapter does not
// auto-reconnect for these.
var terminalDisconnectReasons = map[string]struct{}{
	"logged-out":  {},
	"bad-session": {},
	"timed-out":   {},
}

func isTerminalReason(reason string) bool {
	_, terminal := terminalDisconnectReasons[reason]
	return terminal
}

// SocketClient adapts the multi-device websocket gateway to the WAClient
// contract. Provider events arrive as JSON frames on a single socket; sends
// are correlated to acks by request id.
type SocketClient struct {
	cfg     SocketConfig
	logger  *logrus.Entry
	emitter *emitter

	mu                   sync.Mutex
	conn                 *websocket.Conn
	state                types.ConnectionState
	readyFired           bool
	readyCh              chan struct{}
	awaitingQR           bool
	lastDisconnectReason string
	lastAuthFailureAt    time.Time
	fatalInitError       string
	reconnectsLeft       int
	destroyed            bool
	loopCtx              context.Context
	loopCancel           context.CancelFunc

	pendingMu sync.Mutex
	pending   map[string]chan socketFrame
	seq       uint64
}

// NewSocketClient creates a multi-device gateway adapter
func NewSocketClient(cfg SocketConfig, logger *logrus.Logger) *SocketClient {
	cfg.applyDefaults()
	return &SocketClient{
		cfg:     cfg,
		logger:  logger.WithField("adapter", cfg.Name),
		emitter: newEmitter(),
		state:   types.ConnectionDisconnected,
		readyCh: make(chan struct{}),
		pending: make(map[string]chan socketFrame),
	}
}

func (s *SocketClient) Name() string {
	return s.cfg.Name
}

// Initialize dials the gateway. Idempotent: a second call while connected or
// connecting is a no-op. Dial failures are surfaced through disconnected
// events and the bounded reconnect policy, not the error return.
func (s *SocketClient) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return fmt.Errorf("client %s is destroyed", s.cfg.Name)
	}
	if s.state != types.ConnectionDisconnected {
		s.mu.Unlock()
		return nil
	}
	if s.cfg.GatewayURL == "" {
		s.fatalInitError = "missing-gateway-url"
		s.mu.Unlock()
		return fmt.Errorf("gateway URL is required")
	}
	s.state = types.ConnectionConnecting
	s.reconnectsLeft = s.cfg.ReconnectAttempts
	if s.loopCancel == nil {
		s.loopCtx, s.loopCancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	s.emitter.emit(types.Event{Type: types.EventChangeState, State: types.ConnectionConnecting})
	s.dial()
	return nil
}

func (s *SocketClient) dial() {
	dialCtx, cancel := context.WithTimeout(s.loopCtx, time.Duration(constants.DefaultDialTimeoutSec)*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.cfg.GatewayURL, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Failed to dial gateway")
		s.handleDisconnect("connect-failure")
		return
	}
	conn.SetReadLimit(constants.DefaultReadLimitBytes)

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "destroyed")
		return
	}
	s.conn = conn
	s.mu.Unlock()

	go s.readLoop(conn)
}

func (s *SocketClient) readLoop(conn *websocket.Conn) {
	for {
		var frame socketFrame
		if err := wsjson.Read(s.loopCtx, conn, &frame); err != nil {
			s.handleDisconnect(reasonFromReadError(err))
			return
		}
		s.handleFrame(frame)
	}
}

func reasonFromReadError(err error) string {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return "connection-closed"
	case -1:
		return "stream-error"
	default:
		return "connection-closed"
	}
}

func (s *SocketClient) handleFrame(frame socketFrame) {
	switch frame.Type {
	case "qr":
		s.mu.Lock()
		s.awaitingQR = true
		s.mu.Unlock()
		s.emitter.emit(types.Event{Type: types.EventQR, QR: frame.QR})

	case "status":
		switch frame.State {
		case "open":
			s.handleOpen()
		case "close":
			reason := frame.Reason
			if reason == "" {
				reason = "connection-closed"
			}
			s.handleDisconnect(reason)
		default:
			s.logger.WithField("state", frame.State).Debug("Ignoring unknown status frame")
		}

	case "message":
		msg, err := normalizeSocketMessage(frame.Payload)
		if err != nil {
			s.logger.WithError(err).Warn("Dropping malformed message frame")
			return
		}
		s.emitter.emit(types.Event{Type: types.EventMessage, Message: msg})

	case "ack":
		s.pendingMu.Lock()
		ch, ok := s.pending[frame.ID]
		if ok {
			delete(s.pending, frame.ID)
		}
		s.pendingMu.Unlock()
		if ok {
			ch <- frame
		}

	default:
		s.logger.WithField("type", frame.Type).Debug("Ignoring unknown frame type")
	}
}

// handleOpen transitions to connected and fires ready exactly once per
// connection. A spurious second open frame is a no-op.
func (s *SocketClient) handleOpen() {
	s.mu.Lock()
	if s.destroyed || s.state == types.ConnectionConnected {
		s.mu.Unlock()
		return
	}
	s.state = types.ConnectionConnected
	s.awaitingQR = false
	s.reconnectsLeft = s.cfg.ReconnectAttempts
	fireReady := !s.readyFired
	s.readyFired = true
	close(s.readyCh)
	s.mu.Unlock()

	s.emitter.emit(types.Event{Type: types.EventChangeState, State: types.ConnectionConnected})
	s.emitter.emit(types.Event{Type: types.EventAuthenticated})
	if fireReady {
		s.emitter.emit(types.Event{Type: types.EventReady})
	}
}

// handleDisconnect classifies the cause: terminal reasons fire auth_failure
// and stop; anything else retries the connection up to the configured
// ceiling, after which the adapter stays disconnected for external
// supervision.
func (s *SocketClient) handleDisconnect(reason string) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	wasDisconnected := s.state == types.ConnectionDisconnected && s.conn == nil
	s.state = types.ConnectionDisconnected
	s.readyFired = false
	s.readyCh = make(chan struct{})
	s.lastDisconnectReason = reason
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, reason)
		s.conn = nil
	}
	terminal := isTerminalReason(reason)
	if terminal {
		s.lastAuthFailureAt = time.Now()
	}
	retry := !terminal && s.reconnectsLeft > 0
	if retry {
		s.reconnectsLeft--
	}
	loopCtx := s.loopCtx
	s.mu.Unlock()

	if loopCtx == nil {
		// Never initialized; nothing to reconnect to
		retry = false
	}

	if wasDisconnected && !retry {
		return
	}

	s.emitter.emit(types.Event{Type: types.EventChangeState, State: types.ConnectionDisconnected})
	s.emitter.emit(types.Event{Type: types.EventDisconnected, Reason: reason})
	if terminal {
		s.logger.WithField("reason", reason).Warn("Terminal disconnect, re-authentication required")
		s.emitter.emit(types.Event{Type: types.EventAuthFailure, Reason: reason})
		return
	}

	if !retry {
		s.logger.WithField("reason", reason).Warn("Reconnect budget exhausted, staying disconnected")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"reason": reason,
		"delay":  s.cfg.ReconnectDelay.Seconds(),
	}).Info("Scheduling reconnect")

	go func() {
		select {
		case <-loopCtx.Done():
			return
		case <-time.After(s.cfg.ReconnectDelay):
		}

		s.mu.Lock()
		if s.destroyed || s.state != types.ConnectionDisconnected {
			s.mu.Unlock()
			return
		}
		s.state = types.ConnectionConnecting
		s.mu.Unlock()

		s.emitter.emit(types.Event{Type: types.EventChangeState, State: types.ConnectionConnecting})
		s.dial()
	}()
}

// request writes a frame and waits for the matching ack
func (s *SocketClient) request(ctx context.Context, frame socketFrame) (*socketFrame, error) {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == types.ConnectionConnected
	s.mu.Unlock()

	if !connected || conn == nil {
		return nil, types.ErrNotConnected
	}

	frame.ID = fmt.Sprintf("%s-%d", s.cfg.Name, atomic.AddUint64(&s.seq, 1))
	ackCh := make(chan socketFrame, 1)
	s.pendingMu.Lock()
	s.pending[frame.ID] = ackCh
	s.pendingMu.Unlock()

	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, frame.ID)
		s.pendingMu.Unlock()
	}()

	writeCtx, cancel := context.WithTimeout(ctx, time.Duration(constants.DefaultWriteTimeoutSec)*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, frame); err != nil {
		return nil, fmt.Errorf("failed to write %s frame: %w", frame.Type, err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.cfg.AckTimeout):
		return nil, fmt.Errorf("timed out waiting for %s ack", frame.Type)
	case ack := <-ackCh:
		return &ack, nil
	}
}

func (s *SocketClient) SendMessage(ctx context.Context, chatID string, content types.OutboundContent) (*types.SendResult, error) {
	payload := socketSendPayload{ChatID: chatID, Text: content.Text}
	if content.Media != nil {
		switch types.InferMediaBucket(content.Media.MimeType) {
		case types.MediaBucketImage:
			payload.Image = content.Media
		case types.MediaBucketVideo:
			payload.Video = content.Media
		case types.MediaBucketAudio:
			payload.Audio = content.Media
		default:
			payload.Document = content.Media
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &types.SendError{StatusCode: 400, Message: "invalid send payload", Err: err}
	}

	ack, err := s.request(ctx, socketFrame{Type: "send", Payload: data})
	if err != nil {
		return nil, err
	}
	if ack.Error != "" {
		return nil, &types.SendError{StatusCode: ack.StatusCode, Message: ack.Error}
	}

	ts := ack.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return &types.SendResult{MessageID: ack.MessageID, Timestamp: ts}, nil
}

// SendSeen is best-effort: read receipts are not worth failing a caller over
func (s *SocketClient) SendSeen(ctx context.Context, chatID string) error {
	data, err := json.Marshal(socketChatPayload{ChatID: chatID})
	if err != nil {
		return nil
	}
	if _, err := s.request(ctx, socketFrame{Type: "seen", Payload: data}); err != nil {
		s.logger.WithError(err).WithField("chatId", chatID).Warn("Failed to send read receipt")
	}
	return nil
}

func (s *SocketClient) GetState() types.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SocketClient) IsReady() bool {
	return s.GetState() == types.ConnectionConnected
}

func (s *SocketClient) WaitReady(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.state == types.ConnectionConnected {
			s.mu.Unlock()
			return nil
		}
		ready := s.readyCh
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}
	}
}

func (s *SocketClient) Readiness() types.ClientReadinessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.ClientReadinessState{
		Name:                 s.cfg.Name,
		Ready:                s.state == types.ConnectionConnected,
		State:                s.state,
		AwaitingQRScan:       s.awaitingQR,
		LastDisconnectReason: s.lastDisconnectReason,
		LastAuthFailureAt:    s.lastAuthFailureAt,
		FatalInitError:       s.fatalInitError,
	}
}

// GetNumberID resolves a phone number to its WhatsApp identity. Any
// resolution failure maps to (nil, nil); existence checks are advisory.
func (s *SocketClient) GetNumberID(ctx context.Context, phone string) (*types.NumberID, error) {
	digits := stripNonDigits(phone)
	if len(digits) < constants.MinPhoneNumberLength {
		return nil, nil
	}

	data, err := json.Marshal(socketResolvePayload{Phone: digits})
	if err != nil {
		return nil, nil
	}
	ack, err := s.request(ctx, socketFrame{Type: "resolve", Payload: data})
	if err != nil {
		s.logger.WithError(err).WithField("phone", digits).Debug("Number resolution failed")
		return nil, nil
	}
	if ack.Error != "" || !ack.Exists {
		return nil, nil
	}
	return &types.NumberID{Serialized: ack.Jid}, nil
}

func (s *SocketClient) HydrateChat(ctx context.Context, chatID string) error {
	data, err := json.Marshal(socketChatPayload{ChatID: chatID})
	if err != nil {
		return fmt.Errorf("failed to marshal chat request: %w", err)
	}
	ack, err := s.request(ctx, socketFrame{Type: "chat", Payload: data})
	if err != nil {
		return fmt.Errorf("failed to hydrate chat %s: %w", chatID, err)
	}
	if ack.Error != "" {
		return fmt.Errorf("failed to hydrate chat %s: %s", chatID, ack.Error)
	}
	return nil
}

// Logout terminates the session and clears local auth material. Cleanup is
// best-effort; filesystem errors are logged and swallowed.
func (s *SocketClient) Logout(ctx context.Context) error {
	if _, err := s.request(ctx, socketFrame{Type: "logout"}); err != nil {
		s.logger.WithError(err).Warn("Logout frame failed")
	}
	if s.cfg.AuthStore != nil {
		if err := s.cfg.AuthStore.Clear(); err != nil {
			s.logger.WithError(err).Warn("Failed to clear auth material")
		}
	}
	s.handleDisconnect("logged-out")
	return nil
}

func (s *SocketClient) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	if s.loopCancel != nil {
		s.loopCancel()
	}
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "destroyed")
		s.conn = nil
	}
	s.state = types.ConnectionDisconnected
	s.mu.Unlock()

	s.emitter.reset()
	return nil
}

func (s *SocketClient) On(event types.EventType, handler types.EventHandler) int {
	return s.emitter.on(event, handler, false)
}

func (s *SocketClient) Once(event types.EventType, handler types.EventHandler) int {
	return s.emitter.on(event, handler, true)
}

func (s *SocketClient) Off(event types.EventType, id int) {
	s.emitter.off(event, id)
}

func (s *SocketClient) ListenerCount(event types.EventType) int {
	return s.emitter.listenerCount(event)
}

func stripNonDigits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
