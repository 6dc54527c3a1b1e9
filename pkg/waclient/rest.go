package waclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"warelay/pkg/constants"
	"warelay/pkg/waclient/types"

	"github.com/sirupsen/logrus"
)

// RestConfig configures the browser gateway adapter
type RestConfig struct {
	Name               string
	BaseURL            string
	APIKey             string
	SessionName        string
	Timeout            time.Duration
	StatusPollInterval time.Duration
	ReconnectAttempts  int
	ReconnectDelay     time.Duration
	AuthStore          *AuthStore
}

func (c *RestConfig) applyDefaults() {
	if c.Name == "" {
		c.Name = "rest"
	}
	if c.SessionName == "" {
		c.SessionName = "default"
	}
	if c.Timeout <= 0 {
		c.Timeout = time.Duration(constants.DefaultHTTPTimeoutSec) * time.Second
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = time.Duration(constants.DefaultStatusPollSec) * time.Second
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = constants.DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Duration(constants.DefaultReconnectDelaySec) * time.Second
	}
}

type restSessionStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type restSendResponse struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
	Error     string `json:"error,omitempty"`
}

type restQRPayload struct {
	QR string `json:"qr"`
}

// RestClient adapts the browser-automation gateway's HTTP API to the WAClient
// contract. Inbound events arrive as webhook posts routed here by the server;
// readiness additionally tracks session-status polling so a lost webhook does
// not wedge the adapter.
type RestClient struct {
	cfg     RestConfig
	logger  *logrus.Entry
	emitter *emitter
	client  *http.Client

	mu                   sync.Mutex
	state                types.ConnectionState
	readyFired           bool
	readyCh              chan struct{}
	awaitingQR           bool
	lastDisconnectReason string
	lastAuthFailureAt    time.Time
	fatalInitError       string
	reconnectsLeft       int
	destroyed            bool
	pollCancel           context.CancelFunc
}

// NewRestClient creates a browser gateway adapter
func NewRestClient(cfg RestConfig, logger *logrus.Logger) *RestClient {
	cfg.applyDefaults()
	return &RestClient{
		cfg:     cfg,
		logger:  logger.WithField("adapter", cfg.Name),
		emitter: newEmitter(),
		client:  &http.Client{Timeout: cfg.Timeout},
		state:   types.ConnectionDisconnected,
		readyCh: make(chan struct{}),
	}
}

func (r *RestClient) Name() string {
	return r.cfg.Name
}

// Initialize starts the gateway session and the status poll loop. Idempotent;
// session-start failures surface through status polling, not the return.
func (r *RestClient) Initialize(ctx context.Context) error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return fmt.Errorf("client %s is destroyed", r.cfg.Name)
	}
	if r.pollCancel != nil {
		r.mu.Unlock()
		return nil
	}
	if r.cfg.BaseURL == "" {
		r.fatalInitError = "missing-base-url"
		r.mu.Unlock()
		return fmt.Errorf("API base URL is required")
	}
	r.state = types.ConnectionConnecting
	r.reconnectsLeft = r.cfg.ReconnectAttempts
	pollCtx, cancel := context.WithCancel(context.Background())
	r.pollCancel = cancel
	r.mu.Unlock()

	r.emitter.emit(types.Event{Type: types.EventChangeState, State: types.ConnectionConnecting})

	if err := r.startSession(ctx); err != nil {
		r.logger.WithError(err).Warn("Failed to start gateway session")
	}

	go r.pollLoop(pollCtx)
	return nil
}

func (r *RestClient) startSession(ctx context.Context) error {
	return r.postJSON(ctx, fmt.Sprintf("/api/sessions/%s/start", r.cfg.SessionName), nil, nil)
}

func (r *RestClient) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.StatusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

func (r *RestClient) pollOnce(ctx context.Context) {
	var status restSessionStatus
	reqCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	if err := r.getJSON(reqCtx, fmt.Sprintf("/api/sessions/%s", r.cfg.SessionName), &status); err != nil {
		r.logger.WithError(err).Debug("Session status poll failed")
		return
	}
	r.applySessionStatus(status.Status, status.Reason)
}

// applySessionStatus drives the connection state machine from either the
// status poll or a webhook session.status event. Both sources funnel through
// here so the ready-once guard holds regardless of event origin.
func (r *RestClient) applySessionStatus(status, reason string) {
	switch status {
	case "WORKING":
		r.handleOpen()
	case "SCAN_QR_CODE":
		r.mu.Lock()
		r.awaitingQR = true
		if r.state == types.ConnectionConnected {
			r.mu.Unlock()
			r.handleDisconnect("bad-session")
			return
		}
		r.state = types.ConnectionConnecting
		r.mu.Unlock()
	case "STARTING":
		r.mu.Lock()
		if r.state == types.ConnectionDisconnected {
			r.state = types.ConnectionConnecting
		}
		r.mu.Unlock()
	case "STOPPED":
		r.handleDisconnect("session-stopped")
	case "FAILED":
		if reason == "" {
			reason = "bad-session"
		}
		r.handleDisconnect(reason)
	default:
		r.logger.WithField("status", status).Debug("Ignoring unknown session status")
	}
}

func (r *RestClient) handleOpen() {
	r.mu.Lock()
	if r.destroyed || r.state == types.ConnectionConnected {
		r.mu.Unlock()
		return
	}
	r.state = types.ConnectionConnected
	r.awaitingQR = false
	r.reconnectsLeft = r.cfg.ReconnectAttempts
	fireReady := !r.readyFired
	r.readyFired = true
	close(r.readyCh)
	r.mu.Unlock()

	r.emitter.emit(types.Event{Type: types.EventChangeState, State: types.ConnectionConnected})
	r.emitter.emit(types.Event{Type: types.EventAuthenticated})
	if fireReady {
		r.emitter.emit(types.Event{Type: types.EventReady})
	}
}

func (r *RestClient) handleDisconnect(reason string) {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return
	}
	wasDisconnected := r.state == types.ConnectionDisconnected
	r.state = types.ConnectionDisconnected
	r.readyFired = false
	r.readyCh = make(chan struct{})
	r.lastDisconnectReason = reason
	terminal := isTerminalReason(reason)
	if terminal {
		r.lastAuthFailureAt = time.Now()
	}
	retry := !terminal && r.reconnectsLeft > 0
	if retry {
		r.reconnectsLeft--
	}
	r.mu.Unlock()

	if wasDisconnected && !retry {
		return
	}

	r.emitter.emit(types.Event{Type: types.EventChangeState, State: types.ConnectionDisconnected})
	r.emitter.emit(types.Event{Type: types.EventDisconnected, Reason: reason})
	if terminal {
		r.logger.WithField("reason", reason).Warn("Terminal disconnect, re-authentication required")
		r.emitter.emit(types.Event{Type: types.EventAuthFailure, Reason: reason})
		return
	}
	if !retry {
		r.logger.WithField("reason", reason).Warn("Session restart budget exhausted")
		return
	}

	go func() {
		time.Sleep(r.cfg.ReconnectDelay)

		r.mu.Lock()
		if r.destroyed || r.state != types.ConnectionDisconnected {
			r.mu.Unlock()
			return
		}
		r.state = types.ConnectionConnecting
		r.mu.Unlock()

		r.emitter.emit(types.Event{Type: types.EventChangeState, State: types.ConnectionConnecting})
		ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
		defer cancel()
		if err := r.startSession(ctx); err != nil {
			r.logger.WithError(err).Warn("Session restart failed")
		}
	}()
}

// HandleWebhookEvent ingests one gateway webhook post. Unknown event types
// are ignored so gateway upgrades do not break ingestion.
func (r *RestClient) HandleWebhookEvent(ctx context.Context, event *types.WebhookEvent) error {
	switch event.Event {
	case "message":
		msg, err := normalizeRestMessage(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to normalize webhook message: %w", err)
		}
		r.emitter.emit(types.Event{Type: types.EventMessage, Message: msg})
		return nil

	case "qr":
		var payload restQRPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal qr payload: %w", err)
		}
		r.mu.Lock()
		r.awaitingQR = true
		r.mu.Unlock()
		r.emitter.emit(types.Event{Type: types.EventQR, QR: payload.QR})
		return nil

	case "session.status":
		var status restSessionStatus
		if err := json.Unmarshal(event.Payload, &status); err != nil {
			return fmt.Errorf("failed to unmarshal session status: %w", err)
		}
		r.applySessionStatus(status.Status, status.Reason)
		return nil

	default:
		r.logger.WithField("event", event.Event).Debug("Ignoring unknown webhook event")
		return nil
	}
}

func (r *RestClient) SendMessage(ctx context.Context, chatID string, content types.OutboundContent) (*types.SendResult, error) {
	r.mu.Lock()
	connected := r.state == types.ConnectionConnected
	r.mu.Unlock()
	if !connected {
		return nil, types.ErrNotConnected
	}

	endpoint := "/api/sendText"
	body := map[string]interface{}{
		"session": r.cfg.SessionName,
		"chatId":  chatID,
	}
	if content.Media != nil {
		switch types.InferMediaBucket(content.Media.MimeType) {
		case types.MediaBucketImage:
			endpoint = "/api/sendImage"
		case types.MediaBucketVideo:
			endpoint = "/api/sendVideo"
		case types.MediaBucketAudio:
			endpoint = "/api/sendVoice"
		default:
			endpoint = "/api/sendFile"
		}
		body["file"] = content.Media
		if content.Media.Caption != "" {
			body["caption"] = content.Media.Caption
		}
	} else {
		body["text"] = content.Text
	}

	var resp restSendResponse
	if err := r.postJSON(ctx, endpoint, body, &resp); err != nil {
		return nil, err
	}
	ts := resp.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	return &types.SendResult{MessageID: resp.MessageID, Timestamp: ts}, nil
}

func (r *RestClient) SendSeen(ctx context.Context, chatID string) error {
	body := map[string]interface{}{
		"session": r.cfg.SessionName,
		"chatId":  chatID,
	}
	if err := r.postJSON(ctx, "/api/sendSeen", body, nil); err != nil {
		r.logger.WithError(err).WithField("chatId", chatID).Warn("Failed to send read receipt")
	}
	return nil
}

func (r *RestClient) GetState() types.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *RestClient) IsReady() bool {
	return r.GetState() == types.ConnectionConnected
}

func (r *RestClient) WaitReady(ctx context.Context) error {
	for {
		r.mu.Lock()
		if r.state == types.ConnectionConnected {
			r.mu.Unlock()
			return nil
		}
		ready := r.readyCh
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ready:
		}
	}
}

func (r *RestClient) Readiness() types.ClientReadinessState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.ClientReadinessState{
		Name:                 r.cfg.Name,
		Ready:                r.state == types.ConnectionConnected,
		State:                r.state,
		AwaitingQRScan:       r.awaitingQR,
		LastDisconnectReason: r.lastDisconnectReason,
		LastAuthFailureAt:    r.lastAuthFailureAt,
		FatalInitError:       r.fatalInitError,
	}
}

func (r *RestClient) GetNumberID(ctx context.Context, phone string) (*types.NumberID, error) {
	digits := stripNonDigits(phone)
	if len(digits) < constants.MinPhoneNumberLength {
		return nil, nil
	}

	var result struct {
		NumberExists bool `json:"numberExists"`
		ChatID       struct {
			Serialized string `json:"_serialized"`
		} `json:"chatId"`
	}
	path := fmt.Sprintf("/api/contacts/check-exists?phone=%s&session=%s",
		url.QueryEscape(digits), url.QueryEscape(r.cfg.SessionName))
	if err := r.getJSON(ctx, path, &result); err != nil {
		r.logger.WithError(err).WithField("phone", digits).Debug("Number resolution failed")
		return nil, nil
	}
	if !result.NumberExists {
		return nil, nil
	}
	return &types.NumberID{Serialized: result.ChatID.Serialized}, nil
}

func (r *RestClient) HydrateChat(ctx context.Context, chatID string) error {
	path := fmt.Sprintf("/api/chats/%s?session=%s", url.PathEscape(chatID), url.QueryEscape(r.cfg.SessionName))
	if err := r.getJSON(ctx, path, nil); err != nil {
		return fmt.Errorf("failed to hydrate chat %s: %w", chatID, err)
	}
	return nil
}

func (r *RestClient) Logout(ctx context.Context) error {
	if err := r.postJSON(ctx, fmt.Sprintf("/api/sessions/%s/logout", r.cfg.SessionName), nil, nil); err != nil {
		r.logger.WithError(err).Warn("Logout request failed")
	}
	if r.cfg.AuthStore != nil {
		if err := r.cfg.AuthStore.Clear(); err != nil {
			r.logger.WithError(err).Warn("Failed to clear auth material")
		}
	}
	r.handleDisconnect("logged-out")
	return nil
}

func (r *RestClient) Destroy() error {
	r.mu.Lock()
	if r.destroyed {
		r.mu.Unlock()
		return nil
	}
	r.destroyed = true
	if r.pollCancel != nil {
		r.pollCancel()
		r.pollCancel = nil
	}
	r.state = types.ConnectionDisconnected
	r.mu.Unlock()

	r.emitter.reset()
	return nil
}

func (r *RestClient) On(event types.EventType, handler types.EventHandler) int {
	return r.emitter.on(event, handler, false)
}

func (r *RestClient) Once(event types.EventType, handler types.EventHandler) int {
	return r.emitter.on(event, handler, true)
}

func (r *RestClient) Off(event types.EventType, id int) {
	r.emitter.off(event, id)
}

func (r *RestClient) ListenerCount(event types.EventType) int {
	return r.emitter.listenerCount(event)
}

func (r *RestClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", r.cfg.APIKey)
	}

	return r.doJSON(req, out)
}

func (r *RestClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if r.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", r.cfg.APIKey)
	}

	return r.doJSON(req, out)
}

func (r *RestClient) doJSON(req *http.Request, out interface{}) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &types.SendError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
