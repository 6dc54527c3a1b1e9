package waclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warelay/pkg/waclient/types"
)

type gatewayStub struct {
	mu       sync.Mutex
	requests []string
	status   string
	sendFail int
	apiKeys  []string
}

func (g *gatewayStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		g.requests = append(g.requests, r.Method+" "+r.URL.Path)
		g.apiKeys = append(g.apiKeys, r.Header.Get("X-Api-Key"))
		status := g.status
		sendFail := g.sendFail
		g.mu.Unlock()

		switch {
		case r.URL.Path == "/api/sessions/default":
			_ = json.NewEncoder(w).Encode(restSessionStatus{Name: "default", Status: status})
		case r.URL.Path == "/api/sendText" && sendFail != 0:
			w.WriteHeader(sendFail)
			_, _ = w.Write([]byte("send rejected"))
		case r.URL.Path == "/api/sendText" || r.URL.Path == "/api/sendImage" || r.URL.Path == "/api/sendVoice":
			_ = json.NewEncoder(w).Encode(restSendResponse{MessageID: "rest-id", Timestamp: 1700000000})
		case r.URL.Path == "/api/contacts/check-exists":
			_, _ = w.Write([]byte(`{"numberExists": true, "chatId": {"_serialized": "15551234567@c.us"}}`))
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{}`))
		}
	}
}

func (g *gatewayStub) sawRequest(needle string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, req := range g.requests {
		if req == needle {
			return true
		}
	}
	return false
}

func newTestRestClient(t *testing.T, stub *gatewayStub) *RestClient {
	t.Helper()
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client := NewRestClient(RestConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, newTestLogger())
	t.Cleanup(func() {
		_ = client.Destroy()
	})
	return client
}

func TestRestClient_ReadyFiresOnceOnRepeatedWorkingStatus(t *testing.T) {
	client := newTestRestClient(t, &gatewayStub{status: "WORKING"})
	readyCount := 0
	client.On(types.EventReady, func(types.Event) { readyCount++ })

	client.applySessionStatus("WORKING", "")
	client.applySessionStatus("WORKING", "")

	assert.Equal(t, 1, readyCount)
	assert.True(t, client.IsReady())
}

func TestRestClient_ReadyRefiresAfterSessionRestart(t *testing.T) {
	client := newTestRestClient(t, &gatewayStub{})
	readyCount := 0
	client.On(types.EventReady, func(types.Event) { readyCount++ })

	client.applySessionStatus("WORKING", "")
	client.applySessionStatus("STOPPED", "")
	client.applySessionStatus("WORKING", "")

	assert.Equal(t, 2, readyCount)
}

func TestRestClient_QRWhileConnectedIsTerminal(t *testing.T) {
	client := newTestRestClient(t, &gatewayStub{})
	var authFailureReason string
	client.On(types.EventAuthFailure, func(ev types.Event) { authFailureReason = ev.Reason })

	client.applySessionStatus("WORKING", "")
	client.applySessionStatus("SCAN_QR_CODE", "")

	assert.Equal(t, "bad-session", authFailureReason)
	assert.False(t, client.IsReady())
	assert.False(t, client.Readiness().LastAuthFailureAt.IsZero())
}

func TestRestClient_QRBeforeConnectionJustWaits(t *testing.T) {
	client := newTestRestClient(t, &gatewayStub{})
	authFailures := 0
	client.On(types.EventAuthFailure, func(types.Event) { authFailures++ })

	client.applySessionStatus("SCAN_QR_CODE", "")

	assert.Equal(t, 0, authFailures)
	assert.True(t, client.Readiness().AwaitingQRScan)
	assert.Equal(t, types.ConnectionConnecting, client.GetState())
}

func TestRestClient_FailedStatusUsesReportedReason(t *testing.T) {
	client := newTestRestClient(t, &gatewayStub{})
	var reason string
	client.On(types.EventDisconnected, func(ev types.Event) { reason = ev.Reason })

	client.applySessionStatus("WORKING", "")
	client.applySessionStatus("FAILED", "timed-out")

	assert.Equal(t, "timed-out", reason)
}

func TestRestClient_InitializeStartsSessionAndRequiresURL(t *testing.T) {
	stub := &gatewayStub{status: "STARTING"}
	client := newTestRestClient(t, stub)

	require.NoError(t, client.Initialize(context.Background()))
	assert.True(t, stub.sawRequest("POST /api/sessions/default/start"))

	// Second initialize is a no-op
	require.NoError(t, client.Initialize(context.Background()))

	bare := NewRestClient(RestConfig{}, newTestLogger())
	assert.Error(t, bare.Initialize(context.Background()))
	assert.Equal(t, "missing-base-url", bare.Readiness().FatalInitError)
}

func TestRestClient_HandleWebhookEvents(t *testing.T) {
	client := newTestRestClient(t, &gatewayStub{})

	var message *types.NormalizedMessage
	var qr string
	client.On(types.EventMessage, func(ev types.Event) { message = ev.Message })
	client.On(types.EventQR, func(ev types.Event) { qr = ev.QR })

	err := client.HandleWebhookEvent(context.Background(), &types.WebhookEvent{
		Event: "message",
		Payload: json.RawMessage(`{
			"id": {"_serialized": "false_1234567890@c.us_A1", "id": "A1"},
			"from": "1234567890@c.us",
			"body": "hi",
			"type": "chat"
		}`),
	})
	require.NoError(t, err)
	require.NotNil(t, message)
	assert.Equal(t, "hi", message.Body)

	err = client.HandleWebhookEvent(context.Background(), &types.WebhookEvent{
		Event:   "qr",
		Payload: json.RawMessage(`{"qr": "qr-blob"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "qr-blob", qr)
	assert.True(t, client.Readiness().AwaitingQRScan)

	err = client.HandleWebhookEvent(context.Background(), &types.WebhookEvent{
		Event:   "session.status",
		Payload: json.RawMessage(`{"status": "WORKING"}`),
	})
	require.NoError(t, err)
	assert.True(t, client.IsReady())

	// Unknown events are ignored, malformed known events are not
	assert.NoError(t, client.HandleWebhookEvent(context.Background(), &types.WebhookEvent{Event: "presence"}))
	assert.Error(t, client.HandleWebhookEvent(context.Background(), &types.WebhookEvent{
		Event:   "message",
		Payload: json.RawMessage(`{`),
	}))
}

func TestRestClient_SendMessageText(t *testing.T) {
	stub := &gatewayStub{}
	client := newTestRestClient(t, stub)
	client.applySessionStatus("WORKING", "")

	result, err := client.SendMessage(context.Background(), "1234567890@c.us", types.TextContent("hi"))
	require.NoError(t, err)

	assert.Equal(t, "rest-id", result.MessageID)
	assert.Equal(t, int64(1700000000), result.Timestamp)
	assert.True(t, stub.sawRequest("POST /api/sendText"))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Contains(t, stub.apiKeys, "test-key")
}

func TestRestClient_SendMessageRoutesMediaByMimeType(t *testing.T) {
	stub := &gatewayStub{}
	client := newTestRestClient(t, stub)
	client.applySessionStatus("WORKING", "")

	_, err := client.SendMessage(context.Background(), "1234567890@c.us", types.OutboundContent{
		Media: &types.MediaContent{MimeType: "image/jpeg", Data: "base64data", Caption: "look"},
	})
	require.NoError(t, err)
	assert.True(t, stub.sawRequest("POST /api/sendImage"))

	_, err = client.SendMessage(context.Background(), "1234567890@c.us", types.OutboundContent{
		Media: &types.MediaContent{MimeType: "audio/ogg", Data: "base64data"},
	})
	require.NoError(t, err)
	assert.True(t, stub.sawRequest("POST /api/sendVoice"))
}

func TestRestClient_SendMessageSurfacesGatewayStatus(t *testing.T) {
	stub := &gatewayStub{sendFail: http.StatusUnprocessableEntity}
	client := newTestRestClient(t, stub)
	client.applySessionStatus("WORKING", "")

	_, err := client.SendMessage(context.Background(), "1234567890@c.us", types.TextContent("hi"))
	require.Error(t, err)

	var sendErr *types.SendError
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, http.StatusUnprocessableEntity, sendErr.StatusCode)
	assert.Equal(t, "send rejected", sendErr.Message)
}

func TestRestClient_SendMessageWhenDisconnected(t *testing.T) {
	client := newTestRestClient(t, &gatewayStub{})

	_, err := client.SendMessage(context.Background(), "1234567890@c.us", types.TextContent("hi"))
	assert.ErrorIs(t, err, types.ErrNotConnected)
}

func TestRestClient_GetNumberID(t *testing.T) {
	client := newTestRestClient(t, &gatewayStub{})

	id, err := client.GetNumberID(context.Background(), "+1 (555) 123-4567")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "15551234567@c.us", id.Serialized)

	// Too-short input resolves to nothing, not an error
	id, err = client.GetNumberID(context.Background(), "123")
	assert.NoError(t, err)
	assert.Nil(t, id)
}

func TestRestClient_HydrateChat(t *testing.T) {
	stub := &gatewayStub{}
	client := newTestRestClient(t, stub)

	require.NoError(t, client.HydrateChat(context.Background(), "1234567890@c.us"))
	assert.True(t, stub.sawRequest("GET /api/chats/1234567890@c.us"))
}

func TestRestClient_PollLoopReachesReady(t *testing.T) {
	stub := &gatewayStub{status: "WORKING"}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	client := NewRestClient(RestConfig{
		BaseURL:            srv.URL,
		StatusPollInterval: 10 * time.Millisecond,
	}, newTestLogger())
	t.Cleanup(func() {
		_ = client.Destroy()
	})

	require.NoError(t, client.Initialize(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, client.WaitReady(ctx))
}
