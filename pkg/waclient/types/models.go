package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ConnectionState represents the adapter's connection lifecycle state
type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
)

// MessageType classifies a normalized inbound message
type MessageType string

const (
	MessageTypeChat     MessageType = "chat"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypePTT      MessageType = "ptt"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeDocument MessageType = "document"
	MessageTypeSticker  MessageType = "sticker"
	MessageTypeLocation MessageType = "location"
	MessageTypeVCard    MessageType = "vcard"
	MessageTypeUnknown  MessageType = "unknown"
)

// MessageID carries both the provider message id and its serialized form.
// Either component may be empty when the provider payload is incomplete.
type MessageID struct {
	ID         string `json:"id"`
	Serialized string `json:"serialized"`
}

// Preferred returns the serialized id when available, otherwise the raw id.
func (m MessageID) Preferred() string {
	if m.Serialized != "" {
		return m.Serialized
	}
	return m.ID
}

// NormalizedMessage is the canonical inbound message record produced by an
// adapter. It is constructed once per provider event and not persisted.
type NormalizedMessage struct {
	ID        MessageID       `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Author    string          `json:"author,omitempty"`
	Body      string          `json:"body"`
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"timestamp"`
	FromMe    bool            `json:"fromMe"`
	IsStatus  bool            `json:"isStatus"`
	IsGroup   bool            `json:"isGroup"`
	Raw       json.RawMessage `json:"-"`
}

// ChatID returns the chat the message belongs to.
func (m *NormalizedMessage) ChatID() string {
	return m.From
}

// MediaContent describes outbound media as an in-memory descriptor
type MediaContent struct {
	MimeType string `json:"mimetype"`
	Data     string `json:"data"`
	Filename string `json:"filename,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// OutboundContent is either plain text or a media descriptor
type OutboundContent struct {
	Text  string        `json:"text,omitempty"`
	Media *MediaContent `json:"media,omitempty"`
}

// TextContent builds a plain text outbound payload
func TextContent(text string) OutboundContent {
	return OutboundContent{Text: text}
}

// MediaBucket groups outbound media by the provider field it populates
type MediaBucket string

const (
	MediaBucketImage    MediaBucket = "image"
	MediaBucketVideo    MediaBucket = "video"
	MediaBucketAudio    MediaBucket = "audio"
	MediaBucketDocument MediaBucket = "document"
)

// InferMediaBucket maps a mimetype to the send bucket. Anything that is not
// image/video/audio goes out as a document.
func InferMediaBucket(mimeType string) MediaBucket {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return MediaBucketImage
	case strings.HasPrefix(mimeType, "video/"):
		return MediaBucketVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return MediaBucketAudio
	default:
		return MediaBucketDocument
	}
}

// SendResult is the normalized result of a successful send
type SendResult struct {
	MessageID string `json:"messageId"`
	Timestamp int64  `json:"timestamp"`
}

// NumberID is the provider's resolved identity for a phone number
type NumberID struct {
	Serialized string `json:"_serialized"`
}

// ClientReadinessState is a read-only snapshot of one adapter's state.
// It is mutated exclusively by the adapter's own event handling.
type ClientReadinessState struct {
	Name                 string          `json:"name"`
	Ready                bool            `json:"ready"`
	State                ConnectionState `json:"state"`
	AwaitingQRScan       bool            `json:"awaitingQrScan"`
	LastDisconnectReason string          `json:"lastDisconnectReason,omitempty"`
	LastAuthFailureAt    time.Time       `json:"lastAuthFailureAt,omitzero"`
	FatalInitError       string          `json:"fatalInitError,omitempty"`
}

// SendError is a delivery failure carrying an optional provider status code.
// A 4xx status marks the failure as permanent.
type SendError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("send failed with status %d: %s", e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("send failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("send failed: %s", e.Message)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ErrNotConnected is returned by SendMessage when the underlying session is
// not initialized. It is a transient condition from the caller's perspective.
var ErrNotConnected = &SendError{Message: "client is not connected"}

// WebhookEvent is the envelope posted by the REST gateway
type WebhookEvent struct {
	Event   string          `json:"event"`
	Session string          `json:"session,omitempty"`
	Payload json.RawMessage `json:"payload"`
}
