package waclient

import (
	"encoding/json"
	"fmt"
	"strings"

	"warelay/pkg/waclient/types"
)

// socketEnvelope is the multi-device gateway's inbound message shape
type socketEnvelope struct {
	Key struct {
		RemoteJid   string `json:"remoteJid"`
		FromMe      bool   `json:"fromMe"`
		ID          string `json:"id"`
		Participant string `json:"participant,omitempty"`
	} `json:"key"`
	PushName         string         `json:"pushName,omitempty"`
	Broadcast        bool           `json:"broadcast,omitempty"`
	MessageTimestamp int64          `json:"messageTimestamp"`
	Message          *socketContent `json:"message,omitempty"`
}

type socketTextPart struct {
	Text string `json:"text,omitempty"`
}

type socketMediaPart struct {
	Caption  string `json:"caption,omitempty"`
	MimeType string `json:"mimetype,omitempty"`
	FileName string `json:"fileName,omitempty"`
	PTT      bool   `json:"ptt,omitempty"`
}

type socketContent struct {
	Conversation               string           `json:"conversation,omitempty"`
	ExtendedTextMessage        *socketTextPart  `json:"extendedTextMessage,omitempty"`
	ImageMessage               *socketMediaPart `json:"imageMessage,omitempty"`
	VideoMessage               *socketMediaPart `json:"videoMessage,omitempty"`
	AudioMessage               *socketMediaPart `json:"audioMessage,omitempty"`
	DocumentMessage            *socketMediaPart `json:"documentMessage,omitempty"`
	DocumentWithCaptionMessage *struct {
		Message *struct {
			DocumentMessage *socketMediaPart `json:"documentMessage,omitempty"`
		} `json:"message,omitempty"`
	} `json:"documentWithCaptionMessage,omitempty"`
	StickerMessage  *socketMediaPart `json:"stickerMessage,omitempty"`
	LocationMessage *struct {
		DegreesLatitude  float64 `json:"degreesLatitude,omitempty"`
		DegreesLongitude float64 `json:"degreesLongitude,omitempty"`
	} `json:"locationMessage,omitempty"`
	ContactMessage *struct {
		DisplayName string `json:"displayName,omitempty"`
	} `json:"contactMessage,omitempty"`
}

// extractSocketBody picks the message text from the first matching payload
// variant. The priority order is fixed: conversation, extended text, image
// caption, video caption, document caption, nested document caption. Missing
// variants fall through to the empty string.
func extractSocketBody(content *socketContent) string {
	if content == nil {
		return ""
	}
	if content.Conversation != "" {
		return content.Conversation
	}
	if content.ExtendedTextMessage != nil && content.ExtendedTextMessage.Text != "" {
		return content.ExtendedTextMessage.Text
	}
	if content.ImageMessage != nil && content.ImageMessage.Caption != "" {
		return content.ImageMessage.Caption
	}
	if content.VideoMessage != nil && content.VideoMessage.Caption != "" {
		return content.VideoMessage.Caption
	}
	if content.DocumentMessage != nil && content.DocumentMessage.Caption != "" {
		return content.DocumentMessage.Caption
	}
	if content.DocumentWithCaptionMessage != nil &&
		content.DocumentWithCaptionMessage.Message != nil &&
		content.DocumentWithCaptionMessage.Message.DocumentMessage != nil {
		return content.DocumentWithCaptionMessage.Message.DocumentMessage.Caption
	}
	return ""
}

// classifySocketType maps the payload structure to a message type with the
// same fixed priority as body extraction: text beats media, media beats the
// remaining structural variants.
func classifySocketType(content *socketContent) types.MessageType {
	switch {
	case content == nil:
		return types.MessageTypeUnknown
	case content.Conversation != "" || content.ExtendedTextMessage != nil:
		return types.MessageTypeChat
	case content.ImageMessage != nil:
		return types.MessageTypeImage
	case content.VideoMessage != nil:
		return types.MessageTypeVideo
	case content.AudioMessage != nil && content.AudioMessage.PTT:
		return types.MessageTypePTT
	case content.AudioMessage != nil:
		return types.MessageTypeAudio
	case content.DocumentMessage != nil || content.DocumentWithCaptionMessage != nil:
		return types.MessageTypeDocument
	case content.StickerMessage != nil:
		return types.MessageTypeSticker
	case content.LocationMessage != nil:
		return types.MessageTypeLocation
	case content.ContactMessage != nil:
		return types.MessageTypeVCard
	default:
		return types.MessageTypeUnknown
	}
}

const statusBroadcastJid = "status@broadcast"

func isGroupJid(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}

// normalizeSocketMessage converts a multi-device gateway envelope into the
// canonical message record. It never fails on missing payload variants; the
// worst case is an empty body and unknown type.
func normalizeSocketMessage(raw json.RawMessage) (*types.NormalizedMessage, error) {
	var env socketEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal socket message: %w", err)
	}

	jid := env.Key.RemoteJid
	msg := &types.NormalizedMessage{
		ID: types.MessageID{
			ID: env.Key.ID,
		},
		From:      jid,
		Author:    env.Key.Participant,
		Body:      extractSocketBody(env.Message),
		Type:      classifySocketType(env.Message),
		Timestamp: env.MessageTimestamp,
		FromMe:    env.Key.FromMe,
		IsStatus:  env.Broadcast || jid == statusBroadcastJid,
		IsGroup:   isGroupJid(jid),
		Raw:       raw,
	}
	if jid != "" && env.Key.ID != "" {
		msg.ID.Serialized = fmt.Sprintf("%t_%s_%s", env.Key.FromMe, jid, env.Key.ID)
	}
	return msg, nil
}

// restPayload is the browser gateway's webhook message shape. It arrives
// mostly flat; normalization is a field-by-field mapping.
type restPayload struct {
	ID struct {
		FromMe     bool   `json:"fromMe"`
		Remote     string `json:"remote"`
		ID         string `json:"id"`
		Serialized string `json:"_serialized"`
	} `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Author    string `json:"author,omitempty"`
	Body      string `json:"body"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	FromMe    bool   `json:"fromMe"`
	IsStatus  bool   `json:"isStatus"`
	HasMedia  bool   `json:"hasMedia"`
}

var restKnownTypes = map[string]types.MessageType{
	"chat":     types.MessageTypeChat,
	"image":    types.MessageTypeImage,
	"video":    types.MessageTypeVideo,
	"ptt":      types.MessageTypePTT,
	"audio":    types.MessageTypeAudio,
	"document": types.MessageTypeDocument,
	"sticker":  types.MessageTypeSticker,
	"location": types.MessageTypeLocation,
	"vcard":    types.MessageTypeVCard,
}

func normalizeRestMessage(raw json.RawMessage) (*types.NormalizedMessage, error) {
	var payload restPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal webhook message: %w", err)
	}

	msgType, ok := restKnownTypes[payload.Type]
	if !ok {
		msgType = types.MessageTypeUnknown
	}

	from := payload.From
	if from == "" {
		from = payload.ID.Remote
	}

	return &types.NormalizedMessage{
		ID: types.MessageID{
			ID:         payload.ID.ID,
			Serialized: payload.ID.Serialized,
		},
		From:      from,
		To:        payload.To,
		Author:    payload.Author,
		Body:      payload.Body,
		Type:      msgType,
		Timestamp: payload.Timestamp,
		FromMe:    payload.FromMe || payload.ID.FromMe,
		IsStatus:  payload.IsStatus || from == statusBroadcastJid,
		IsGroup:   isGroupJid(from),
		Raw:       raw,
	}, nil
}
