package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeClientControl       MessageType = "client_control"
	TypeClientCaptureResult MessageType = "client_capture_result"
	TypeClientCaptureError  MessageType = "client_capture_error"
	TypeClientCaptureEnd    MessageType = "client_capture_end"

	TypeDisplayMessage MessageType = "display_message"
	TypeDisplayText    MessageType = "display_text"
	TypeDisplayStatus  MessageType = "display_status"
	TypeDisplayMeta    MessageType = "display_meta"
	TypeDisplayTyping  MessageType = "display_typing"
	TypeDisplaySession MessageType = "display_session"
	TypeDisplayClear   MessageType = "display_clear"
	TypeCaptureStart   MessageType = "capture_start"
	TypeCaptureStop    MessageType = "capture_stop"
	TypeErrorEvent     MessageType = "error_event"
)

// Control actions accepted from remote viewers.
const (
	ActionPress        = "press"
	ActionRelease      = "release"
	ActionStopSpeaking = "stop_speaking"
	ActionClear        = "clear"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
	TSMs   int64       `json:"ts_ms,omitempty"`
}

// CaptureEntry mirrors one entry of a browser recognition result list.
type CaptureEntry struct {
	Transcript string `json:"transcript"`
	IsFinal    bool   `json:"is_final"`
}

type ClientCaptureResult struct {
	Type        MessageType    `json:"type"`
	ResultIndex int            `json:"result_index"`
	Results     []CaptureEntry `json:"results"`
}

type ClientCaptureError struct {
	Type MessageType `json:"type"`
	Code string      `json:"code"`
}

type ClientCaptureEnd struct {
	Type MessageType `json:"type"`
}

type DisplayMessage struct {
	Type      MessageType `json:"type"`
	MessageID int         `json:"message_id"`
	Role      string      `json:"role"`
	Text      string      `json:"text"`
}

type DisplayText struct {
	Type      MessageType `json:"type"`
	MessageID int         `json:"message_id"`
	Text      string      `json:"text"`
}

type DisplayStatus struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type DisplayMeta struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type DisplayTyping struct {
	Type    MessageType `json:"type"`
	Visible bool        `json:"visible"`
}

type DisplaySession struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type DisplayClear struct {
	Type MessageType `json:"type"`
}

// CaptureCommand asks the viewer that owns the recognizer to start or stop listening.
type CaptureCommand struct {
	Type MessageType `json:"type"`
	Lang string      `json:"lang,omitempty"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Code   string      `json:"code"`
	Detail string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		switch msg.Action {
		case ActionPress, ActionRelease, ActionStopSpeaking, ActionClear:
		default:
			return nil, fmt.Errorf("invalid client_control action %q", msg.Action)
		}
		return msg, nil
	case TypeClientCaptureResult:
		var msg ClientCaptureResult
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.ResultIndex < 0 || msg.ResultIndex > len(msg.Results) {
			return nil, errors.New("invalid client_capture_result")
		}
		return msg, nil
	case TypeClientCaptureError:
		var msg ClientCaptureError
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Code == "" {
			return nil, errors.New("invalid client_capture_error")
		}
		return msg, nil
	case TypeClientCaptureEnd:
		return ClientCaptureEnd{Type: TypeClientCaptureEnd}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// TypeOf reports the message type of any protocol value.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case ClientControl:
		return m.Type, true
	case ClientCaptureResult:
		return m.Type, true
	case ClientCaptureError:
		return m.Type, true
	case ClientCaptureEnd:
		return m.Type, true
	case DisplayMessage:
		return m.Type, true
	case DisplayText:
		return m.Type, true
	case DisplayStatus:
		return m.Type, true
	case DisplayMeta:
		return m.Type, true
	case DisplayTyping:
		return m.Type, true
	case DisplaySession:
		return m.Type, true
	case DisplayClear:
		return m.Type, true
	case CaptureCommand:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
