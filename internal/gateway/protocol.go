package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/dudufisio/fisioflow/internal/providers"
)

// ProtocolVersion is the WebSocket protocol revision spoken by the gateway.
const ProtocolVersion = 1

// Frame kinds.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Events pushed by the gateway.
const (
	EventConnectChallenge = "connect.challenge"
	EventSettingsChanged  = "settings.changed"
	EventCompletionDelta  = "ai.delta"
)

var serverEvents = []string{EventConnectChallenge, EventSettingsChanged, EventCompletionDelta}

// Frame is the envelope of every WebSocket message. Type selects which of
// the field groups below is populated.
type Frame struct {
	Type string `json:"type"`

	// req
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`

	// res
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorShape     `json:"error,omitempty"`

	// event
	Event string `json:"event,omitempty"`
	Seq   int64  `json:"seq,omitempty"`
}

// ErrorShape is the body of a failed response. Codes match the REST API.
type ErrorShape struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ConnectParams open a session.
type ConnectParams struct {
	MinProtocol int          `json:"minProtocol"`
	MaxProtocol int          `json:"maxProtocol"`
	Client      ClientInfo   `json:"client"`
	Auth        *ConnectAuth `json:"auth,omitempty"`
}

// accepts reports whether the client's protocol range contains v. A zero
// bound is open.
func (p ConnectParams) accepts(v int) bool {
	if p.MinProtocol != 0 && p.MinProtocol > v {
		return false
	}
	if p.MaxProtocol != 0 && p.MaxProtocol < v {
		return false
	}
	return true
}

// ClientInfo identifies the settings UI or tool on the other end.
type ClientInfo struct {
	ID       string `json:"id"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Mode     string `json:"mode"` // "app" | "cli"
}

// ConnectAuth carries the shared gateway credential.
type ConnectAuth struct {
	Token    string `json:"token,omitempty"`
	Password string `json:"password,omitempty"`
}

// ChallengePayload is the body of the connect.challenge event.
type ChallengePayload struct {
	Nonce string `json:"nonce"`
	TS    int64  `json:"ts"`
}

// HelloOK answers a successful connect. It carries the current settings so
// a UI can render without a follow-up settings.get.
type HelloOK struct {
	Protocol int              `json:"protocol"`
	Server   ServerInfo       `json:"server"`
	Features Features         `json:"features"`
	Policy   ServerPolicy     `json:"policy"`
	Settings SettingsResponse `json:"settings"`
}

// ServerInfo identifies the gateway build and the connection.
type ServerInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit,omitempty"`
	ConnID  string `json:"connId"`
}

// Features lists the RPC methods and events this gateway serves.
type Features struct {
	Methods []string `json:"methods"`
	Events  []string `json:"events"`
}

// ServerPolicy communicates frame size limits.
type ServerPolicy struct {
	MaxPayload       int `json:"maxPayload"`
	MaxBufferedBytes int `json:"maxBufferedBytes"`
}

// CompletionDelta is the body of an ai.delta event. RequestID is the id of
// the ai.complete request that is streaming.
type CompletionDelta struct {
	RequestID string        `json:"requestId"`
	Provider  providers.Key `json:"provider"`
	Content   string        `json:"content"`
}

// NewRequest builds a request frame.
func NewRequest(id, method string, params any) (Frame, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s params: %w", method, err)
	}
	return Frame{Type: FrameTypeRequest, ID: id, Method: method, Params: raw}, nil
}

// NewResponse builds a success response to request id.
func NewResponse(id string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding response %s: %w", id, err)
	}
	return Frame{Type: FrameTypeResponse, ID: id, OK: flag(true), Payload: raw}, nil
}

// NewErrorResponse builds a failed response to request id.
func NewErrorResponse(id string, e ErrorShape) Frame {
	return Frame{Type: FrameTypeResponse, ID: id, OK: flag(false), Error: &e}
}

// NewEvent builds an event frame.
func NewEvent(event string, payload any, seq int64) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s event: %w", event, err)
	}
	return Frame{Type: FrameTypeEvent, Event: event, Payload: raw, Seq: seq}, nil
}

func flag(b bool) *bool { return &b }
