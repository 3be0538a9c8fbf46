package channel

import (
	"encoding/json"
	"time"
)

// Inbound message types pushed by the server.
const (
	TypeVoiceInstruction = "voice_instruction"
	TypeUIUpdate         = "ui_update"
	TypeSystem           = "system"
	TypeHeartbeat        = "heartbeat"
)

// InboundMessage is the tagged envelope for every server push.
type InboundMessage struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// registerFrame announces the client after every connection open,
// including reconnects. The clientId must be identical across them.
type registerFrame struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

func newRegisterFrame(username, clientID string) registerFrame {
	return registerFrame{
		Type:      "register",
		Username:  username,
		ClientID:  clientID,
		Timestamp: time.Now().UnixMilli(),
	}
}

type heartbeatFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

func newHeartbeatFrame() heartbeatFrame {
	return heartbeatFrame{Type: "heartbeat", Timestamp: time.Now().UnixMilli()}
}
