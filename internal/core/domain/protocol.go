package domain

import "time"

const (
	TypeSnapshot = "snapshot"
	TypePing     = "ping"
	TypePong     = "pong"
	TypeError    = "error"
)

// SignalRefresh is the body of every wake-up published on a user channel.
// Receivers ignore it and re-read the snapshot.
const SignalRefresh = "refresh"

// SnapshotFrame carries a NotificationSnapshot to the client.
type SnapshotFrame struct {
	Type     string                `json:"type"` // "snapshot"
	Snapshot *NotificationSnapshot `json:"snapshot"`
	SentAt   time.Time             `json:"sent_at"`
}

// ClientFrame is anything the client sends on the stream.
type ClientFrame struct {
	Type string `json:"type"` // "ping"
}

// PongFrame answers a client ping.
type PongFrame struct {
	Type string `json:"type"` // "pong"
}

// ErrorFrame is WS-safe error
type ErrorFrame struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Frame is the envelope decoded by clients before dispatching on Type.
type Frame struct {
	Type     string                `json:"type"`
	Snapshot *NotificationSnapshot `json:"snapshot,omitempty"`
	Code     string                `json:"code,omitempty"`
	Message  string                `json:"message,omitempty"`
}
