package monitor

import "encoding/json"

// Logical event types published on the fan-out bus and used as SSE event names.
const (
	EventCallRing    = "call_ring"
	EventCallConnect = "call_connect"
	EventCallHangup  = "call_hangup"
	EventPresence    = "presence"
)

// Event is a fan-out event ready for SSE transmission.
type Event struct {
	ID        string          `json:"event_id"`
	Type      string          `json:"event_type"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"-"` // pre-serialized JSON payload
}

// RingPayload announces a new inbound call. The exchange reports the
// extension-side perspective swapped, so by the time this is published
// CallerNum is already the external caller and ConnectedNum the internal
// extension being rung.
type RingPayload struct {
	LinkedID     string `json:"uniqueid"`
	CallerNum    string `json:"callernum"`
	CallerName   string `json:"callername"`
	ConnectedNum string `json:"connectednum"`
}

// ConnectPayload announces that an inbound call was answered.
type ConnectPayload struct {
	LinkedID   string `json:"uniqueid"`
	CallerID1  string `json:"callerid1"`
	CallerID2  string `json:"callerid2"`
	Name1      string `json:"name1"`
	Name2      string `json:"name2"`
	BridgeTime string `json:"bridge_time"`
}

// HangupPayload announces that the last channel of a call was released.
type HangupPayload struct {
	LinkedID string `json:"uniqueid"`
}

// PresencePayload carries an extension status change.
type PresencePayload struct {
	Extension string `json:"extension"`
	Status    string `json:"status"`
}
