package ucm

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Wire types for the UCM WebSocket API. Requests are wrapped in a
// {"type":"request","message":{...}} envelope; responses and notifications
// arrive with a top-level "message" that may be a single object or an array
// of objects, depending on firmware. Everything downstream works on the
// normalized slice form.

// transactionID returns a fresh 16-hex-char transaction id for a request frame.
func transactionID() string {
	u := uuid.New()
	return fmt.Sprintf("%x", u[:8])
}

type request struct {
	Type    string         `json:"type"`
	Message map[string]any `json:"message"`
}

// Frame is one decoded frame from the exchange.
type Frame struct {
	Message  json.RawMessage `json:"message"`
	Response json.RawMessage `json:"response"`
	Status   *int            `json:"status"`
}

// Notification is one item of a frame's message field.
type Notification struct {
	Action    string          `json:"action"`
	EventName string          `json:"eventname"`
	EventBody json.RawMessage `json:"eventbody"`
	Challenge string          `json:"challenge"`
	Status    *int            `json:"status"`
}

// Notifications normalizes the object-or-array message payload to a slice.
// Items that are not objects are skipped.
func (f *Frame) Notifications() []Notification {
	if len(f.Message) == 0 {
		return nil
	}
	var list []Notification
	if err := json.Unmarshal(f.Message, &list); err == nil {
		return list
	}
	var single Notification
	if err := json.Unmarshal(f.Message, &single); err == nil {
		return []Notification{single}
	}
	return nil
}

// ChallengeValue extracts the login challenge from either message.challenge or
// response.challenge, whichever the firmware used.
func (f *Frame) ChallengeValue() string {
	for _, raw := range []json.RawMessage{f.Message, f.Response} {
		if len(raw) == 0 {
			continue
		}
		var body struct {
			Challenge string `json:"challenge"`
		}
		if err := json.Unmarshal(raw, &body); err == nil && body.Challenge != "" {
			return body.Challenge
		}
	}
	return ""
}

// StatusCode returns the response status, checking message.status first and
// falling back to the top-level status field (location varies by firmware).
func (f *Frame) StatusCode() (int, bool) {
	if len(f.Message) > 0 {
		var body struct {
			Status *int `json:"status"`
		}
		if err := json.Unmarshal(f.Message, &body); err == nil && body.Status != nil {
			return *body.Status, true
		}
	}
	if f.Status != nil {
		return *f.Status, true
	}
	return 0, false
}

// ExtensionStatusEntry is one eventbody item of an ExtensionStatus notification.
type ExtensionStatusEntry struct {
	Extension string `json:"extension"`
	Status    string `json:"status"`
}

// CallEntry is one eventbody item of an ActiveCallStatus notification.
// The exchange mixes two event families in the same body: chantype=unbridge
// (ringing and hangup) uses channel/callernum/connectednum, chantype=bridge
// (connected) uses channel1/channel2/callerid1/callerid2 and often arrives
// with an empty linkedid.
type CallEntry struct {
	ChanType      string `json:"chantype"`
	Action        string `json:"action"`
	UniqueID      string `json:"uniqueid"`
	LinkedID      string `json:"linkedid"`
	Channel       string `json:"channel"`
	Channel1      string `json:"channel1"`
	Channel2      string `json:"channel2"`
	State         string `json:"state"`
	CallerNum     string `json:"callernum"`
	ConnectedNum  string `json:"connectednum"`
	ConnectedName string `json:"connectedname"`
	CallerID1     string `json:"callerid1"`
	CallerID2     string `json:"callerid2"`
	Name1         string `json:"name1"`
	Name2         string `json:"name2"`
	InboundTrunk  string `json:"inbound_trunk_name"`
	OutboundTrunk string `json:"outbound_trunk_name"`
	BridgeTime    string `json:"bridge_time"`
}

// decodeBody normalizes an object-or-array eventbody into a typed slice.
func decodeBody[T any](raw json.RawMessage) []T {
	if len(raw) == 0 {
		return nil
	}
	var list []T
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single T
	if err := json.Unmarshal(raw, &single); err == nil {
		return []T{single}
	}
	return nil
}
