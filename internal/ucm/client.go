package ucm

import (
	"context"
	"crypto/md5"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/snarg/ucmwatch/internal/metrics"
)

const (
	heartbeatInterval = 30 * time.Second
	reconnectDelay    = 10 * time.Second
	handshakeTimeout  = 10 * time.Second
	authReadTimeout   = 10 * time.Second
	closeTimeout      = 5 * time.Second
)

// EventHandler receives decoded monitor events. All calls happen from the
// client's run goroutine, so implementations need no internal locking for
// state that only the handler touches.
type EventHandler interface {
	HandleExtensionStatus(entries []ExtensionStatusEntry)
	HandleActiveCallStatus(entries []CallEntry)

	// Reset is called whenever a session ends. In-flight correlation state is
	// no longer verifiable against the exchange and must be discarded.
	Reset()
}

type ClientOptions struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSVerify bool
	Log       zerolog.Logger
}

// Client maintains one authenticated, heartbeated WebSocket session to the
// exchange and reconnects after every transport failure.
type Client struct {
	url      string
	user     string
	password string
	dialer   *websocket.Dialer
	log      zerolog.Logger

	connected atomic.Bool
	writeMu   sync.Mutex

	// Overridable in tests to avoid real back-off sleeps.
	retryDelay time.Duration
}

func NewClient(opts ClientOptions) *Client {
	return &Client{
		url:      fmt.Sprintf("wss://%s:%d/websockify", opts.Host, opts.Port),
		user:     opts.Username,
		password: opts.Password,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
			TLSClientConfig: &tls.Config{
				// The exchange ships a self-signed certificate and, on older
				// firmware, a Diffie-Hellman key too short for modern TLS
				// defaults. It is reached over a trusted LAN only.
				InsecureSkipVerify: !opts.TLSVerify,
				MinVersion:         tls.VersionTLS10,
			},
		},
		log:        opts.Log,
		retryDelay: reconnectDelay,
	}
}

// IsConnected reports whether a session is currently established.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Run connects and processes events until ctx is cancelled. It never returns
// a session error to the caller: every transport, protocol, or authentication
// failure is logged, the handler's correlation state is wiped, and the
// connection is retried after a fixed back-off.
func (c *Client) Run(ctx context.Context, handler EventHandler) {
	for {
		err := c.session(ctx, handler)
		handler.Reset()
		if ctx.Err() != nil {
			c.log.Info().Msg("exchange monitor stopped")
			return
		}
		c.log.Warn().Err(err).Msg("exchange session ended")
		metrics.MonitorReconnectsTotal.Inc()

		c.log.Info().Dur("delay", c.retryDelay).Msg("reconnecting to exchange")
		select {
		case <-ctx.Done():
			c.log.Info().Msg("exchange monitor stopped")
			return
		case <-time.After(c.retryDelay):
		}
	}
}

// session runs one full connect/authenticate/subscribe/receive cycle.
func (c *Client) session(ctx context.Context, handler EventHandler) error {
	c.log.Info().Str("url", c.url).Msg("connecting to exchange")

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Close the socket when ctx is cancelled so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeTimeout))
			c.writeMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	if err := c.authenticate(conn); err != nil {
		return err
	}
	if err := c.subscribe(conn); err != nil {
		return err
	}

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.log.Info().Msg("exchange session established")

	// Heartbeat keeps the session alive; a send failure closes the socket,
	// which surfaces in the read loop below.
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.send(conn, map[string]any{"action": "heartbeat"}); err != nil {
					c.log.Warn().Err(err).Msg("heartbeat send failed")
					conn.Close()
					return
				}
				c.log.Debug().Msg("heartbeat sent")
			}
		}
	}()

	return c.receiveLoop(conn, handler)
}

// send writes one request frame with a fresh transaction id.
func (c *Client) send(conn *websocket.Conn, body map[string]any) error {
	body["transactionid"] = transactionID()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(request{Type: "request", Message: body})
}

// recvFrame reads and decodes one frame with a deadline.
func (c *Client) recvFrame(conn *websocket.Conn, timeout time.Duration) (*Frame, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &f, nil
}

// authenticate performs the challenge/response login flow.
func (c *Client) authenticate(conn *websocket.Conn) error {
	if err := c.send(conn, map[string]any{
		"action":   "challenge",
		"username": c.user,
		"version":  "1",
	}); err != nil {
		return fmt.Errorf("send challenge: %w", err)
	}
	resp, err := c.recvFrame(conn, authReadTimeout)
	if err != nil {
		return fmt.Errorf("read challenge: %w", err)
	}
	challenge := resp.ChallengeValue()
	if challenge == "" {
		return fmt.Errorf("no challenge in exchange response")
	}

	token := fmt.Sprintf("%x", md5.Sum([]byte(challenge+c.password)))
	if err := c.send(conn, map[string]any{
		"action":   "login",
		"token":    token,
		"username": c.user,
	}); err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	resp, err = c.recvFrame(conn, authReadTimeout)
	if err != nil {
		return fmt.Errorf("read login: %w", err)
	}
	if status, ok := resp.StatusCode(); !ok || status != 0 {
		return fmt.Errorf("login rejected (status=%d)", status)
	}
	c.log.Info().Msg("exchange login ok")
	return nil
}

// subscribe registers for the two event streams the correlator consumes.
// Some firmware returns a non-zero status here yet delivers events anyway,
// so a refusal is logged but not fatal.
func (c *Client) subscribe(conn *websocket.Conn) error {
	if err := c.send(conn, map[string]any{
		"action":     "subscribe",
		"eventnames": []string{"ExtensionStatus", "ActiveCallStatus"},
	}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	resp, err := c.recvFrame(conn, authReadTimeout)
	if err != nil {
		return fmt.Errorf("read subscribe: %w", err)
	}
	if status, ok := resp.StatusCode(); ok && status != 0 {
		c.log.Warn().Int("status", status).Msg("subscribe refused, continuing")
	} else {
		c.log.Info().Msg("subscribed to ExtensionStatus and ActiveCallStatus")
	}
	return nil
}

// receiveLoop reads frames until the connection fails and dispatches decoded
// notifications to the handler.
func (c *Client) receiveLoop(conn *websocket.Conn, handler EventHandler) error {
	// Heartbeats replace WebSocket pings; no steady-state read deadline.
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return err
	}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		metrics.MonitorFramesTotal.Inc()

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.log.Warn().Str("frame", truncate(string(raw), 200)).Msg("non-JSON frame from exchange")
			continue
		}
		c.dispatch(&f, handler)
	}
}

func (c *Client) dispatch(f *Frame, handler EventHandler) {
	for _, n := range f.Notifications() {
		if n.Action != "notify" {
			if n.Action != "" {
				c.log.Debug().Str("action", n.Action).Msg("non-notify frame")
			}
			continue
		}
		switch n.EventName {
		case "ExtensionStatus":
			handler.HandleExtensionStatus(decodeBody[ExtensionStatusEntry](n.EventBody))
		case "ActiveCallStatus":
			handler.HandleActiveCallStatus(decodeBody[CallEntry](n.EventBody))
		default:
			c.log.Debug().Str("eventname", n.EventName).Msg("unhandled notify event")
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
