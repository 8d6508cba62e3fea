package ucm

import (
	"bytes"
	"crypto/md5"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/ucmwatch/internal/metrics"
)

// The exchange expires API session cookies after 5 minutes; refresh a little
// earlier so an in-flight dial never rides a cookie about to lapse.
const sessionTTL = 270 * time.Second

const dialTimeout = 10 * time.Second

// APIError is an error reported by the exchange's HTTP API. Its message is
// surfaced verbatim to HTTP clients of this service.
type APIError struct {
	Message string
}

func (e *APIError) Error() string { return e.Message }

type DialerOptions struct {
	Host      string
	Port      int
	Username  string
	Password  string
	TLSVerify bool
	Log       zerolog.Logger
}

// Dialer originates click-to-dial calls through the exchange's HTTP API.
// It shares the authentication shape of the WebSocket client (challenge,
// MD5 token, login) but receives a session cookie instead of an open socket.
type Dialer struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
	log      zerolog.Logger

	mu         sync.Mutex
	cookie     string
	cookieTime time.Time

	now func() time.Time
}

func NewDialer(opts DialerOptions) *Dialer {
	return &Dialer{
		baseURL:  fmt.Sprintf("https://%s:%d/api", opts.Host, opts.Port),
		user:     opts.Username,
		password: opts.Password,
		http: &http.Client{
			Timeout: dialTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					// Same relaxed parameters as the monitor socket; see
					// NewClient.
					InsecureSkipVerify: !opts.TLSVerify,
					MinVersion:         tls.VersionTLS10,
				},
			},
		},
		log: opts.Log,
		now: time.Now,
	}
}

type apiResponse struct {
	Status   *int `json:"status"`
	Response struct {
		Message   string `json:"message"`
		Challenge string `json:"challenge"`
		Cookie    string `json:"cookie"`
	} `json:"response"`
}

// request posts one {"request":{...}} payload and decodes the reply.
// All failures come back as *APIError so the HTTP surface can map them to 502.
func (d *Dialer) request(body map[string]any) (*apiResponse, error) {
	payload, err := json.Marshal(map[string]any{"request": body})
	if err != nil {
		return nil, &APIError{Message: err.Error()}
	}

	resp, err := d.http.Post(d.baseURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, &APIError{Message: fmt.Sprintf("exchange unreachable: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Message: fmt.Sprintf("exchange HTTP %d", resp.StatusCode)}
	}

	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &APIError{Message: fmt.Sprintf("bad exchange response: %v", err)}
	}

	if out.Status != nil && *out.Status != 0 {
		msg := out.Response.Message
		if msg == "" {
			msg = fmt.Sprintf("exchange error code %d", *out.Status)
		}
		return nil, &APIError{Message: msg}
	}
	return &out, nil
}

// authenticate runs challenge/login and caches the session cookie.
// Callers must hold d.mu.
func (d *Dialer) authenticate() error {
	resp, err := d.request(map[string]any{
		"action":  "challenge",
		"user":    d.user,
		"version": "1.0",
	})
	if err != nil {
		return err
	}
	if resp.Response.Challenge == "" {
		return &APIError{Message: "exchange returned no challenge"}
	}

	token := fmt.Sprintf("%x", md5.Sum([]byte(resp.Response.Challenge+d.password)))
	resp, err = d.request(map[string]any{
		"action": "login",
		"user":   d.user,
		"token":  token,
	})
	if err != nil {
		return err
	}
	if resp.Response.Cookie == "" {
		return &APIError{Message: "exchange login returned no cookie"}
	}

	d.cookie = resp.Response.Cookie
	d.cookieTime = d.now()
	d.log.Debug().Msg("exchange API session established")
	return nil
}

// sessionCookie returns a valid cookie, re-authenticating if the cached one
// is missing or near expiry. Callers must hold d.mu.
func (d *Dialer) sessionCookie() (string, error) {
	if d.cookie != "" && d.now().Sub(d.cookieTime) < sessionTTL {
		return d.cookie, nil
	}
	if err := d.authenticate(); err != nil {
		return "", err
	}
	return d.cookie, nil
}

// Dial rings the given extension and, once answered, has the exchange call
// the external number. A failed attempt invalidates the cached cookie and is
// retried exactly once with a fresh login; the mutex keeps two concurrent
// dials from both re-authenticating.
func (d *Dialer) Dial(extension, number string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	metrics.DialAttemptsTotal.Inc()

	cookie, err := d.sessionCookie()
	if err != nil {
		return err
	}
	if err := d.dialOnce(cookie, extension, number); err != nil {
		// Likely a stale cookie: force a new session and retry once.
		d.log.Warn().Err(err).Msg("dial failed, retrying with fresh session")
		d.cookie = ""
		cookie, err = d.sessionCookie()
		if err != nil {
			return err
		}
		return d.dialOnce(cookie, extension, number)
	}
	return nil
}

func (d *Dialer) dialOnce(cookie, extension, number string) error {
	_, err := d.request(map[string]any{
		"action":   "dialOutbound",
		"cookie":   cookie,
		"caller":   extension,
		"outbound": number,
	})
	if err == nil {
		d.log.Info().Str("extension", extension).Str("number", number).Msg("click-to-dial originated")
	}
	return err
}
