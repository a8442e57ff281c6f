package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/dojo/internal/circuitbreaker"
	"github.com/mbd888/dojo/internal/retry"
)

// maxResponseBody bounds how much of a gateway reply is kept in the log.
const maxResponseBody = 4 << 10

// Gateway delivers a text message from an academy's WhatsApp session.
type Gateway interface {
	Send(ctx context.Context, academyID, number, message string) (*Result, error)
}

// Result is the gateway's verdict on one message.
type Result struct {
	Success bool
	Raw     string
}

// SessionStatus is the state of an academy's WhatsApp session on the gateway.
type SessionStatus struct {
	Status string `json:"status"`
	QRCode string `json:"qrCode,omitempty"`
}

// HTTPGateway talks to the WhatsApp bridge over HTTP. Transport errors and
// 5xx replies are retried and count against a circuit breaker keyed by the
// gateway URL; 4xx replies are final and leave the breaker alone.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
	breaker *circuitbreaker.Breaker
}

// NewHTTPGateway creates a gateway client. timeout bounds each attempt.
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		policy:  retry.DefaultPolicy,
		breaker: circuitbreaker.New(5, time.Minute),
	}
}

// WithRetry replaces the retry policy.
func (g *HTTPGateway) WithRetry(p retry.Policy) *HTTPGateway {
	g.policy = p
	return g
}

// WithBreaker replaces the circuit breaker.
func (g *HTTPGateway) WithBreaker(b *circuitbreaker.Breaker) *HTTPGateway {
	g.breaker = b
	return g
}

// URL returns the gateway base URL.
func (g *HTTPGateway) URL() string { return g.baseURL }

type sendRequest struct {
	AcademyID string `json:"academiaId"`
	Number    string `json:"number"`
	Message   string `json:"message"`
}

type sendReply struct {
	Success bool `json:"success"`
}

// Send posts the message to {base}/send-message and reports the gateway's
// success flag together with the raw reply body.
func (g *HTTPGateway) Send(ctx context.Context, academyID, number, message string) (*Result, error) {
	payload, err := json.Marshal(sendRequest{AcademyID: academyID, Number: number, Message: message})
	if err != nil {
		return nil, err
	}

	var raw string
	err = g.call(ctx, func() error {
		body, err := g.do(ctx, http.MethodPost, g.baseURL+"/send-message", payload)
		raw = body
		return err
	})
	if err != nil {
		return nil, err
	}

	var reply sendReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return &Result{Success: false, Raw: raw}, nil
	}
	return &Result{Success: reply.Success, Raw: raw}, nil
}

// Connect asks the gateway to start (or restart) the academy's session.
func (g *HTTPGateway) Connect(ctx context.Context, academyID string) error {
	payload, err := json.Marshal(map[string]string{"academiaId": academyID})
	if err != nil {
		return err
	}
	return g.call(ctx, func() error {
		_, err := g.do(ctx, http.MethodPost, g.baseURL+"/initialize", payload)
		return err
	})
}

// Status returns the academy's session state, "disconnected" when none exists.
func (g *HTTPGateway) Status(ctx context.Context, academyID string) (*SessionStatus, error) {
	var raw string
	err := g.call(ctx, func() error {
		body, err := g.do(ctx, http.MethodGet, g.baseURL+"/status/"+url.PathEscape(academyID), nil)
		raw = body
		return err
	})
	if err != nil {
		return nil, err
	}
	var st SessionStatus
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("notify: decode session status: %w", err)
	}
	return &st, nil
}

// Disconnect ends the academy's session on the gateway.
func (g *HTTPGateway) Disconnect(ctx context.Context, academyID string) error {
	return g.call(ctx, func() error {
		_, err := g.do(ctx, http.MethodPost, g.baseURL+"/disconnect/"+url.PathEscape(academyID), nil)
		return err
	})
}

// Ping checks that the gateway answers at all. Used by the readiness probe.
func (g *HTTPGateway) Ping(ctx context.Context) error {
	if g.breaker.State(g.baseURL) == circuitbreaker.StateOpen {
		return circuitbreaker.ErrOpen
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/status/ping", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: %d", ErrGatewayStatus, resp.StatusCode)
	}
	return nil
}

// call runs fn under the retry policy, guarded by the breaker.
func (g *HTTPGateway) call(ctx context.Context, fn func() error) error {
	if !g.breaker.Allow(g.baseURL) {
		return circuitbreaker.ErrOpen
	}
	err := g.policy.Do(ctx, fn)
	var se *statusError
	switch {
	case err == nil:
		g.breaker.RecordSuccess(g.baseURL)
	case errors.As(err, &se) && se.code < 500:
		// the gateway is up; the academy's session is not
		g.breaker.RecordSuccess(g.baseURL)
	default:
		g.breaker.RecordFailure(g.baseURL)
	}
	return err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrGatewayStatus.Error(), e.code, e.body)
}

func (e *statusError) Unwrap() error { return ErrGatewayStatus }

// do performs one request. 4xx replies are wrapped as permanent so the
// policy stops retrying them.
func (g *HTTPGateway) do(ctx context.Context, method, target string, payload []byte) (string, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return "", retry.Permanent(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", err
	}
	raw := string(data)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	se := &statusError{code: resp.StatusCode, body: raw}
	if resp.StatusCode < 500 {
		return raw, retry.Permanent(se)
	}
	return raw, se
}

var _ Gateway = (*HTTPGateway)(nil)
