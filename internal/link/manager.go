package link

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"modelhub-worker/internal/config"
	"modelhub-worker/pkg/models"
)

// ErrNotConnected is returned by Send when no channel is open; callers
// fall back to the request path.
var ErrNotConnected = errors.New("link: not connected")

// Handler receives everything the link produces: decoded jobs, control
// commands, and the open notification that triggers the worker-state
// announcement and liveness poll.
type Handler interface {
	HandleJob(job models.Job)
	HandleControl(env *models.Envelope) *models.ControlAck
	OnOpen()
}

// Manager owns the persistent channel to the hub: dialing, auth,
// the receive loop, close-code suspension, and reconnect backoff.
type Manager struct {
	cfg     *config.Store
	handler Handler
	dialer  *websocket.Dialer

	mu    sync.Mutex // guards conn, state, dirty, suspendedUntil
	conn  *websocket.Conn
	state State
	dirty bool

	sendMu sync.Mutex // serializes writes so frames never interleave

	// wake interrupts a suspension sleep after a credential rotation.
	wake chan struct{}

	attempt        int
	suspendedUntil time.Time
}

func NewManager(cfg *config.Store, handler Handler) *Manager {
	return &Manager{
		cfg:     cfg,
		handler: handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
		wake: make(chan struct{}, 1),
	}
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes one message on the open channel. It snapshots the
// connection reference once so a concurrent reconnect never tears a
// write in half.
func (m *Manager) Send(v interface{}) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.sendMu.Lock()
	defer m.sendMu.Unlock()
	return conn.WriteJSON(v)
}

// MarkDirty forces the current channel closed after a credential or
// endpoint rotation. The run loop reconnects with fresh settings, so
// the worker never keeps operating under stale credentials.
func (m *Manager) MarkDirty() {
	m.mu.Lock()
	m.dirty = true
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	// The run loop may be parked in a suspension sleep; wake it so the
	// rotated credentials get their immediate attempt.
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run drives the connection state machine until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for ctx.Err() == nil {
		cfg := m.cfg.Get()
		if !cfg.Enabled || !cfg.HasCredentials() {
			m.setState(Disconnected)
			sleep(ctx, time.Second)
			continue
		}

		// A credential rotation overrides any suspension window: the
		// cooldown was earned by the old credentials.
		if until := m.suspension(); time.Now().Before(until) && !m.isDirty() {
			m.setState(Suspended)
			m.sleepSuspended(ctx, until)
			continue
		}

		m.setState(Connecting)
		conn, err := m.dial(ctx, cfg)
		if err != nil {
			m.setState(Disconnected)
			delay := ReconnectDelay(m.attempt)
			if m.attempt < maxBackoffAttempt {
				m.attempt++
			}
			log.Printf("[Link] Connect failed (retrying in %s): %v", delay, err)
			sleep(ctx, delay)
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.state = Open
		m.dirty = false
		m.suspendedUntil = time.Time{}
		m.mu.Unlock()
		m.attempt = 0
		log.Printf("[Link] Connected to %s", cfg.Endpoint)

		// Announce we are running and prompt redelivery of anything
		// the hub queued while we were offline.
		m.handler.OnOpen()

		err = m.receive(ctx, conn)
		m.mu.Lock()
		m.conn = nil
		m.state = Disconnected
		m.mu.Unlock()
		conn.Close()

		m.classifyDisconnect(err)
	}

	m.setState(Disconnected)
}

func (m *Manager) classifyDisconnect(err error) {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		log.Printf("[Link] Channel lost: %v", err)
		return
	}

	until := ClassifyClose(ce.Code, ce.Text, time.Now())
	if until.IsZero() {
		log.Printf("[Link] Channel closed (code %d): %s", ce.Code, ce.Text)
		return
	}

	m.mu.Lock()
	m.suspendedUntil = until
	m.mu.Unlock()
	log.Printf("[Link] Channel closed (code %d), suspending reconnects until %s: %s",
		ce.Code, until.Format(time.RFC3339), ce.Text)
}

// dial opens and authenticates the websocket. The credential travels
// twice: as an Authorization header and as an encoded subprotocol
// token, so intermediaries that strip headers still convey identity.
func (m *Manager) dial(ctx context.Context, cfg *config.Config) (*websocket.Conn, error) {
	target, err := wsURL(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	kind := "bearer.v1"
	if cfg.APIKey == "" {
		kind = "legacy.v1"
	}
	token := kind + "." + base64.RawURLEncoding.EncodeToString([]byte(cfg.Key()))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.Key())

	dialer := *m.dialer
	dialer.Subprotocols = []string{token}

	conn, resp, err := dialer.DialContext(ctx, target, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return conn, nil
}

// receive decodes frames until the channel dies or ctx is cancelled.
// Cancellation closes the socket (after a bounded normal-closure
// attempt) to unblock the pending read.
func (m *Manager) receive(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.sendMu.Lock()
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			m.sendMu.Unlock()
			conn.Close()
		case <-done:
		}
	}()

	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		m.route(&env)
	}
}

func (m *Manager) route(env *models.Envelope) {
	switch env.Type {
	case "job":
		var job models.Job
		if err := json.Unmarshal(env.Data, &job); err != nil {
			log.Printf("[Link] Dropping malformed job message: %v", err)
			return
		}
		if job.ID <= 0 {
			log.Printf("[Link] Dropping job with invalid id %d", job.ID)
			return
		}
		m.handler.HandleJob(job)
	case "control":
		ack := m.handler.HandleControl(env)
		if ack == nil {
			return
		}
		if err := m.Send(ack); err != nil {
			log.Printf("[Link] Failed to ack %q: %v", env.Command, err)
		}
	default:
		log.Printf("[Link] Ignoring message of unknown type %q", env.Type)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) suspension() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspendedUntil
}

func (m *Manager) isDirty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// wsURL derives the channel address from the configured endpoint.
func wsURL(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid endpoint scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/worker/link"
	return u.String(), nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// sleepSuspended waits out a suspension window, releasing early on
// cancellation or a credential-rotation wake.
func (m *Manager) sleepSuspended(ctx context.Context, deadline time.Time) {
	d := time.Until(deadline)
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	case <-m.wake:
	}
}
