package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"modelhub-worker/internal/config"
	"modelhub-worker/pkg/models"
)

// Channel is the persistent-link send capability. link.Manager
// implements it; Send fails fast when no channel is open.
type Channel interface {
	Send(v interface{}) error
}

// Transport delivers outbound messages: channel first, authenticated
// one-shot request second. Only progress and inventory messages have a
// request-path equivalent; everything else is channel-only.
type Transport struct {
	cfg        *config.Store
	channel    Channel
	httpClient *http.Client
}

// New creates the transport with a robust HTTP client for the fallback
// path.
func New(cfg *config.Store, channel Channel) *Transport {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil // Silence default debug logger

	return &Transport{
		cfg:        cfg,
		channel:    channel,
		httpClient: retryClient.StandardClient(),
	}
}

// Send delivers one message, returning whether it went out. A false
// result with nil error means the message had no usable path (channel
// closed, no request equivalent); status delivery is best-effort.
func (t *Transport) Send(ctx context.Context, msg interface{}) (bool, error) {
	err := t.channel.Send(msg)
	if err == nil {
		return true, nil
	}

	method, path := fallbackRoute(msg)
	if method == "" {
		return false, nil
	}

	log.Printf("[Transport] Channel unavailable (%v), using request fallback %s %s", err, method, path)
	if err := t.doRequest(ctx, method, path, msg); err != nil {
		return false, err
	}
	return true, nil
}

// fallbackRoute maps a message onto its request-path resource.
func fallbackRoute(msg interface{}) (method, path string) {
	switch m := msg.(type) {
	case *models.Progress:
		return http.MethodPatch, fmt.Sprintf("/jobs/%d/progress", m.JobID)
	case *models.Inventory:
		return http.MethodPost, "/inventory"
	default:
		return "", ""
	}
}

// doRequest is the core fallback request handler; same credential as
// the channel, carried as a request header.
func (t *Transport) doRequest(ctx context.Context, method, path string, payload interface{}) error {
	cfg := t.cfg.Get()
	url := strings.TrimSuffix(cfg.Endpoint, "/") + path

	jsonBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewBuffer(jsonBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.Key())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("API returned error status: %d", resp.StatusCode)
	}
	return nil
}
