package lolz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMinInterval = 3 * time.Second
	defaultCooldown    = 3 * time.Second

	// One transparent retry after a cool-down when the forum throttles us.
	maxThrottleRetries = 1
)

// Client performs throttled requests against the forum REST API. All callers
// serialize through a single gate that keeps a minimum interval between any
// two outbound calls; the gate delays, it never rejects.
//
// Failures are soft: callers get an error, log it, and proceed with degraded
// behavior (skip the poll cycle, drop the send).
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	limiter  *rate.Limiter
	cooldown time.Duration
	logger   *slog.Logger
}

type ClientConfig struct {
	BaseURL     string
	Token       string
	MinInterval time.Duration
	Cooldown    time.Duration
	Logger      *slog.Logger
	HTTPClient  *http.Client // optional, for tests
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = pooledHTTPClient(30 * time.Second)
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		token:    cfg.Token,
		http:     httpClient,
		limiter:  rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
		cooldown: cfg.Cooldown,
		logger:   cfg.Logger,
	}
}

// pooledHTTPClient returns an HTTP client with connection pooling tuned for
// a single upstream host.
func pooledHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// GetMessages fetches the room's recent messages. beforeMessage > 0 pages
// backwards for backfill. The API does not guarantee order.
func (c *Client) GetMessages(ctx context.Context, roomID int64, beforeMessage int64) ([]Message, error) {
	query := url.Values{"room_id": {strconv.FormatInt(roomID, 10)}}
	if beforeMessage > 0 {
		query.Set("before_message", strconv.FormatInt(beforeMessage, 10))
	}

	body, err := c.do(ctx, http.MethodGet, "/chatbox/messages", query, nil)
	if err != nil {
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode messages response: %w", err)
	}
	return resp.Messages, nil
}

// CreateMessage posts text to the room and returns the created message.
func (c *Client) CreateMessage(ctx context.Context, roomID int64, text string) (*Message, error) {
	query := url.Values{"room_id": {strconv.FormatInt(roomID, 10)}}
	payload := map[string]string{"message": text}

	body, err := c.do(ctx, http.MethodPost, "/chatbox/message", query, payload)
	if err != nil {
		return nil, err
	}

	var resp createMessageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	return &resp.Message, nil
}

// DeleteMessage removes a chatbox message by ID.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	query := url.Values{"message_id": {strconv.FormatInt(messageID, 10)}}
	_, err := c.do(ctx, http.MethodDelete, "/chatbox/message", query, nil)
	return err
}

// do issues one API call through the throttle gate. HTTP 429 triggers a
// bounded cool-down-and-retry loop; any other non-200 status or transport
// error is returned to the caller as-is.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, payload any) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var reqBody io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("encode request body: %w", err)
			}
			reqBody = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint+"?"+query.Encode(), reqBody)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if attempt >= maxThrottleRetries {
				return nil, fmt.Errorf("%s %s: throttled after %d retries", method, endpoint, attempt)
			}
			c.logger.Warn("forum API throttled, cooling down",
				"endpoint", endpoint,
				"cooldown", c.cooldown,
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cooldown):
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%s %s: unexpected status %d", method, endpoint, resp.StatusCode)
		}
		if readErr != nil {
			return nil, fmt.Errorf("read response body: %w", readErr)
		}
		return body, nil
	}
}
