package lolz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/domain"

	"github.com/gorilla/websocket"
)

const (
	defaultReconnectDelay = 5 * time.Second

	// How far behind the subscribe position the backfill request reaches.
	historyWindow = 20

	eventNewMessage = "new_message"
	eventTyping     = "typing"
)

// IngressFunc receives every new chatbox message decoded off the realtime
// channel, including backfilled ones.
type IngressFunc func(domain.RawMessage)

// Protocol frames. Inbound push payloads are JSON-in-JSON: pub.data.input is
// itself an encoded document that has to be decoded again before inspection.
// That nesting is an upstream protocol quirk, not ours to flatten.
type command struct {
	ID        int64             `json:"id,omitempty"`
	Connect   *connectRequest   `json:"connect,omitempty"`
	Subscribe *subscribeRequest `json:"subscribe,omitempty"`
	History   *historyRequest   `json:"history,omitempty"`
	Publish   *publishRequest   `json:"publish,omitempty"`
}

type connectRequest struct {
	Name string `json:"name"`
}

type subscribeRequest struct {
	Channel string `json:"channel"`
}

type historyRequest struct {
	Channel string         `json:"channel"`
	Since   streamPosition `json:"since"`
	Limit   int            `json:"limit"`
}

type publishRequest struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type streamPosition struct {
	Offset int64  `json:"offset"`
	Epoch  string `json:"epoch"`
}

type reply struct {
	ID        int64            `json:"id,omitempty"`
	Connect   *connectResult   `json:"connect,omitempty"`
	Subscribe *subscribeResult `json:"subscribe,omitempty"`
	History   *historyResult   `json:"history,omitempty"`
	Push      *pushEnvelope    `json:"push,omitempty"`
}

type connectResult struct {
	Client string `json:"client"`
}

type subscribeResult struct {
	Offset int64  `json:"offset"`
	Epoch  string `json:"epoch"`
}

type historyResult struct {
	Publications []publication `json:"publications"`
}

type publication struct {
	Data pushPayload `json:"data"`
}

type pushEnvelope struct {
	Channel string       `json:"channel"`
	Pub     *publication `json:"pub"`
}

type pushPayload struct {
	Input string `json:"input"`
}

// channelEvent is the inner, independently-encoded document carried by
// pushes and history publications.
type channelEvent struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

// ChannelClient maintains the persistent push subscription to the chatbox
// realtime channel: handshake, room subscription, history backfill,
// keep-alives and reconnects. It runs for the lifetime of the process.
type ChannelClient struct {
	wsURL          string
	session        string
	channel        string
	ingress        IngressFunc
	reconnectDelay time.Duration
	dialer         *websocket.Dialer
	logger         *slog.Logger

	reqID atomic.Int64

	mu   sync.Mutex
	conn *websocket.Conn
}

type ChannelConfig struct {
	WSURL          string
	Session        string // forum session cookie value
	RoomID         int64
	Ingress        IngressFunc
	ReconnectDelay time.Duration
	Logger         *slog.Logger
}

func NewChannelClient(cfg ChannelConfig) *ChannelClient {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	return &ChannelClient{
		wsURL:          cfg.WSURL,
		session:        cfg.Session,
		channel:        fmt.Sprintf("chatbox_%d", cfg.RoomID),
		ingress:        cfg.Ingress,
		reconnectDelay: cfg.ReconnectDelay,
		dialer:         websocket.DefaultDialer,
		logger:         cfg.Logger,
	}
}

// Run drives the connect/subscribe/stream cycle until ctx is cancelled.
// Every failure transitions back to disconnected and the whole cycle
// restarts after a fixed delay; there is no retry budget.
func (c *ChannelClient) Run(ctx context.Context) {
	for {
		if err := c.runOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("realtime channel disconnected", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *ChannelClient) runOnce(ctx context.Context) error {
	header := http.Header{}
	if c.session != "" {
		header.Set("Cookie", "xf_session="+c.session)
	}

	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.wsURL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.Close()
	}()

	// Unblock the read loop when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// Handshake: connect frame, await the reply carrying our client ID.
	connectID := c.nextID()
	if err := c.write(command{ID: connectID, Connect: &connectRequest{Name: "js"}}); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	rep, err := c.awaitReply(conn, connectID)
	if err != nil {
		return fmt.Errorf("connect handshake: %w", err)
	}
	if rep.Connect == nil || rep.Connect.Client == "" {
		return fmt.Errorf("connect handshake: reply carries no client ID")
	}
	c.logger.Info("realtime channel connected", "client", rep.Connect.Client)

	// Subscribe to the room channel; the reply carries the stream position.
	subscribeID := c.nextID()
	if err := c.write(command{ID: subscribeID, Subscribe: &subscribeRequest{Channel: c.channel}}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}
	rep, err = c.awaitReply(conn, subscribeID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if rep.Subscribe == nil {
		return fmt.Errorf("subscribe: reply carries no stream position")
	}
	pos := streamPosition{Offset: rep.Subscribe.Offset, Epoch: rep.Subscribe.Epoch}
	c.logger.Info("subscribed to chatbox channel",
		"channel", c.channel,
		"offset", pos.Offset,
		"epoch", pos.Epoch,
	)

	// Backfill: ask for recent history to close the gap between the
	// subscription point and whatever we missed while disconnected.
	since := pos
	since.Offset -= historyWindow
	if since.Offset < 0 {
		since.Offset = 0
	}
	historyID := c.nextID()
	if err := c.write(command{ID: historyID, History: &historyRequest{
		Channel: c.channel,
		Since:   since,
		Limit:   historyWindow,
	}}); err != nil {
		return fmt.Errorf("send history request: %w", err)
	}

	return c.stream(conn, historyID)
}

// stream reads frames until the transport fails. Keep-alives are echoed,
// the history reply is routed by request ID, pushes are dispatched, and
// malformed frames are logged and skipped.
func (c *ChannelClient) stream(conn *websocket.Conn, historyID int64) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}

		if isKeepAlive(data) {
			if err := c.writeRaw([]byte("{}")); err != nil {
				return fmt.Errorf("echo keep-alive: %w", err)
			}
			continue
		}

		var rep reply
		if err := json.Unmarshal(data, &rep); err != nil {
			c.logger.Warn("malformed frame, skipping", "err", err)
			continue
		}

		switch {
		case rep.ID == historyID && rep.History != nil:
			c.logger.Debug("history backfill received", "publications", len(rep.History.Publications))
			for _, pub := range rep.History.Publications {
				c.dispatch(pub)
			}
		case rep.Push != nil && rep.Push.Pub != nil:
			c.dispatch(*rep.Push.Pub)
		}
	}
}

// dispatch decodes the nested payload and hands new messages to ingress.
func (c *ChannelClient) dispatch(pub publication) {
	var event channelEvent
	if err := json.Unmarshal([]byte(pub.Data.Input), &event); err != nil {
		c.logger.Warn("malformed push payload, skipping", "err", err)
		return
	}
	if event.Type != eventNewMessage || event.Message == nil {
		return
	}
	c.ingress(event.Message.Raw())
}

// SendTyping publishes a typing indicator on the room channel. Best-effort:
// any failure is swallowed and reported as false.
func (c *ChannelClient) SendTyping(ctx context.Context) bool {
	data, err := json.Marshal(channelEvent{Type: eventTyping})
	if err != nil {
		return false
	}
	cmd := command{ID: c.nextID(), Publish: &publishRequest{Channel: c.channel, Data: data}}
	if err := c.write(cmd); err != nil {
		c.logger.Debug("typing indicator not sent", "err", err)
		return false
	}
	return true
}

// awaitReply reads frames until the reply matching id arrives. Keep-alives
// are echoed in between; anything else is a handshake failure that aborts
// this connection attempt.
func (c *ChannelClient) awaitReply(conn *websocket.Conn, id int64) (*reply, error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}
		if isKeepAlive(data) {
			if err := c.writeRaw([]byte("{}")); err != nil {
				return nil, fmt.Errorf("echo keep-alive: %w", err)
			}
			continue
		}
		var rep reply
		if err := json.Unmarshal(data, &rep); err != nil {
			return nil, fmt.Errorf("malformed reply: %w", err)
		}
		if rep.ID != id {
			return nil, fmt.Errorf("reply ID mismatch: got %d, want %d", rep.ID, id)
		}
		return &rep, nil
	}
}

func (c *ChannelClient) nextID() int64 {
	return c.reqID.Add(1)
}

func (c *ChannelClient) write(cmd command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return c.writeRaw(data)
}

func (c *ChannelClient) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func isKeepAlive(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("{}"))
}
