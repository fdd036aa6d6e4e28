package lolz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/domain"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func newTestChannelClient(url string, ingress IngressFunc) *ChannelClient {
	return NewChannelClient(ChannelConfig{
		WSURL:          url,
		Session:        "session-cookie",
		RoomID:         1,
		Ingress:        ingress,
		ReconnectDelay: 10 * time.Millisecond,
		Logger:         testLogger(),
	})
}

// serverHandshake drives the connect/subscribe/history sequence from the
// server side and reports whether it completed.
func serverHandshake(t *testing.T, conn *websocket.Conn) bool {
	t.Helper()

	var cmd command
	if err := conn.ReadJSON(&cmd); err != nil || cmd.Connect == nil {
		t.Errorf("expected connect frame, got %+v (err %v)", cmd, err)
		return false
	}
	conn.WriteJSON(reply{ID: cmd.ID, Connect: &connectResult{Client: "client-1"}})

	if err := conn.ReadJSON(&cmd); err != nil || cmd.Subscribe == nil {
		t.Errorf("expected subscribe frame, got %+v (err %v)", cmd, err)
		return false
	}
	if cmd.Subscribe.Channel != "chatbox_1" {
		t.Errorf("subscribe channel = %q, want chatbox_1", cmd.Subscribe.Channel)
	}
	conn.WriteJSON(reply{ID: cmd.ID, Subscribe: &subscribeResult{Offset: 100, Epoch: "e1"}})

	if err := conn.ReadJSON(&cmd); err != nil || cmd.History == nil {
		t.Errorf("expected history frame, got %+v (err %v)", cmd, err)
		return false
	}
	if cmd.History.Since.Offset != 80 || cmd.History.Since.Epoch != "e1" || cmd.History.Limit != 20 {
		t.Errorf("history request = %+v, want since offset 80 epoch e1 limit 20", cmd.History)
	}
	return true
}

func encodePublication(t *testing.T, messageID int64) publication {
	t.Helper()
	inner, err := json.Marshal(channelEvent{
		Type:    eventNewMessage,
		Message: &Message{MessageID: messageID, UserID: 7, Username: "alice", Plain: "hi", RoomID: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	return publication{Data: pushPayload{Input: string(inner)}}
}

func TestChannelClient_StreamsMessages(t *testing.T) {
	received := make(chan domain.RawMessage, 10)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Cookie"); !strings.Contains(got, "xf_session=session-cookie") {
			t.Errorf("cookie header = %q", got)
		}
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if !serverHandshake(t, conn) {
			return
		}

		// History reply routed by request ID (history was the third frame).
		histReply := reply{ID: 3, History: &historyResult{
			Publications: []publication{encodePublication(t, 201)},
		}}
		conn.WriteJSON(histReply)

		// Unsolicited push on the room channel.
		pub := encodePublication(t, 202)
		conn.WriteJSON(reply{Push: &pushEnvelope{Channel: "chatbox_1", Pub: &pub}})

		// Keep-alive: the client must echo it back.
		conn.WriteMessage(websocket.TextMessage, []byte("{}"))
		_, echo, err := conn.ReadMessage()
		if err != nil || strings.TrimSpace(string(echo)) != "{}" {
			t.Errorf("keep-alive echo = %q (err %v)", echo, err)
		}

		// Malformed inner payload: logged and skipped, not fatal.
		bad := publication{Data: pushPayload{Input: "not json"}}
		conn.WriteJSON(reply{Push: &pushEnvelope{Channel: "chatbox_1", Pub: &bad}})

		// The stream must still be alive afterwards.
		pub3 := encodePublication(t, 203)
		conn.WriteJSON(reply{Push: &pushEnvelope{Channel: "chatbox_1", Pub: &pub3}})

		// Hold the connection until the client goes away.
		conn.ReadMessage()
	}))
	defer server.Close()

	client := newTestChannelClient(wsURL(server), func(msg domain.RawMessage) {
		received <- msg
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- client.runOnce(ctx) }()

	want := []int64{201, 202, 203}
	for _, id := range want {
		select {
		case msg := <-received:
			if msg.MessageID != id {
				t.Errorf("received message %d, want %d", msg.MessageID, id)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", id)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("runOnce did not return after cancel")
	}
}

func TestChannelClient_SendTyping(t *testing.T) {
	subscribed := make(chan struct{})
	gotTyping := make(chan command, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if !serverHandshake(t, conn) {
			return
		}
		close(subscribed)

		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		gotTyping <- cmd
	}))
	defer server.Close()

	client := newTestChannelClient(wsURL(server), func(domain.RawMessage) {})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.runOnce(ctx)

	select {
	case <-subscribed:
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not complete")
	}

	if !client.SendTyping(ctx) {
		t.Fatal("SendTyping should succeed on a live connection")
	}

	select {
	case cmd := <-gotTyping:
		if cmd.Publish == nil || cmd.Publish.Channel != "chatbox_1" {
			t.Fatalf("expected publish on chatbox_1, got %+v", cmd)
		}
		var event channelEvent
		if err := json.Unmarshal(cmd.Publish.Data, &event); err != nil || event.Type != eventTyping {
			t.Errorf("publish data = %s, want typing event", cmd.Publish.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the typing publish")
	}
}

func TestChannelClient_SendTypingDisconnected(t *testing.T) {
	client := newTestChannelClient("ws://127.0.0.1:0", func(domain.RawMessage) {})
	if client.SendTyping(context.Background()) {
		t.Fatal("SendTyping must report false without a connection")
	}
}

func TestChannelClient_ReplyIDMismatchAborts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		// Wrong request ID: the client must abort this attempt.
		conn.WriteJSON(reply{ID: cmd.ID + 99, Connect: &connectResult{Client: "client-1"}})
		conn.ReadMessage()
	}))
	defer server.Close()

	client := newTestChannelClient(wsURL(server), func(domain.RawMessage) {})
	if err := client.runOnce(context.Background()); err == nil {
		t.Fatal("mismatched reply ID should abort the connection attempt")
	}
}

func TestChannelClient_RunReconnects(t *testing.T) {
	var attempts atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop the connection mid-handshake.
		conn.Close()
	}))
	defer server.Close()

	client := newTestChannelClient(wsURL(server), func(domain.RawMessage) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		client.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for attempts.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d connection attempts, want >= 2", attempts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}
