package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/cheburaska21/LolzChatBotTG/internal/bus"
	"github.com/cheburaska21/LolzChatBotTG/internal/domain"
	"github.com/cheburaska21/LolzChatBotTG/internal/lolz"
)

type fakeFetcher struct {
	messages []lolz.Message
	err      error
	calls    int
}

func (f *fakeFetcher) GetMessages(_ context.Context, _ int64, _ int64) ([]lolz.Message, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.messages, nil
}

func drain(queue *bus.Queue) []domain.RawMessage {
	var out []domain.RawMessage
	for {
		select {
		case m := <-queue.Messages():
			out = append(out, m)
		default:
			return out
		}
	}
}

func newTestPoller(fetcher MessageFetcher) (*Poller, *bus.Queue, *State) {
	queue := bus.New(32, testLogger())
	state := NewState(0, 0)
	p := NewPoller(PollerConfig{
		Client: fetcher,
		Queue:  queue,
		State:  state,
		RoomID: 1,
		Logger: testLogger(),
	})
	return p, queue, state
}

func TestPoller_Bootstrap(t *testing.T) {
	fetcher := &fakeFetcher{messages: []lolz.Message{
		{MessageID: 7}, {MessageID: 12}, {MessageID: 9},
	}}
	p, _, state := newTestPoller(fetcher)

	p.Bootstrap(context.Background())

	if got := state.Cursor(); got != 12 {
		t.Errorf("cursor = %d, want 12 (max id present)", got)
	}
}

func TestPoller_TickFiltersSortsAndAdvances(t *testing.T) {
	fetcher := &fakeFetcher{messages: []lolz.Message{
		{MessageID: 15, Username: "c"},
		{MessageID: 11, Username: "a"}, // below cursor
		{MessageID: 13, Username: "b"},
		{MessageID: 14, Username: "seen"},
	}}
	p, queue, state := newTestPoller(fetcher)
	state.AdvanceCursor(12)
	state.MarkSeen(14)

	if err := p.tick(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := drain(queue)
	if len(got) != 2 {
		t.Fatalf("enqueued %d messages, want 2", len(got))
	}
	// Fetch order is unordered; enqueue order must be ascending by ID.
	if got[0].MessageID != 13 || got[1].MessageID != 15 {
		t.Errorf("enqueued IDs = [%d %d], want [13 15]", got[0].MessageID, got[1].MessageID)
	}
	if state.Cursor() != 15 {
		t.Errorf("cursor = %d, want 15", state.Cursor())
	}
}

func TestPoller_TickNothingNew(t *testing.T) {
	fetcher := &fakeFetcher{messages: []lolz.Message{{MessageID: 5}}}
	p, queue, state := newTestPoller(fetcher)
	state.AdvanceCursor(5)

	if err := p.tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := drain(queue); len(got) != 0 {
		t.Errorf("enqueued %d messages, want 0", len(got))
	}
}

func TestPoller_TickErrorIsSoft(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("api down")}
	p, queue, state := newTestPoller(fetcher)
	state.AdvanceCursor(3)

	if err := p.tick(context.Background()); err == nil {
		t.Fatal("tick should surface the fetch error")
	}
	if got := drain(queue); len(got) != 0 {
		t.Errorf("enqueued %d messages on error, want 0", len(got))
	}
	if state.Cursor() != 3 {
		t.Errorf("cursor moved on a failed tick: %d", state.Cursor())
	}
}
