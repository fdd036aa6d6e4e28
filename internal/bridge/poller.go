package bridge

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/bus"
	"github.com/cheburaska21/LolzChatBotTG/internal/lolz"
	"github.com/cheburaska21/LolzChatBotTG/internal/metrics"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollBackoff  = 3 * time.Second
)

// MessageFetcher is the slice of the REST client the poller needs.
type MessageFetcher interface {
	GetMessages(ctx context.Context, roomID int64, beforeMessage int64) ([]lolz.Message, error)
}

// Poller periodically fetches the room over REST and enqueues anything newer
// than the cursor. Standalone it is the sole ingestion path; next to the
// realtime channel it is the net that catches missed pushes.
type Poller struct {
	client   MessageFetcher
	queue    *bus.Queue
	state    *State
	roomID   int64
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger
}

type PollerConfig struct {
	Client   MessageFetcher
	Queue    *bus.Queue
	State    *State
	RoomID   int64
	Interval time.Duration
	Backoff  time.Duration
	Logger   *slog.Logger
}

func NewPoller(cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultPollBackoff
	}
	return &Poller{
		client:   cfg.Client,
		queue:    cfg.Queue,
		state:    cfg.State,
		roomID:   cfg.RoomID,
		interval: cfg.Interval,
		backoff:  cfg.Backoff,
		logger:   cfg.Logger,
	}
}

// Bootstrap initializes the cursor from one fetch, taking the highest
// message ID present so only messages posted after startup are relayed.
// A fetch failure leaves the cursor at zero; the first regular tick will
// then relay whatever the room currently holds.
func (p *Poller) Bootstrap(ctx context.Context) {
	msgs, err := p.client.GetMessages(ctx, p.roomID, 0)
	if err != nil {
		p.logger.Warn("cursor bootstrap fetch failed", "err", err)
		return
	}
	for _, m := range msgs {
		p.state.AdvanceCursor(m.MessageID)
		p.state.MarkSeen(m.MessageID)
	}
	p.logger.Info("cursor bootstrapped", "cursor", p.state.Cursor(), "messages", len(msgs))
}

// Run ticks until ctx is cancelled. A failed fetch is non-fatal: the next
// tick just waits the longer backoff interval.
func (p *Poller) Run(ctx context.Context) {
	wait := p.interval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := p.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("poll cycle skipped", "err", err)
			wait = p.backoff
			continue
		}
		wait = p.interval
	}
}

func (p *Poller) tick(ctx context.Context) error {
	msgs, err := p.client.GetMessages(ctx, p.roomID, 0)
	if err != nil {
		return err
	}

	metrics.Collector.Counter("relay_poll_cycles_total",
		"Completed polling fetches against the forum REST API").Inc()

	cursor := p.state.Cursor()
	fresh := msgs[:0]
	for _, m := range msgs {
		if m.MessageID > cursor && !p.state.Seen(m.MessageID) {
			fresh = append(fresh, m)
		}
	}

	// The API does not guarantee order.
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].MessageID < fresh[j].MessageID })

	for _, m := range fresh {
		p.state.AdvanceCursor(m.MessageID)
		p.queue.Enqueue(m.Raw())
	}
	return nil
}
