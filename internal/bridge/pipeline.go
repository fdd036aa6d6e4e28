package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/bus"
	"github.com/cheburaska21/LolzChatBotTG/internal/domain"
	"github.com/cheburaska21/LolzChatBotTG/internal/markup"
	"github.com/cheburaska21/LolzChatBotTG/internal/metrics"
)

const defaultGroupingWindow = 300 * time.Second

// Recorder archives relayed messages. Optional; the pipeline works without
// one.
type Recorder interface {
	Record(ctx context.Context, msg domain.RawMessage, body string, imageCount int) error
}

// Pipeline is the single consumer of the inbound queue. It deduplicates,
// normalizes and renders each chatbox message, forwards it to the
// destination, and maintains the reply-mapping and author-grouping state.
//
// There must be exactly one Run loop per pipeline: author grouping is only
// coherent when forwards are strictly sequential.
type Pipeline struct {
	queue          *bus.Queue
	state          *State
	dest           domain.Destination
	archive        Recorder
	selfUserID     int64
	profileURLBase string
	groupingWindow time.Duration
	logger         *slog.Logger

	now func() time.Time
}

type PipelineConfig struct {
	Queue          *bus.Queue
	State          *State
	Destination    domain.Destination
	Archive        Recorder
	SelfUserID     int64 // forum identity used for echo suppression
	ProfileURLBase string
	GroupingWindow time.Duration
	Logger         *slog.Logger
	Now            func() time.Time // optional, for tests
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.GroupingWindow <= 0 {
		cfg.GroupingWindow = defaultGroupingWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		queue:          cfg.Queue,
		state:          cfg.State,
		dest:           cfg.Destination,
		archive:        cfg.Archive,
		selfUserID:     cfg.SelfUserID,
		profileURLBase: cfg.ProfileURLBase,
		groupingWindow: cfg.GroupingWindow,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}
}

// Run drains the queue until ctx is cancelled or the queue is closed.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-p.queue.Messages():
			if !ok {
				return
			}
			p.process(ctx, msg)
		}
	}
}

func (p *Pipeline) process(ctx context.Context, msg domain.RawMessage) {
	// A message from our own forum identity is one we just relayed outbound,
	// echoed back through ingestion. Mark it handled so neither path
	// forwards it again.
	if msg.UserID == p.selfUserID {
		p.state.MarkSeen(msg.MessageID)
		p.state.AdvanceCursor(msg.MessageID)
		return
	}

	if !p.state.MarkSeen(msg.MessageID) {
		metrics.Collector.Counter("relay_messages_deduplicated_total",
			"Inbound messages suppressed as already handled").Inc()
		return
	}

	body, images := markup.ExtractImages(msg.Plain, msg.HTML)
	body = markup.Clean(body)

	now := p.now()
	lastAuthor, lastTime := p.state.Grouping()
	showAuthor := msg.Username != lastAuthor || now.Sub(lastTime) > p.groupingWindow

	text := body
	if showAuthor {
		author := fmt.Sprintf("<a href='%s%d'>%s</a>", p.profileURLBase, msg.UserID, msg.Username)
		text = "<b>" + author + "</b>\n" + text
	}

	// A zero-width-joiner anchor makes the destination's link preview render
	// the first image inline; without images the preview is suppressed.
	disablePreview := len(images) == 0
	if len(images) > 0 {
		text = imageAnchor(images[0]) + text
	}

	destID, err := p.dest.SendText(ctx, text, disablePreview)
	if err != nil {
		// No retry: the ID is already marked seen, so the message is dropped
		// rather than risking a duplicate on a later pass.
		p.logger.Error("delivery to destination failed, dropping message",
			"message_id", msg.MessageID,
			"user_id", msg.UserID,
			"err", err,
		)
		metrics.Collector.Counter("relay_delivery_failures_total",
			"Messages dropped because the destination send failed").Inc()
		return
	}

	metrics.Collector.Counter("relay_messages_forwarded_total",
		"Chatbox messages forwarded to the destination").Inc()

	p.state.RecordReply(destID, domain.ReplyTarget{UserID: msg.UserID, Username: msg.Username})
	metrics.Collector.Gauge("relay_reply_cache_entries",
		"Reply mappings currently held for outbound resolution").Set(int64(p.state.ReplyCount()))

	if len(images) > 1 {
		for _, img := range images[1:] {
			if _, err := p.dest.SendText(ctx, imageAnchor(img), false); err != nil {
				p.logger.Warn("extra image not delivered", "url", img, "err", err)
			}
		}
	}

	p.state.SetGrouping(msg.Username, now)

	if p.archive != nil {
		if err := p.archive.Record(ctx, msg, body, len(images)); err != nil {
			p.logger.Warn("archive write failed", "message_id", msg.MessageID, "err", err)
		}
	}
}

func imageAnchor(url string) string {
	return fmt.Sprintf("<a href='%s'>&#8205;</a>", url)
}
