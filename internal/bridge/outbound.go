package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cheburaska21/LolzChatBotTG/internal/domain"
	"github.com/cheburaska21/LolzChatBotTG/internal/lolz"
	"github.com/cheburaska21/LolzChatBotTG/internal/metrics"
)

// MessageCreator is the slice of the REST client the outbound adapter needs.
type MessageCreator interface {
	CreateMessage(ctx context.Context, roomID int64, text string) (*lolz.Message, error)
}

// Outbound publishes destination-side messages into the chatbox room,
// resolving "reply to" references back to chatbox authors.
type Outbound struct {
	client MessageCreator
	typing domain.TypingSender // optional
	state  *State
	roomID int64
	logger *slog.Logger
}

type OutboundConfig struct {
	Client MessageCreator
	Typing domain.TypingSender
	State  *State
	RoomID int64
	Logger *slog.Logger
}

func NewOutbound(cfg OutboundConfig) *Outbound {
	return &Outbound{
		client: cfg.Client,
		typing: cfg.Typing,
		state:  cfg.State,
		roomID: cfg.RoomID,
		logger: cfg.Logger,
	}
}

// Relay sends text to the chatbox room. When replyToDestID names a
// destination message we previously relayed, the text is prefixed with the
// original author's mention. The error is user-visible on the destination
// side; there is no retry.
func (o *Outbound) Relay(ctx context.Context, text string, replyToDestID int64) error {
	if o.typing != nil {
		o.typing.SendTyping(ctx)
	}

	if replyToDestID != 0 {
		if target, ok := o.state.ReplyTarget(replyToDestID); ok {
			text = "@" + target.Username + ", " + text
		}
	}

	msg, err := o.client.CreateMessage(ctx, o.roomID, text)
	if err != nil {
		return fmt.Errorf("create chatbox message: %w", err)
	}

	// The sent message echoes back through ingestion; mark it seen now so
	// the pipeline never mirrors it back.
	if msg != nil && msg.MessageID != 0 {
		o.state.MarkSeen(msg.MessageID)
	}

	metrics.Collector.Counter("relay_outbound_messages_total",
		"Destination-side messages relayed into the chatbox").Inc()

	o.logger.Info("relayed message to chatbox", "room_id", o.roomID, "reply_to", replyToDestID)
	return nil
}
