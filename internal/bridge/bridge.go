// Package bridge contains the relay core: shared state, the inbound
// pipeline, the polling fetcher, the outbound adapter and the orchestrator
// that wires them to the forum clients.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/bus"
	"github.com/cheburaska21/LolzChatBotTG/internal/config"
	"github.com/cheburaska21/LolzChatBotTG/internal/domain"
	"github.com/cheburaska21/LolzChatBotTG/internal/lolz"
)

// Bridge owns the relay's moving parts and the state they share. One Bridge
// serves one chatbox room mirrored into one destination conversation.
type Bridge struct {
	state    *State
	queue    *bus.Queue
	client   *lolz.Client
	channel  *lolz.ChannelClient
	poller   *Poller
	pipeline *Pipeline
	outbound *Outbound
	logger   *slog.Logger
}

func New(cfg *config.Config, dest domain.Destination, rec Recorder, logger *slog.Logger) *Bridge {
	state := NewState(cfg.Relay.SeenCacheSize, cfg.Relay.ReplyCacheSize)
	queue := bus.New(cfg.Relay.QueueSize, logger)

	client := lolz.NewClient(lolz.ClientConfig{
		BaseURL:     cfg.Forum.APIBase,
		Token:       cfg.Forum.Token,
		MinInterval: time.Duration(cfg.Relay.MinRequestIntervalSeconds) * time.Second,
		Logger:      logger,
	})

	var channelClient *lolz.ChannelClient
	if cfg.Relay.EnableWebsocket {
		channelClient = lolz.NewChannelClient(lolz.ChannelConfig{
			WSURL:          cfg.Forum.WSURL,
			Session:        cfg.Forum.Session,
			RoomID:         cfg.Forum.RoomID,
			Ingress:        func(msg domain.RawMessage) { queue.Enqueue(msg) },
			ReconnectDelay: time.Duration(cfg.Relay.ReconnectDelaySeconds) * time.Second,
			Logger:         logger,
		})
	}

	pipeline := NewPipeline(PipelineConfig{
		Queue:          queue,
		State:          state,
		Destination:    dest,
		Archive:        rec,
		SelfUserID:     cfg.Forum.SelfUserID,
		ProfileURLBase: cfg.Forum.ProfileURLBase,
		GroupingWindow: time.Duration(cfg.Relay.GroupingWindowSeconds) * time.Second,
		Logger:         logger,
	})

	var poller *Poller
	if cfg.Relay.EnablePoller {
		poller = NewPoller(PollerConfig{
			Client:   client,
			Queue:    queue,
			State:    state,
			RoomID:   cfg.Forum.RoomID,
			Interval: time.Duration(cfg.Relay.PollIntervalSeconds) * time.Second,
			Backoff:  time.Duration(cfg.Relay.PollBackoffSeconds) * time.Second,
			Logger:   logger,
		})
	}

	var typing domain.TypingSender
	if channelClient != nil {
		typing = channelClient
	}
	outbound := NewOutbound(OutboundConfig{
		Client: client,
		Typing: typing,
		State:  state,
		RoomID: cfg.Forum.RoomID,
		Logger: logger,
	})

	return &Bridge{
		state:    state,
		queue:    queue,
		client:   client,
		channel:  channelClient,
		poller:   poller,
		pipeline: pipeline,
		outbound: outbound,
		logger:   logger,
	}
}

// Outbound returns the adapter the destination channel relays through.
func (b *Bridge) Outbound() *Outbound { return b.outbound }

// Client exposes the REST client for diagnostics.
func (b *Bridge) Client() *lolz.Client { return b.client }

// Run starts the ingestion paths and the pipeline consumer and blocks until
// ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	if b.poller != nil {
		// Only messages posted after startup get relayed.
		b.poller.Bootstrap(ctx)
	}

	var wg sync.WaitGroup

	if b.channel != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.channel.Run(ctx)
		}()
	}

	if b.poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.poller.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		b.pipeline.Run(ctx)
	}()

	b.logger.Info("bridge running",
		"websocket", b.channel != nil,
		"poller", b.poller != nil,
	)

	<-ctx.Done()
	b.queue.Close()
	wg.Wait()
}
