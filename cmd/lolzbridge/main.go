package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cheburaska21/LolzChatBotTG/internal/archive"
	"github.com/cheburaska21/LolzChatBotTG/internal/bridge"
	"github.com/cheburaska21/LolzChatBotTG/internal/channel"
	"github.com/cheburaska21/LolzChatBotTG/internal/config"
	"github.com/cheburaska21/LolzChatBotTG/internal/lolz"
	"github.com/cheburaska21/LolzChatBotTG/internal/metrics"

	"github.com/spf13/cobra"
)

var (
	version    = "1.0.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "lolzbridge",
		Short: "lolzbridge: forum chatbox to Telegram relay",
		Long:  "lolzbridge mirrors a forum chatbox room into a Telegram chat and relays replies back.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.lolzbridge/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := config.Save(cfgPath, config.Defaults()); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the relay",
		RunE:  runRelay,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	logger, err = buildLogger(cfg.General)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec bridge.Recorder
	var stats channel.StatsFunc
	if cfg.Archive.Enabled {
		store, err := archive.Open(cfg.Archive.DBPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		rec = store
		stats = func(ctx context.Context) string {
			st, err := store.Stats(ctx)
			if err != nil {
				logger.Warn("archive stats query failed", "err", err)
				return "Stats are unavailable right now."
			}
			return fmt.Sprintf("<b>📊 Relay stats</b>\nMessages relayed: %d\nAuthors seen: %d\nUptime: %s",
				st.Total, st.Authors, metrics.Collector.Uptime().Round(time.Second))
		}
	}

	tg := channel.NewTelegram(channel.TelegramConfig{
		Token:     cfg.Telegram.Token,
		ChatID:    cfg.Telegram.ChatID,
		ParseMode: cfg.Telegram.ParseMode,
		Stats:     stats,
		Logger:    logger,
	})
	if err := tg.Connect(); err != nil {
		return err
	}

	br := bridge.New(cfg, tg, rec, logger)
	tg.SetRelay(func(ctx context.Context, text string, replyTo int64) error {
		return br.Outbound().Relay(ctx, text, replyTo)
	})

	if cfg.Metrics.Enabled {
		go serveMetrics(ctx, cfg.Metrics.Addr)
	}

	go br.Run(ctx)

	logger.Info("starting the relay", "version", version, "room_id", cfg.Forum.RoomID)
	return tg.Run(ctx)
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate config and probe the forum REST API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			fmt.Println("✓ config is valid")

			client := lolz.NewClient(lolz.ClientConfig{
				BaseURL: cfg.Forum.APIBase,
				Token:   cfg.Forum.Token,
				Logger:  logger,
			})
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			msgs, err := client.GetMessages(ctx, cfg.Forum.RoomID, 0)
			if err != nil {
				return fmt.Errorf("forum API probe failed: %w", err)
			}
			fmt.Printf("✓ forum API reachable (room %d, %d messages)\n", cfg.Forum.RoomID, len(msgs))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("lolzbridge", version)
		},
	}
}

// buildLogger configures slog from config: level, stderr, optional log file.
func buildLogger(cfg config.GeneralConfig) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file %s: %w", cfg.LogFile, err)
		}
		out = io.MultiWriter(os.Stderr, f)
	}

	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), nil
}

func serveMetrics(ctx context.Context, addr string) {
	server := &http.Server{
		Addr:              addr,
		Handler:           metrics.Collector.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics endpoint failed", "err", err)
	}
}
