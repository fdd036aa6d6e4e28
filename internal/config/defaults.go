package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Forum: ForumConfig{
			APIBase:        "https://api.zelenka.guru",
			WSURL:          "wss://ws.zelenka.guru/connection/websocket",
			RoomID:         1,
			ProfileURLBase: "https://lolz.live/members/",
		},
		Telegram: TelegramConfig{
			ParseMode: "HTML",
		},
		Relay: RelayConfig{
			EnableWebsocket:           true,
			EnablePoller:              true,
			PollIntervalSeconds:       2,
			PollBackoffSeconds:        3,
			ReconnectDelaySeconds:     5,
			MinRequestIntervalSeconds: 3,
			GroupingWindowSeconds:     300,
			QueueSize:                 100,
			SeenCacheSize:             4096,
			ReplyCacheSize:            100,
		},
		Archive: ArchiveConfig{
			Enabled: false,
			DBPath:  "~/.lolzbridge/archive.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9270",
		},
	}
}
