package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_JSON(t *testing.T) {
	t.Setenv("TEST_FORUM_TOKEN", "secret-token")

	path := writeConfig(t, "config.json", `{
		"forum": {
			"token": "${TEST_FORUM_TOKEN}",
			"roomId": 2,
			"selfUserId": 99
		},
		"telegram": {
			"token": "tg-token",
			"chatId": 1234
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Forum.Token != "secret-token" {
		t.Errorf("forum.token = %q, env var not expanded", cfg.Forum.Token)
	}
	if cfg.Forum.RoomID != 2 {
		t.Errorf("forum.roomId = %d, want 2", cfg.Forum.RoomID)
	}
	// Defaults must survive a partial file.
	if cfg.Forum.APIBase == "" {
		t.Error("forum.apiBase default was lost")
	}
	if cfg.Relay.ReplyCacheSize != 100 {
		t.Errorf("relay.replyCacheSize = %d, want default 100", cfg.Relay.ReplyCacheSize)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
forum:
  token: yaml-token
  roomId: 3
telegram:
  token: tg
  chatId: 42
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Forum.Token != "yaml-token" || cfg.Forum.RoomID != 3 {
		t.Errorf("forum = %+v", cfg.Forum)
	}
	if cfg.Telegram.ChatID != 42 {
		t.Errorf("telegram.chatId = %d, want 42", cfg.Telegram.ChatID)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"forum": {"roomId": 0},
		"relay": {"pollIntervalSeconds": 0}
	}`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("invalid config should fail to load")
	}
	for _, want := range []string{"forum.roomId", "relay.pollIntervalSeconds"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("missing file should fail")
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SET_VAR", "value")

	tests := []struct {
		in   string
		want string
	}{
		{"${SET_VAR}", "value"},
		{"${UNSET_VAR_XYZ:-fallback}", "fallback"},
		{"${UNSET_VAR_XYZ}", "${UNSET_VAR_XYZ}"},
		{"prefix-${SET_VAR}-suffix", "prefix-value-suffix"},
		{"no vars here", "no vars here"},
	}
	for _, tt := range tests {
		if got := ExpandEnvVars(tt.in); got != tt.want {
			t.Errorf("ExpandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate_BothIngestionPathsDisabled(t *testing.T) {
	cfg := Defaults()
	cfg.Relay.EnableWebsocket = false
	cfg.Relay.EnablePoller = false

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "at least one") {
		t.Fatalf("err = %v, want ingestion-path validation failure", err)
	}
}
