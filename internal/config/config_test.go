package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBase != "http://localhost:8000" {
		t.Fatalf("APIBase = %q, want %q", cfg.APIBase, "http://localhost:8000")
	}
	if cfg.Lang != "es-ES" || cfg.Volume != 1 || cfg.Rate != 1 || cfg.Pitch != 1 {
		t.Fatalf("voice defaults = %q %v %v %v", cfg.Lang, cfg.Volume, cfg.Rate, cfg.Pitch)
	}
	if cfg.BindAddr != "" {
		t.Fatalf("BindAddr = %q, want empty default", cfg.BindAddr)
	}
	if !cfg.SpeechSanitize || cfg.CaptureMode != CaptureText {
		t.Fatalf("SpeechSanitize = %v CaptureMode = %q", cfg.SpeechSanitize, cfg.CaptureMode)
	}
	if cfg.ChatServerBindAddr != ":8000" || cfg.ChatServerChunkDelay != 40*time.Millisecond {
		t.Fatalf("chat server defaults = %q %v", cfg.ChatServerBindAddr, cfg.ChatServerChunkDelay)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("TARS_API_BASE", "http://backend:9000")
	t.Setenv("TARS_VOLUME", "0.25")
	t.Setenv("TARS_SPEECH_SANITIZE", "off")
	t.Setenv("TARS_CAPTURE_MODE", "REMOTE")
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("CHATSERVER_CHUNK_DELAY", "0s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBase != "http://backend:9000" || cfg.Volume != 0.25 || cfg.SpeechSanitize {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.CaptureMode != CaptureRemote || cfg.ChatServerChunkDelay != 0 {
		t.Fatalf("CaptureMode = %q ChunkDelay = %v", cfg.CaptureMode, cfg.ChatServerChunkDelay)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		key, value, want string
	}{
		{key: "TARS_VOLUME", value: "1.5", want: "TARS_VOLUME"},
		{key: "TARS_RATE", value: "fast", want: "TARS_RATE parse error"},
		{key: "TARS_REQUEST_TIMEOUT", value: "soon", want: "TARS_REQUEST_TIMEOUT parse error"},
		{key: "TARS_CAPTURE_MODE", value: "remote", want: "requires APP_BIND_ADDR"},
		{key: "TARS_CAPTURE_MODE", value: "telepathy", want: "TARS_CAPTURE_MODE"},
		{key: "APP_ALLOW_ANY_ORIGIN", value: "maybe", want: "expected bool"},
		{key: "CHATSERVER_SESSION_INACTIVITY_TIMEOUT", value: "1s", want: "at least 5s"},
		{key: "CHATSERVER_CHUNK_BYTES", value: "0", want: "must be positive"},
	}
	for _, tc := range cases {
		setCoreEnvEmpty(t)
		t.Setenv(tc.key, tc.value)
		_, err := Load()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("Load() with %s=%q error = %v, want %q", tc.key, tc.value, err, tc.want)
		}
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"TARS_API_BASE",
		"TARS_REQUEST_TIMEOUT",
		"TARS_SESSION_FILE",
		"TARS_CAPTURE_MODE",
		"TARS_LANG",
		"TARS_VOICE",
		"TARS_VOLUME",
		"TARS_RATE",
		"TARS_PITCH",
		"TARS_TTS_COMMAND",
		"TARS_SPEECH_SANITIZE",
		"DATABASE_URL",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"CHATSERVER_BIND_ADDR",
		"CHATSERVER_SESSION_INACTIVITY_TIMEOUT",
		"CHATSERVER_CHUNK_BYTES",
		"CHATSERVER_CHUNK_DELAY",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
