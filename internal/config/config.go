package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Capture modes select where speech recognition runs.
const (
	CaptureText   = "text"
	CaptureRemote = "remote"
)

// Config contains all runtime settings for the voice chat client and the local chat backend.
type Config struct {
	APIBase        string
	RequestTimeout time.Duration
	SessionFile    string
	DatabaseURL    string

	CaptureMode string

	Lang           string
	Voice          string
	Volume         float64
	Rate           float64
	Pitch          float64
	TTSCommand     string
	SpeechSanitize bool

	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	ChatServerBindAddr                 string
	ChatServerSessionInactivityTimeout time.Duration
	ChatServerChunkBytes               int
	ChatServerChunkDelay               time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		APIBase:          envOrDefault("TARS_API_BASE", "http://localhost:8000"),
		SessionFile:      stringsTrimSpace("TARS_SESSION_FILE"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		CaptureMode:      strings.ToLower(envOrDefault("TARS_CAPTURE_MODE", CaptureText)),
		Lang:             envOrDefault("TARS_LANG", "es-ES"),
		Voice:            stringsTrimSpace("TARS_VOICE"),
		TTSCommand:       envOrDefault("TARS_TTS_COMMAND", "espeak-ng"),
		BindAddr:         stringsTrimSpace("APP_BIND_ADDR"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "tars"),
		LogLevel:         envOrDefault("LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("LOG_FORMAT", "console"),

		ChatServerBindAddr: envOrDefault("CHATSERVER_BIND_ADDR", ":8000"),

		RequestTimeout:                     30 * time.Second,
		Volume:                             1,
		Rate:                               1,
		Pitch:                              1,
		SpeechSanitize:                     true,
		ShutdownTimeout:                    10 * time.Second,
		ChatServerSessionInactivityTimeout: 30 * time.Minute,
		ChatServerChunkBytes:               16,
		ChatServerChunkDelay:               40 * time.Millisecond,
	}
	var err error
	cfg.RequestTimeout, err = durationFromEnv("TARS_REQUEST_TIMEOUT", cfg.RequestTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatServerSessionInactivityTimeout, err = durationFromEnv("CHATSERVER_SESSION_INACTIVITY_TIMEOUT", cfg.ChatServerSessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatServerChunkDelay, err = durationFromEnv("CHATSERVER_CHUNK_DELAY", cfg.ChatServerChunkDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatServerChunkBytes, err = intFromEnv("CHATSERVER_CHUNK_BYTES", cfg.ChatServerChunkBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.SpeechSanitize, err = boolFromEnv("TARS_SPEECH_SANITIZE", cfg.SpeechSanitize)
	if err != nil {
		return Config{}, err
	}
	cfg.Volume, err = floatFromEnv("TARS_VOLUME", cfg.Volume)
	if err != nil {
		return Config{}, err
	}
	cfg.Rate, err = floatFromEnv("TARS_RATE", cfg.Rate)
	if err != nil {
		return Config{}, err
	}
	cfg.Pitch, err = floatFromEnv("TARS_PITCH", cfg.Pitch)
	if err != nil {
		return Config{}, err
	}

	if cfg.Volume < 0 || cfg.Volume > 1 {
		return Config{}, fmt.Errorf("TARS_VOLUME must be between 0 and 1")
	}
	if cfg.Rate < 0.1 || cfg.Rate > 10 {
		return Config{}, fmt.Errorf("TARS_RATE must be between 0.1 and 10")
	}
	if cfg.Pitch < 0 || cfg.Pitch > 2 {
		return Config{}, fmt.Errorf("TARS_PITCH must be between 0 and 2")
	}
	switch cfg.CaptureMode {
	case CaptureText:
	case CaptureRemote:
		if cfg.BindAddr == "" {
			return Config{}, fmt.Errorf("TARS_CAPTURE_MODE=remote requires APP_BIND_ADDR")
		}
	default:
		return Config{}, fmt.Errorf("TARS_CAPTURE_MODE must be %q or %q", CaptureText, CaptureRemote)
	}
	if cfg.ChatServerSessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("CHATSERVER_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ChatServerChunkBytes <= 0 {
		return Config{}, fmt.Errorf("CHATSERVER_CHUNK_BYTES must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return Config{}, fmt.Errorf("TARS_REQUEST_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
