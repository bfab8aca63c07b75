package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the arena service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	LiveAdapterMode string
	GeminiAPIKey    string
	LiveModel       string
	DefaultVoice    string

	// How long a created session may sit in "connecting" before the
	// janitor reclaims it (client never attached or never got media up).
	ConnectTimeout time.Duration

	GestureCooldown time.Duration

	CaptureSampleRate  int
	PlaybackSampleRate int

	DatabaseURL     string
	StartingCredits int

	PersonaCatalogPath string

	MercadoPagoAccessToken string
	MercadoPagoAPIBase     string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "drarena"),
		AllowAnyOrigin:   false,
		LiveAdapterMode:  envOrDefault("LIVE_ADAPTER_MODE", "auto"),
		GeminiAPIKey:     stringsTrimSpace("GEMINI_API_KEY"),
		// Native-audio preview model used by the live argue sessions.
		LiveModel:    envOrDefault("LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025"),
		DefaultVoice: envOrDefault("LIVE_VOICE_NAME", "Kore"),

		ConnectTimeout:  30 * time.Second,
		GestureCooldown: 4 * time.Second,

		// The live backend consumes 16 kHz PCM and answers with 24 kHz PCM.
		CaptureSampleRate:  16000,
		PlaybackSampleRate: 24000,

		DatabaseURL:     stringsTrimSpace("DATABASE_URL"),
		StartingCredits: 100,

		PersonaCatalogPath: stringsTrimSpace("PERSONA_CATALOG_PATH"),

		MercadoPagoAccessToken: stringsTrimSpace("MERCADOPAGO_ACCESS_TOKEN"),
		MercadoPagoAPIBase:     envOrDefault("MERCADOPAGO_API_BASE", "https://api.mercadopago.com"),

		ShutdownTimeout: 15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("APP_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GestureCooldown, err = durationFromEnv("GESTURE_COOLDOWN", cfg.GestureCooldown)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.CaptureSampleRate, err = intFromEnv("CAPTURE_SAMPLE_RATE", cfg.CaptureSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.PlaybackSampleRate, err = intFromEnv("PLAYBACK_SAMPLE_RATE", cfg.PlaybackSampleRate)
	if err != nil {
		return Config{}, err
	}
	cfg.StartingCredits, err = intFromEnv("STARTING_CREDITS", cfg.StartingCredits)
	if err != nil {
		return Config{}, err
	}

	if cfg.GestureCooldown <= 0 {
		return Config{}, fmt.Errorf("GESTURE_COOLDOWN must be positive")
	}
	if cfg.CaptureSampleRate <= 0 {
		return Config{}, fmt.Errorf("CAPTURE_SAMPLE_RATE must be positive")
	}
	if cfg.PlaybackSampleRate <= 0 {
		return Config{}, fmt.Errorf("PLAYBACK_SAMPLE_RATE must be positive")
	}
	if cfg.StartingCredits < 0 {
		return Config{}, fmt.Errorf("STARTING_CREDITS must be >= 0")
	}

	mode := strings.ToLower(strings.TrimSpace(cfg.LiveAdapterMode))
	switch mode {
	case "auto", "gemini", "mock":
		cfg.LiveAdapterMode = mode
	default:
		return Config{}, fmt.Errorf("invalid LIVE_ADAPTER_MODE: %q (expected auto|gemini|mock)", cfg.LiveAdapterMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
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
