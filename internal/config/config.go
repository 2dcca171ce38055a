package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	keyHTTPAddr      = "BACKLOG_HTTP_ADDR"
	keyDataDir       = "BACKLOG_DATA_DIR"
	keyDBPath        = "BACKLOG_DB_PATH"
	keyDatabaseURL   = "BACKLOG_DATABASE_URL"
	keyDiscordToken  = "DISCORD_TOKEN"
	keyGuildID       = "DISCORD_GUILD_ID"
	keyChannelID     = "BACKLOG_CHANNEL_ID"
	keyWebhookURL    = "BACKLOG_WEBHOOK_URL"
	keyAnthropicKey  = "ANTHROPIC_API_KEY"
	keyLLMModel      = "BACKLOG_LLM_MODEL"
	keyLLMBaseURL    = "BACKLOG_LLM_BASE_URL"
	keySinkTimeout   = "BACKLOG_SINK_TIMEOUT"
	keyRefineTimeout = "BACKLOG_REFINE_TIMEOUT"
	keyKafkaBrokers  = "BACKLOG_KAFKA_BROKERS"
	keyKafkaTopic    = "BACKLOG_KAFKA_TOPIC"
	keyJWTSecret     = "BACKLOG_JWT_SECRET"
	keyJWTIssuer     = "BACKLOG_JWT_ISSUER"
	keyRestartToken  = "BACKLOG_RESTART_TOKEN"
	keyLogLevel      = "BACKLOG_LOG_LEVEL"
	keyLogFormat     = "BACKLOG_LOG_FORMAT"
)

type Config struct {
	HTTPAddr    string
	DataDir     string
	DBPath      string
	DatabaseURL string

	DiscordToken     string
	GuildID          string
	DefaultChannelID string
	WebhookURL       string

	LLMAPIKey  string
	LLMModel   string
	LLMBaseURL string

	SinkTimeout   time.Duration
	RefineTimeout time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	JWTSecret    string
	JWTIssuer    string
	RestartToken string

	LogLevel  string
	LogFormat string
}

// Backend names the persistence backend the config selects.
func (c Config) Backend() string {
	if c.DatabaseURL != "" {
		return "postgres"
	}
	return "sqlite"
}

// Load reads configuration from the environment. Values in envFile fill in
// keys the environment leaves unset; a missing file is not an error.
func Load(envFile string) (Config, error) {
	v := viper.New()
	v.SetDefault(keyHTTPAddr, ":8080")
	v.SetDefault(keyDataDir, "data")
	v.SetDefault(keyLLMModel, "claude-3-5-haiku-latest")
	v.SetDefault(keySinkTimeout, "10s")
	v.SetDefault(keyRefineTimeout, "20s")
	v.SetDefault(keyKafkaTopic, "backlog.events")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyLogFormat, "text")
	v.AutomaticEnv()

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("read %s: %w", envFile, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("stat %s: %w", envFile, err)
		}
	}

	dataDir := v.GetString(keyDataDir)
	cfg := Config{
		HTTPAddr:         v.GetString(keyHTTPAddr),
		DataDir:          dataDir,
		DBPath:           v.GetString(keyDBPath),
		DatabaseURL:      v.GetString(keyDatabaseURL),
		DiscordToken:     v.GetString(keyDiscordToken),
		GuildID:          v.GetString(keyGuildID),
		DefaultChannelID: v.GetString(keyChannelID),
		WebhookURL:       v.GetString(keyWebhookURL),
		LLMAPIKey:        v.GetString(keyAnthropicKey),
		LLMModel:         v.GetString(keyLLMModel),
		LLMBaseURL:       v.GetString(keyLLMBaseURL),
		KafkaBrokers:     splitList(v.GetString(keyKafkaBrokers)),
		KafkaTopic:       v.GetString(keyKafkaTopic),
		JWTSecret:        v.GetString(keyJWTSecret),
		JWTIssuer:        v.GetString(keyJWTIssuer),
		RestartToken:     v.GetString(keyRestartToken),
		LogLevel:         strings.ToLower(v.GetString(keyLogLevel)),
		LogFormat:        strings.ToLower(v.GetString(keyLogFormat)),
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(dataDir, "backlog.db")
	}

	var err error
	if cfg.SinkTimeout, err = duration(v, keySinkTimeout); err != nil {
		return Config{}, err
	}
	if cfg.RefineTimeout, err = duration(v, keyRefineTimeout); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}

func splitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
