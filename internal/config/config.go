package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	BridgePort int    `mapstructure:"bridge_port"`
	Secret     string `mapstructure:"secret"`

	NegotiationURL string   `mapstructure:"negotiation_url"`
	APIToken       string   `mapstructure:"api_token"`
	ICEServers     []string `mapstructure:"ice_servers"`
	Voice          string   `mapstructure:"voice"`

	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	ChannelOpenTimeout time.Duration `mapstructure:"channel_open_timeout"`
	StatsInterval      time.Duration `mapstructure:"stats_interval"`
	QualityPoll        time.Duration `mapstructure:"quality_poll"`

	MaxRetryAttempts int           `mapstructure:"max_retry_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay    time.Duration `mapstructure:"retry_max_delay"`
	RetryMultiplier  float64       `mapstructure:"retry_multiplier"`

	QueueCapacity int `mapstructure:"queue_capacity"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("bridge_port", 8080)
	v.SetDefault("negotiation_url", "https://api.openai.com/v1/realtime")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("voice", "alloy")
	v.SetDefault("connect_timeout", "5s")
	v.SetDefault("negotiation_timeout", "5s")
	v.SetDefault("channel_open_timeout", "3s")
	v.SetDefault("stats_interval", "5s")
	v.SetDefault("quality_poll", "2s")
	v.SetDefault("max_retry_attempts", 3)
	v.SetDefault("retry_base_delay", "500ms")
	v.SetDefault("retry_max_delay", "10s")
	v.SetDefault("retry_multiplier", 2.0)
	v.SetDefault("queue_capacity", 100)

	v.SetEnvPrefix("voicelink")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Bridge: %d | Endpoint: %s\n", cfg.Mode, cfg.BridgePort, cfg.NegotiationURL)
	return &cfg, nil
}
