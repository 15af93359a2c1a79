// Package config loads broker settings from a YAML file and environment
// variables via viper.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// ProviderKeys holds the external-service credentials recognized per the
// external interface's environment-variable list. A missing key disables
// exactly the pipeline it serves.
type ProviderKeys struct {
	AnthropicAPIKey       string `mapstructure:"anthropic_api_key"`
	GeminiAPIKey          string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey          string `mapstructure:"openai_api_key"`
	ElevenLabsAPIKey      string `mapstructure:"elevenlabs_api_key"`
	ElevenLabsSantaVoice  string `mapstructure:"elevenlabs_santa_voice_id"`
	DeepgramAPIKey        string `mapstructure:"deepgram_api_key"`
	CerebrasAPIKey        string `mapstructure:"cerebras_api_key"`
	GroqAPIKey            string `mapstructure:"groq_api_key"`
	TogetherAPIKey        string `mapstructure:"together_api_key"`
}

// RedisConfig configures the join-code lookup store and the asynq job queue.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"password"`
	DB   int    `mapstructure:"db"`
}

// AuthConfig configures optional JWT validation of the gateway's ?token=.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Required  bool   `mapstructure:"required"`
}

// SessionDefaults configures the per-session tunables named throughout
// component design §4 and the concurrency model §5.
type SessionDefaults struct {
	HostReconnectGrace  time.Duration `mapstructure:"host_reconnect_grace"`
	FrameWaitTimeout    time.Duration `mapstructure:"frame_wait_timeout"`
	FreshFrameMaxAge    time.Duration `mapstructure:"fresh_frame_max_age"`
	BackgroundFrameMaxAge time.Duration `mapstructure:"background_frame_max_age"`
	VisualQAFrameMaxAge time.Duration `mapstructure:"visual_qa_frame_max_age"`
	EchoSuppressWindow  time.Duration `mapstructure:"echo_suppress_window"`
	MuteTailDelay       time.Duration `mapstructure:"mute_tail_delay"`
	CreditTick          time.Duration `mapstructure:"credit_tick"`
	FrameRingSize       int           `mapstructure:"frame_ring_size"`
	TranscriptRingSize  int           `mapstructure:"transcript_ring_size"`
	RecentResponseRing  int           `mapstructure:"recent_response_ring"`
}

// DefaultSessionDefaults returns the values fixed by the spec where it gives
// a concrete default (frame wait 500ms, host reconnect 30s, etc).
func DefaultSessionDefaults() SessionDefaults {
	return SessionDefaults{
		HostReconnectGrace:    30 * time.Second,
		FrameWaitTimeout:      500 * time.Millisecond,
		FreshFrameMaxAge:      2 * time.Second,
		BackgroundFrameMaxAge: 5 * time.Second,
		VisualQAFrameMaxAge:   3 * time.Second,
		EchoSuppressWindow:    2 * time.Second,
		MuteTailDelay:         500 * time.Millisecond,
		CreditTick:            60 * time.Second,
		FrameRingSize:         10,
		TranscriptRingSize:    20,
		RecentResponseRing:    5,
	}
}

// BillingConfig configures the spend cap described in §4.13.
type BillingConfig struct {
	MonthlySpendCapUSD float64 `mapstructure:"monthly_spend_cap_usd"`
}

// StoreConfig configures the JSON-file persistence layout §6 mandates.
type StoreConfig struct {
	RedemptionPath string `mapstructure:"redemption_path"`
	SpendPath      string `mapstructure:"spend_path"`
	AnalyticsDir   string `mapstructure:"analytics_dir"`
}

// Settings is the broker's fully resolved configuration.
type Settings struct {
	Env      string          `mapstructure:"env"`
	Debug    bool            `mapstructure:"debug"`
	Port     string          `mapstructure:"port"`
	Keys     ProviderKeys    `mapstructure:"keys"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Auth     AuthConfig      `mapstructure:"auth"`
	Session  SessionDefaults `mapstructure:"session"`
	Billing  BillingConfig   `mapstructure:"billing"`
	Store    StoreConfig     `mapstructure:"store"`
}

// Load reads configuration from REDI_CONFIG (an explicit file path) or the
// conventional config_<env>.yaml search path, then overlays environment
// variables for the provider keys so container deployments can skip the
// YAML file entirely.
func Load() (*Settings, error) {
	if cfgPath := os.Getenv("REDI_CONFIG"); cfgPath != "" {
		viper.SetConfigFile(cfgPath)
	} else {
		viper.SetConfigName("config_" + genEnv())
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/redi")
	}

	viper.SetDefault("port", "8080")
	viper.SetDefault("session", DefaultSessionDefaults())
	viper.SetDefault("store.redemption_path", "redemption-store.json")
	viper.SetDefault("store.spend_path", "spend-tracker.json")
	viper.SetDefault("store.analytics_dir", "./analytics")
	viper.SetDefault("billing.monthly_spend_cap_usd", 250.0)
	viper.SetDefault("redis.addr", "localhost:6379")

	viper.AutomaticEnv()
	bindProviderKeyEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &settings, nil
}

// bindProviderKeyEnv binds the environment variables named in the external
// interface directly, so a bare env var (no config file at all) is enough
// to light up a pipeline.
func bindProviderKeyEnv() {
	_ = viper.BindEnv("keys.anthropic_api_key", "ANTHROPIC_API_KEY")
	_ = viper.BindEnv("keys.gemini_api_key", "GEMINI_API_KEY", "GOOGLE_API_KEY")
	_ = viper.BindEnv("keys.openai_api_key", "OPENAI_API_KEY")
	_ = viper.BindEnv("keys.elevenlabs_api_key", "ELEVENLABS_API_KEY")
	_ = viper.BindEnv("keys.elevenlabs_santa_voice_id", "ELEVENLABS_SANTA_VOICE_ID")
	_ = viper.BindEnv("keys.deepgram_api_key", "DEEPGRAM_API_KEY")
	_ = viper.BindEnv("keys.cerebras_api_key", "CEREBRAS_API_KEY")
	_ = viper.BindEnv("keys.groq_api_key", "GROQ_API_KEY")
	_ = viper.BindEnv("keys.together_api_key", "TOGETHER_API_KEY")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = viper.BindEnv("debug", "DEBUG")
	_ = viper.BindEnv("port", "PORT")
}

func genEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "dev"
	}
	return env
}
