// Package config provides configuration management for avatarstage
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Assets       AssetsConfig       `mapstructure:"assets"`
	Avatar       AvatarConfig       `mapstructure:"avatar"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Chat         ChatConfig         `mapstructure:"chat"`
	TTS          TTSConfig          `mapstructure:"tts"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Render       RenderConfig       `mapstructure:"render"`
	Log          LogConfig          `mapstructure:"log"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	AllowedOrigin   string        `mapstructure:"allowed_origin"` // CORS origin for the relay routes
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AssetsConfig configures where animation clips come from
type AssetsConfig struct {
	Dir     string `mapstructure:"dir"`      // served at /models/ and read by the local fetcher
	BaseURL string `mapstructure:"base_url"` // when set, clips are fetched from <base_url>/models/
	ClipExt string `mapstructure:"clip_ext"`
}

// AvatarConfig configures the avatar and its clips
type AvatarConfig struct {
	Animations  []string `mapstructure:"animations"` // overrides the embedded catalog when non-empty
	IdleClip    string   `mapstructure:"idle_clip"`
	WaveClip    string   `mapstructure:"wave_clip"`
	TalkClip    string   `mapstructure:"talk_clip"`
	SleepClip   string   `mapstructure:"sleep_clip"`
	FadeSeconds float64  `mapstructure:"fade_seconds"`
	FadeMode    string   `mapstructure:"fade_mode"`  // linear, ease-in, ease-out, ease-in-out
	SkitsFile   string   `mapstructure:"skits_file"` // overrides the embedded skit catalog when set
}

// ConversationConfig configures the conversation state machine
type ConversationConfig struct {
	WakePhrase      string        `mapstructure:"wake_phrase"`
	SleepPhrase     string        `mapstructure:"sleep_phrase"`
	WakeLine        string        `mapstructure:"wake_line"`
	StartAsleep     bool          `mapstructure:"start_asleep"`
	ChatTimeout     time.Duration `mapstructure:"chat_timeout"`
	TTSTimeout      time.Duration `mapstructure:"tts_timeout"`
	PlaybackTimeout time.Duration `mapstructure:"playback_timeout"`
	FillerWords     []string      `mapstructure:"filler_words"`
	MaxExchanges    int           `mapstructure:"max_exchanges"`
}

// ChatConfig configures the chat collaborator
type ChatConfig struct {
	Provider     string        `mapstructure:"provider"` // http, openai, gemini
	Endpoint     string        `mapstructure:"endpoint"` // used by the http provider
	Model        string        `mapstructure:"model"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// TTSConfig configures text-to-speech
type TTSConfig struct {
	Provider string        `mapstructure:"provider"` // http, openai, elevenlabs
	Endpoint string        `mapstructure:"endpoint"` // used by the http provider
	VoiceID  string        `mapstructure:"voice_id"`
	Speed    float64       `mapstructure:"speed"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// CacheConfig configures the redis-backed TTS cache
type CacheConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"` // empty disables caching
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// RenderConfig configures the per-session render loop
type RenderConfig struct {
	FPS          int           `mapstructure:"fps"`
	BroadcastFPS int           `mapstructure:"broadcast_fps"` // frames pushed to the page per second
	MaxDelta     time.Duration `mapstructure:"max_delta"`
}

// LogConfig configures logging
type LogConfig struct {
	Dir        string `mapstructure:"dir"` // empty logs to console only
	Level      string `mapstructure:"level"`
	MaxHistory int    `mapstructure:"max_history"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			AllowedOrigin:   "*",
			ShutdownTimeout: 10 * time.Second,
		},
		Assets: AssetsConfig{
			Dir:     "assets",
			ClipExt: ".glb",
		},
		Avatar: AvatarConfig{
			IdleClip:    "idle",
			WaveClip:    "wave",
			TalkClip:    "talk",
			SleepClip:   "sleep",
			FadeSeconds: 0.4,
			FadeMode:    "ease-in-out",
		},
		Conversation: ConversationConfig{
			WakePhrase:      "wake up",
			SleepPhrase:     "go to sleep",
			WakeLine:        "I'm awake! What did I miss?",
			StartAsleep:     false,
			ChatTimeout:     12 * time.Second,
			TTSTimeout:      12 * time.Second,
			PlaybackTimeout: 90 * time.Second,
			MaxExchanges:    10,
		},
		Chat: ChatConfig{
			Provider:     "openai",
			Model:        "gpt-4o-mini",
			SystemPrompt: "You are a cheerful animated character. Answer in one or two short spoken sentences.",
			Timeout:      30 * time.Second,
		},
		TTS: TTSConfig{
			Provider: "elevenlabs",
			VoiceID:  "nova",
			Speed:    1.0,
			Timeout:  30 * time.Second,
		},
		Cache: CacheConfig{
			TTL: 24 * time.Hour,
		},
		Render: RenderConfig{
			FPS:          60,
			BroadcastFPS: 20,
			MaxDelta:     100 * time.Millisecond,
		},
		Log: LogConfig{
			Level:      "info",
			MaxHistory: 1000,
		},
	}
}

// Load reads configuration from file and environment.
// An empty path searches ~/.avatarstage and the working directory; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		if dir, err := GetConfigDir(); err == nil {
			viper.AddConfigPath(dir)
		}
		viper.AddConfigPath(".")
	}

	// Environment variable overrides
	viper.SetEnvPrefix("AVATARSTAGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Watch re-reads the config file whenever it changes and hands the fresh
// config to onChange. Only meaningful after Load found a file.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("server", cfg.Server)
	viper.Set("assets", cfg.Assets)
	viper.Set("avatar", cfg.Avatar)
	viper.Set("conversation", cfg.Conversation)
	viper.Set("chat", cfg.Chat)
	viper.Set("tts", cfg.TTS)
	viper.Set("cache", cfg.Cache)
	viper.Set("render", cfg.Render)
	viper.Set("log", cfg.Log)

	configPath := filepath.Join(configDir, "config.yaml")
	return viper.WriteConfigAs(configPath)
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".avatarstage"), nil
}

// FileUsed returns the config file Load read, empty when none was found.
func FileUsed() string {
	return viper.ConfigFileUsed()
}
