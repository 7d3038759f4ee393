package core

import (
	"time"
)

const (
	// DefaultDailyQuota is the number of predictions a user may run per UTC day
	DefaultDailyQuota = 5
	// DefaultResolveConcurrency caps concurrent catalog lookups per setlist
	DefaultResolveConcurrency = 8
	// DefaultMaxSetlistPages caps how many pages of history are fetched per artist
	DefaultMaxSetlistPages = 3
	// DefaultFloodLimitPerMinute caps API calls per user per minute on expensive endpoints
	DefaultFloodLimitPerMinute = 10
	// DefaultTrackCacheSize is the number of resolutions kept in memory
	DefaultTrackCacheSize = 5000
)

type Config struct {
	Spotify   SpotifyConfig
	SetlistFM SetlistFMConfig
	LLM       LLMConfig
	Server    ServerConfig
	Store     StoreConfig
	Log       LogConfig
	App       AppConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TokenPath    string
}

type SetlistFMConfig struct {
	APIKey         string
	BaseURL        string
	RequestsPerSec float64
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type LLMConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type StoreConfig struct {
	DatabasePath string
}

type LogConfig struct {
	Level  string
	Format string
}

type AppConfig struct {
	DailyQuota          int
	ResolveConcurrency  int
	MaxSetlistPages     int
	FloodLimitPerMinute int
	TrackCacheSize      int
	PublicPlaylists     bool
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://127.0.0.1:8080/callback",
			TokenPath:   "./spotify_token.json",
		},
		SetlistFM: SetlistFMConfig{
			BaseURL:        "https://api.setlist.fm/rest/1.0",
			RequestsPerSec: 2,
			MaxRetries:     3,
			RetryBaseDelay: time.Second,
		},
		LLM: LLMConfig{
			Provider: "none",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
		Store: StoreConfig{
			DatabasePath: "./setlistify.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		App: AppConfig{
			DailyQuota:          DefaultDailyQuota,
			ResolveConcurrency:  DefaultResolveConcurrency,
			MaxSetlistPages:     DefaultMaxSetlistPages,
			FloodLimitPerMinute: DefaultFloodLimitPerMinute,
			TrackCacheSize:      DefaultTrackCacheSize,
		},
	}
}
