package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath                         = "/etc/flairbridge/config.yaml"
	DefaultGRPCAddr                     = "0.0.0.0:9090"
	DefaultHTTPAddr                     = "0.0.0.0:8080"
	DefaultStateDir                     = "/var/lib/flairbridge"
	DefaultBaseURL                      = "https://api.flair.co"
	DefaultTokenPath                    = "/oauth/token"
	DefaultPollIntervalSeconds          = 60
	DefaultPollJitterSeconds            = 20
	DefaultStructurePollIntervalSeconds = 300
	DefaultMaxRequestsPerMinute         = 60
	DefaultCacheTTLSeconds              = 5
	DefaultOAuthPrefix                  = "flairbridge/oauth"
	DefaultOAuthRefreshIntervalSeconds  = 1800
	DefaultMQTTListen                   = "127.0.0.1:1883"
	DefaultTopicPrefix                  = "flairbridge"
	DefaultInfluxBatchSize              = 100
	DefaultInfluxFlushIntervalMS        = 1000
)

// Vent presentations accepted by flair.vent_presentation.
const (
	PresentationWindowCovering = "window_covering"
	PresentationFan            = "fan"
	PresentationAirPurifier    = "air_purifier"
	PresentationHidden         = "hidden"
)

type Config struct {
	Core     CoreConfig     `yaml:"core"`
	Log      LogConfig      `yaml:"log"`
	Flair    FlairConfig    `yaml:"flair"`
	OAuth    OAuthConfig    `yaml:"oauth"`
	Store    StoreConfig    `yaml:"store"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

type CoreConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
	StateDir string `yaml:"state_dir"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type FlairConfig struct {
	BaseURL          string `yaml:"base_url"`
	TokenURL         string `yaml:"token_url"`
	ClientID         string `yaml:"client_id"`
	ClientIDFile     string `yaml:"client_id_file"`
	ClientSecret     string `yaml:"client_secret"`
	ClientSecretFile string `yaml:"client_secret_file"`
	Username         string `yaml:"username"`
	UsernameFile     string `yaml:"username_file"`
	Password         string `yaml:"password"`
	PasswordFile     string `yaml:"password_file"`
	StructureID      string `yaml:"structure_id"`

	PollIntervalSeconds          int `yaml:"poll_interval_seconds"`
	PollJitterSeconds            int `yaml:"poll_jitter_seconds"`
	StructurePollIntervalSeconds int `yaml:"structure_poll_interval_seconds"`
	RediscoverIntervalSeconds    int `yaml:"rediscover_interval_seconds"`

	VentPresentation           string `yaml:"vent_presentation"`
	HideVentTemperatureSensors bool   `yaml:"hide_vent_temperature_sensors"`
	HidePuckRooms              bool   `yaml:"hide_puck_rooms"`
	HidePuckSensors            bool   `yaml:"hide_puck_sensors"`
	ExposeStructure            bool   `yaml:"expose_structure"`

	MaxRequestsPerMinute int `yaml:"max_requests_per_minute"`
	CacheTTLSeconds      int `yaml:"cache_ttl_seconds"`
}

type OAuthConfig struct {
	StatePath              string     `yaml:"state_path"`
	RefreshIntervalSeconds int        `yaml:"refresh_interval_seconds"`
	Blob                   BlobConfig `yaml:"blob"`
}

type BlobConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Bucket        string `yaml:"bucket"`
	Prefix        string `yaml:"prefix"`
	Region        string `yaml:"region"`
	AccessKeyFile string `yaml:"access_key_file"`
	SecretKeyFile string `yaml:"secret_key_file"`
	UseSSL        *bool  `yaml:"use_ssl"`
}

// Enabled reports whether an S3 mirror is configured.
func (b BlobConfig) Enabled() bool {
	return b.Endpoint != "" || b.Bucket != ""
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type MQTTConfig struct {
	Enabled        *bool  `yaml:"enabled"`
	Broker         string `yaml:"broker"`
	EmbeddedListen string `yaml:"embedded_listen"`
	TopicPrefix    string `yaml:"topic_prefix"`
	ClientID       string `yaml:"client_id"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	QoS            byte   `yaml:"qos"`
}

// IsEnabled defaults to true when the key is absent.
func (m MQTTConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type InfluxDBConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	Token           string `yaml:"token"`
	Org             string `yaml:"org"`
	Bucket          string `yaml:"bucket"`
	BatchSize       uint   `yaml:"batch_size"`
	FlushIntervalMS uint   `yaml:"flush_interval_ms"`
}

// Load parses the YAML config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Core.GRPCAddr == "" {
		cfg.Core.GRPCAddr = DefaultGRPCAddr
	}
	if cfg.Core.HTTPAddr == "" {
		cfg.Core.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Core.StateDir == "" {
		cfg.Core.StateDir = DefaultStateDir
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 20
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}

	f := &cfg.Flair
	if f.BaseURL == "" {
		f.BaseURL = DefaultBaseURL
	}
	f.BaseURL = strings.TrimRight(f.BaseURL, "/")
	if f.TokenURL == "" {
		f.TokenURL = f.BaseURL + DefaultTokenPath
	}
	if f.PollIntervalSeconds == 0 {
		f.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if f.PollJitterSeconds == 0 {
		f.PollJitterSeconds = DefaultPollJitterSeconds
	}
	if f.StructurePollIntervalSeconds == 0 {
		f.StructurePollIntervalSeconds = DefaultStructurePollIntervalSeconds
	}
	if f.VentPresentation == "" {
		f.VentPresentation = PresentationWindowCovering
	}
	if f.MaxRequestsPerMinute == 0 {
		f.MaxRequestsPerMinute = DefaultMaxRequestsPerMinute
	}
	if f.CacheTTLSeconds == 0 {
		f.CacheTTLSeconds = DefaultCacheTTLSeconds
	}

	if cfg.OAuth.StatePath == "" {
		cfg.OAuth.StatePath = cfg.Core.StateDir + "/flair-oauth.json"
	}
	if cfg.OAuth.RefreshIntervalSeconds == 0 {
		cfg.OAuth.RefreshIntervalSeconds = DefaultOAuthRefreshIntervalSeconds
	}
	if cfg.OAuth.Blob.Prefix == "" {
		cfg.OAuth.Blob.Prefix = DefaultOAuthPrefix
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = cfg.Core.StateDir + "/accessories.db"
	}

	if cfg.MQTT.EmbeddedListen == "" {
		cfg.MQTT.EmbeddedListen = DefaultMQTTListen
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = DefaultTopicPrefix
	}
	cfg.MQTT.TopicPrefix = strings.Trim(cfg.MQTT.TopicPrefix, "/")
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "flairbridge"
	}

	if cfg.InfluxDB.BatchSize == 0 {
		cfg.InfluxDB.BatchSize = DefaultInfluxBatchSize
	}
	if cfg.InfluxDB.FlushIntervalMS == 0 {
		cfg.InfluxDB.FlushIntervalMS = DefaultInfluxFlushIntervalMS
	}
	if cfg.InfluxDB.Bucket == "" {
		cfg.InfluxDB.Bucket = "flair"
	}
}

// Validate enforces required invariants beyond YAML typing.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	switch cfg.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", cfg.Log.Format)
	}

	f := cfg.Flair
	if f.ClientID == "" && f.ClientIDFile == "" {
		return fmt.Errorf("flair.client_id or flair.client_id_file is required")
	}
	if f.ClientSecret == "" && f.ClientSecretFile == "" {
		return fmt.Errorf("flair.client_secret or flair.client_secret_file is required")
	}
	if (f.Username == "" && f.UsernameFile == "") != (f.Password == "" && f.PasswordFile == "") {
		return fmt.Errorf("flair.username and flair.password must be set together")
	}
	if f.PollIntervalSeconds < 0 {
		return fmt.Errorf("flair.poll_interval_seconds must be positive")
	}
	if f.PollJitterSeconds < 0 {
		return fmt.Errorf("flair.poll_jitter_seconds must not be negative")
	}
	if f.RediscoverIntervalSeconds < 0 {
		return fmt.Errorf("flair.rediscover_interval_seconds must not be negative")
	}
	switch f.VentPresentation {
	case PresentationWindowCovering, PresentationFan, PresentationAirPurifier, PresentationHidden:
	default:
		return fmt.Errorf("flair.vent_presentation %q is not one of window_covering, fan, air_purifier, hidden", f.VentPresentation)
	}

	if b := cfg.OAuth.Blob; b.Enabled() {
		if b.Endpoint == "" {
			return fmt.Errorf("oauth.blob.endpoint is required")
		}
		if b.Bucket == "" {
			return fmt.Errorf("oauth.blob.bucket is required")
		}
		if b.AccessKeyFile == "" {
			return fmt.Errorf("oauth.blob.access_key_file is required")
		}
		if b.SecretKeyFile == "" {
			return fmt.Errorf("oauth.blob.secret_key_file is required")
		}
	}

	if cfg.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}

	if cfg.InfluxDB.Enabled {
		if cfg.InfluxDB.URL == "" {
			return fmt.Errorf("influxdb.url is required")
		}
		if cfg.InfluxDB.Org == "" {
			return fmt.Errorf("influxdb.org is required")
		}
	}

	return nil
}

// Credentials resolves the Flair credentials, reading *_file variants.
func (f FlairConfig) Credentials() (Credentials, error) {
	var (
		creds Credentials
		err   error
	)
	if creds.ClientID, err = valueOrFile(f.ClientID, f.ClientIDFile); err != nil {
		return creds, fmt.Errorf("flair client id: %w", err)
	}
	if creds.ClientSecret, err = valueOrFile(f.ClientSecret, f.ClientSecretFile); err != nil {
		return creds, fmt.Errorf("flair client secret: %w", err)
	}
	if creds.Username, err = valueOrFile(f.Username, f.UsernameFile); err != nil {
		return creds, fmt.Errorf("flair username: %w", err)
	}
	if creds.Password, err = valueOrFile(f.Password, f.PasswordFile); err != nil {
		return creds, fmt.Errorf("flair password: %w", err)
	}
	return creds, nil
}

// Credentials are opaque to everything but the OAuth bootstrap.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

func valueOrFile(value, path string) (string, error) {
	if value != "" || path == "" {
		return value, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
