package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"ai-lecture-transcriber/internal/service/audio"
	"ai-lecture-transcriber/internal/service/engine"
	"ai-lecture-transcriber/internal/service/params"
)

// FileEnv names the optional YAML configuration file.
const FileEnv = "TRANSCRIBER_CONFIG_FILE"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the service configuration. Values come from defaults, then the
// YAML file, then environment variables.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Batch         BatchConfig         `yaml:"batch"`
	Session       SessionConfig       `yaml:"session"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`

	// File is the YAML file the values were read from, if any.
	File string `yaml:"-"`
}

type ServiceConfig struct {
	Principal   string `yaml:"principal"`
	GRPCPort    string `yaml:"grpcPort"`
	HTTPPort    string `yaml:"httpPort"`
	Environment string `yaml:"environment"`
}

type TranscriptionConfig struct {
	// Strategy is local_only, api_only, local_first or auto.
	Strategy     string `yaml:"strategy"`
	Language     string `yaml:"language"`
	SampleRateHz int    `yaml:"sampleRateHz"`
	// ContentType forces a content profile; auto uses the duration heuristic.
	ContentType     string `yaml:"contentType"`
	EducationalMode bool   `yaml:"educationalMode"`
	StrictFiltering bool   `yaml:"strictFiltering"`

	MinConfidence          float64       `yaml:"minConfidence"`
	LocalTimeout           time.Duration `yaml:"localTimeout"`
	RemoteTimeout          time.Duration `yaml:"remoteTimeout"`
	FinalTimeoutMultiplier float64       `yaml:"finalTimeoutMultiplier"`

	AutoMinCalls         int64   `yaml:"autoMinCalls"`
	AutoSuccessRate      float64 `yaml:"autoSuccessRate"`
	AutoLatencyTolerance float64 `yaml:"autoLatencyTolerance"`

	Local  LocalConfig  `yaml:"local"`
	Remote RemoteConfig `yaml:"remote"`
}

type LocalConfig struct {
	// Provider is whisper, mock or none.
	Provider  string `yaml:"provider"`
	ServerURL string `yaml:"serverUrl"`
	ModelPath string `yaml:"modelPath"`
	ModelSize string `yaml:"modelSize"`
	Device    string `yaml:"device"`
}

type RemoteConfig struct {
	// Provider is openai, google, mock or none.
	Provider   string `yaml:"provider"`
	APIKey     string `yaml:"apiKey"`
	BaseURL    string `yaml:"baseUrl"`
	Model      string `yaml:"model"`
	MaxRetries int    `yaml:"maxRetries"`

	Breaker BreakerConfig `yaml:"breaker"`
}

type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures int           `yaml:"consecutiveFailures"`
	OpenTimeout         time.Duration `yaml:"openTimeout"`
}

type BatchConfig struct {
	Enabled           bool          `yaml:"enabled"`
	QueueSize         int           `yaml:"queueSize"`
	MaxBatchSize      int           `yaml:"maxBatchSize"`
	MaxWait           time.Duration `yaml:"maxWait"`
	MaxParallel       int           `yaml:"maxParallel"`
	RealtimeTimeout   time.Duration `yaml:"realtimeTimeout"`
	BackgroundTimeout time.Duration `yaml:"backgroundTimeout"`
}

type SessionConfig struct {
	GracePeriod       time.Duration `yaml:"gracePeriod"`
	InactivityTimeout time.Duration `yaml:"inactivityTimeout"`
	ReapInterval      time.Duration `yaml:"reapInterval"`
	MaxSessions       int           `yaml:"maxSessions"`
	MaxSessionAudio   time.Duration `yaml:"maxSessionAudio"`
	SubscriberBuffer  int           `yaml:"subscriberBuffer"`
	HistorySize       int           `yaml:"historySize"`
}

type KafkaConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Brokers    []string `yaml:"brokers"`
	TopicChunk string   `yaml:"topicChunk"`
	TopicFinal string   `yaml:"topicFinal"`
	// Principal defaults to the service principal.
	Principal string `yaml:"principal"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"logLevel"`
	LogFormat string `yaml:"logFormat"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal: "svc-lecture-transcriber",
			GRPCPort:  "50051",
			HTTPPort:  "9090",
		},
		Transcription: TranscriptionConfig{
			Strategy:               "local_first",
			Language:               "en",
			SampleRateHz:           audio.SampleRate,
			ContentType:            "auto",
			EducationalMode:        true,
			MinConfidence:          0.1,
			LocalTimeout:           60 * time.Second,
			RemoteTimeout:          30 * time.Second,
			FinalTimeoutMultiplier: 3,
			AutoMinCalls:           10,
			AutoSuccessRate:        0.8,
			AutoLatencyTolerance:   1.5,
			Local: LocalConfig{
				Provider:  "whisper",
				ServerURL: "http://localhost:8080",
				ModelSize: "base",
				Device:    "auto",
			},
			Remote: RemoteConfig{
				Provider:   "none",
				BaseURL:    "https://api.openai.com/v1",
				Model:      "whisper-1",
				MaxRetries: 3,
				Breaker: BreakerConfig{
					Enabled:             true,
					ConsecutiveFailures: 5,
					OpenTimeout:         30 * time.Second,
				},
			},
		},
		Batch: BatchConfig{
			Enabled:           true,
			QueueSize:         50,
			MaxBatchSize:      8,
			MaxWait:           100 * time.Millisecond,
			MaxParallel:       4,
			RealtimeTimeout:   5 * time.Second,
			BackgroundTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			GracePeriod:       5 * time.Second,
			InactivityTimeout: 5 * time.Minute,
			ReapInterval:      5 * time.Minute,
			MaxSessionAudio:   3 * time.Hour,
			SubscriberBuffer:  32,
			HistorySize:       10,
		},
		Kafka: KafkaConfig{
			TopicChunk: "lecture.transcript.chunk",
			TopicFinal: "lecture.transcript.final",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load reads the file named by TRANSCRIBER_CONFIG_FILE, if set, and applies
// environment overrides.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv(FileEnv))
}

// LoadFrom reads path (empty for none) and applies environment overrides.
// Unparseable environment values are ignored.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
		cfg.File = path
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	s := &c.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.Environment = envOrDefault("ENV", s.Environment)

	t := &c.Transcription
	t.Strategy = envOrDefault("TRANSCRIPTION_STRATEGY", t.Strategy)
	t.Language = envOrDefault("TRANSCRIPTION_LANGUAGE", t.Language)
	t.SampleRateHz = envOrDefaultInt("TRANSCRIPTION_SAMPLE_RATE_HZ", t.SampleRateHz)
	t.ContentType = envOrDefault("TRANSCRIPTION_CONTENT_TYPE", t.ContentType)
	t.EducationalMode = envOrDefaultBool("TRANSCRIPTION_EDUCATIONAL_MODE", t.EducationalMode)
	t.StrictFiltering = envOrDefaultBool("TRANSCRIPTION_STRICT_FILTERING", t.StrictFiltering)
	t.MinConfidence = envOrDefaultFloat("TRANSCRIPTION_MIN_CONFIDENCE", t.MinConfidence)
	t.LocalTimeout = envOrDefaultDuration("TRANSCRIPTION_LOCAL_TIMEOUT", t.LocalTimeout)
	t.RemoteTimeout = envOrDefaultDuration("TRANSCRIPTION_REMOTE_TIMEOUT", t.RemoteTimeout)
	t.AutoMinCalls = int64(envOrDefaultInt("TRANSCRIPTION_AUTO_MIN_CALLS", int(t.AutoMinCalls)))
	t.AutoSuccessRate = envOrDefaultFloat("TRANSCRIPTION_AUTO_SUCCESS_RATE", t.AutoSuccessRate)
	t.AutoLatencyTolerance = envOrDefaultFloat("TRANSCRIPTION_AUTO_LATENCY_TOLERANCE", t.AutoLatencyTolerance)

	l := &t.Local
	l.Provider = envOrDefault("LOCAL_PROVIDER", l.Provider)
	l.ServerURL = envOrDefault("LOCAL_SERVER_URL", l.ServerURL)
	l.ModelPath = envOrDefault("LOCAL_MODEL_PATH", l.ModelPath)
	l.ModelSize = envOrDefault("LOCAL_MODEL_SIZE", l.ModelSize)
	l.Device = envOrDefault("LOCAL_DEVICE", l.Device)

	r := &t.Remote
	r.Provider = envOrDefault("REMOTE_PROVIDER", r.Provider)
	r.APIKey = envOrDefault("REMOTE_API_KEY", envOrDefault("OPENAI_API_KEY", r.APIKey))
	r.BaseURL = envOrDefault("REMOTE_BASE_URL", r.BaseURL)
	r.Model = envOrDefault("REMOTE_MODEL", r.Model)
	r.MaxRetries = envOrDefaultInt("REMOTE_MAX_RETRIES", r.MaxRetries)
	r.Breaker.Enabled = envOrDefaultBool("REMOTE_BREAKER_ENABLED", r.Breaker.Enabled)

	b := &c.Batch
	b.Enabled = envOrDefaultBool("BATCH_ENABLED", b.Enabled)
	b.QueueSize = envOrDefaultInt("BATCH_QUEUE_SIZE", b.QueueSize)
	b.MaxBatchSize = envOrDefaultInt("BATCH_MAX_SIZE", b.MaxBatchSize)
	b.MaxWait = envOrDefaultDuration("BATCH_MAX_WAIT", b.MaxWait)

	ss := &c.Session
	ss.GracePeriod = envOrDefaultDuration("SESSION_GRACE_PERIOD", ss.GracePeriod)
	ss.InactivityTimeout = envOrDefaultDuration("SESSION_INACTIVITY_TIMEOUT", ss.InactivityTimeout)
	ss.ReapInterval = envOrDefaultDuration("SESSION_REAP_INTERVAL", ss.ReapInterval)
	ss.MaxSessions = envOrDefaultInt("SESSION_MAX_SESSIONS", ss.MaxSessions)
	ss.MaxSessionAudio = envOrDefaultDuration("SESSION_MAX_AUDIO", ss.MaxSessionAudio)

	k := &c.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		k.Brokers = splitList(v)
	}
	k.TopicChunk = envOrDefault("KAFKA_TOPIC_CHUNK", k.TopicChunk)
	k.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", k.TopicFinal)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	o := &c.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", envOrDefault("ZEROLOG_LOG_LEVEL", o.LogLevel))
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)
	if s.Environment == "dev" && os.Getenv("LOG_FORMAT") == "" {
		o.LogFormat = "console"
	}
}

// Validate reports every out-of-range value.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	t := c.Transcription
	if _, err := engine.ParseStrategy(t.Strategy); err != nil {
		errs = append(errs, err)
	}
	if _, err := params.ParseContentType(t.ContentType); err != nil {
		errs = append(errs, err)
	}
	if t.SampleRateHz != audio.SampleRate {
		bad("transcription.sampleRateHz must be %d, got %d", audio.SampleRate, t.SampleRateHz)
	}
	if t.MinConfidence < 0 || t.MinConfidence >= 1 {
		bad("transcription.minConfidence must be in [0, 1), got %v", t.MinConfidence)
	}
	if t.LocalTimeout <= 0 || t.RemoteTimeout <= 0 {
		bad("transcription timeouts must be positive")
	}
	if t.FinalTimeoutMultiplier < 1 {
		bad("transcription.finalTimeoutMultiplier must be at least 1, got %v", t.FinalTimeoutMultiplier)
	}
	if t.AutoMinCalls < 1 {
		bad("transcription.autoMinCalls must be positive, got %d", t.AutoMinCalls)
	}
	if t.AutoSuccessRate < 0 || t.AutoSuccessRate > 1 {
		bad("transcription.autoSuccessRate must be in [0, 1], got %v", t.AutoSuccessRate)
	}
	if t.AutoLatencyTolerance <= 0 {
		bad("transcription.autoLatencyTolerance must be positive, got %v", t.AutoLatencyTolerance)
	}
	if !oneOf(t.Local.Provider, "whisper", "mock", "none") {
		bad("transcription.local.provider %q is not whisper, mock or none", t.Local.Provider)
	}
	if !oneOf(t.Remote.Provider, "openai", "google", "mock", "none") {
		bad("transcription.remote.provider %q is not openai, google, mock or none", t.Remote.Provider)
	}
	if t.Remote.MaxRetries < 0 {
		bad("transcription.remote.maxRetries must not be negative")
	}

	b := c.Batch
	if b.Enabled && (b.QueueSize < 1 || b.MaxBatchSize < 1 || b.MaxParallel < 1 || b.MaxWait <= 0) {
		bad("batch sizes and maxWait must be positive")
	}

	s := c.Session
	if s.InactivityTimeout <= 0 || s.ReapInterval <= 0 {
		bad("session.inactivityTimeout and session.reapInterval must be positive")
	}
	if s.GracePeriod < 0 || s.MaxSessions < 0 || s.MaxSessionAudio < 0 {
		bad("session limits must not be negative")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		bad("kafka.brokers is required when kafka is enabled")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Observability.LogLevel)); err != nil {
		bad("observability.logLevel %q: %v", c.Observability.LogLevel, err)
	}
	if !oneOf(c.Observability.LogFormat, "json", "console") {
		bad("observability.logFormat %q is not json or console", c.Observability.LogFormat)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
