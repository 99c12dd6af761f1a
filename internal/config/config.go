// Package config loads service configuration from defaults, an optional
// YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultFile is read when Load is given no explicit path. A missing file is not an error.
const DefaultFile = "config/total_config.yml"

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	HTTP          HTTPConfig
	GRPC          GRPCConfig
	Observability ObservabilityConfig
	STT           STTConfig
	Chat          ChatConfig
	Events        EventsConfig
	Model         ModelConfig
}

type ServiceConfig struct {
	Principal   string
	Environment string
}

type HTTPConfig struct {
	Host              string
	Port              int // integrated chat + stt API
	STTPort           int // stt-only API
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

type GRPCConfig struct {
	Enabled bool
	Port    string
}

type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	MetricsEnabled bool
	MetricsAddr    string
}

type STTConfig struct {
	Engine          string // mock, google, openai, command
	ModelDir        string
	DefaultLanguage string
	TempDir         string
	MaxUploadBytes  int64
	Workers         int
	InitTimeout     time.Duration
	Google          GoogleConfig
	OpenAI          OpenAIConfig
	Command         CommandConfig
}

type GoogleConfig struct {
	LanguageCode  string
	SampleRateHz  int
	AudioEncoding string
	Model         string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type CommandConfig struct {
	Program string
	Args    []string
	Device  string
}

type ChatConfig struct {
	BaseURL               string
	APIKey                string
	User                  string
	EventDelay            time.Duration
	InsecureSkipVerify    bool
	HealthTimeout         time.Duration
	ResponseHeaderTimeout time.Duration
}

type EventsConfig struct {
	Enabled         bool
	Backend         string // kafka, nats
	Brokers         []string
	NATSURL         string
	TopicTranscript string
	TopicChat       string
	Principal       string
}

type ModelConfig struct {
	ID          string
	Revision    string
	CacheDir    string
	Endpoint    string
	Concurrency int
}

// Load builds the configuration. file may be empty, in which case
// DefaultFile is used when present. Environment variables override file
// values; keys map to variables by upper-casing and replacing "." with "_"
// (stt.engine -> STT_ENGINE).
func Load(file string) (*Configuration, error) {
	v := newEnvViper()

	// Variables that predate the sectioned layout.
	_ = v.BindEnv("observability.log_level", "OBSERVABILITY_LOG_LEVEL", "LOG_LEVEL")
	_ = v.BindEnv("observability.log_format", "OBSERVABILITY_LOG_FORMAT", "LOG_FORMAT")
	_ = v.BindEnv("events.brokers", "EVENTS_BROKERS", "KAFKA_BROKERS")
	_ = v.BindEnv("events.principal", "EVENTS_PRINCIPAL", "KAFKA_PRINCIPAL")
	_ = v.BindEnv("chat.api_key", "CHAT_API_KEY", "DIFY_API_KEY")
	_ = v.BindEnv("service.environment", "SERVICE_ENVIRONMENT", "ENV")

	if file == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			file = DefaultFile
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s: %w", file, err)
			}
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	principal := stringOr(v, "service.principal", "svc-chat-stt-gateway")

	cfg := &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			Environment: stringOr(v, "service.environment", ""),
		},
		HTTP: HTTPConfig{
			Host:              stringOr(v, "http.host", "0.0.0.0"),
			Port:              intOr(v, "http.port", 8000),
			STTPort:           intOr(v, "http.stt_port", 8001),
			ReadHeaderTimeout: durationOr(v, "http.read_header_timeout", 10*time.Second),
			ShutdownTimeout:   durationOr(v, "http.shutdown_timeout", 15*time.Second),
		},
		GRPC: GRPCConfig{
			Enabled: boolOr(v, "grpc.enabled", true),
			Port:    stringOr(v, "grpc.port", "50051"),
		},
		Observability: ObservabilityConfig{
			LogLevel:       stringOr(v, "observability.log_level", "info"),
			LogFormat:      stringOr(v, "observability.log_format", "auto"),
			MetricsEnabled: boolOr(v, "observability.metrics_enabled", true),
			MetricsAddr:    stringOr(v, "observability.metrics_addr", ":9090"),
		},
		STT: STTConfig{
			Engine:          strings.ToLower(stringOr(v, "stt.engine", "mock")),
			ModelDir:        stringOr(v, "stt.model_dir", "/home/bygpu/model/iic/SenseVoiceSmall"),
			DefaultLanguage: stringOr(v, "stt.default_language", "auto"),
			TempDir:         stringOr(v, "stt.temp_dir", ""),
			MaxUploadBytes:  int64Or(v, "stt.max_upload_bytes", 50*1024*1024),
			Workers:         intOr(v, "stt.workers", 1),
			InitTimeout:     durationOr(v, "stt.init_timeout", 5*time.Minute),
			Google: GoogleConfig{
				LanguageCode:  stringOr(v, "stt.google.language_code", "en-US"),
				SampleRateHz:  intOr(v, "stt.google.sample_rate_hz", 0),
				AudioEncoding: stringOr(v, "stt.google.audio_encoding", "ENCODING_UNSPECIFIED"),
				Model:         stringOr(v, "stt.google.model", ""),
			},
			OpenAI: OpenAIConfig{
				APIKey:  stringOr(v, "stt.openai.api_key", os.Getenv("OPENAI_API_KEY")),
				BaseURL: stringOr(v, "stt.openai.base_url", ""),
				Model:   stringOr(v, "stt.openai.model", "whisper-1"),
			},
			Command: CommandConfig{
				Program: stringOr(v, "stt.command.program", "python3"),
				Args:    stringSlice(v, "stt.command.args", []string{"scripts/sensevoice_infer.py"}),
				Device:  stringOr(v, "stt.command.device", "cuda:0"),
			},
		},
		Chat: ChatConfig{
			BaseURL:               strings.TrimRight(stringOr(v, "chat.base_url", "http://localhost/v1"), "/"),
			APIKey:                stringOr(v, "chat.api_key", v.GetString("dify_voice_apikey")),
			User:                  stringOr(v, "chat.user", "test"),
			EventDelay:            durationOr(v, "chat.event_delay", 10*time.Millisecond),
			InsecureSkipVerify:    boolOr(v, "chat.insecure_skip_verify", false),
			HealthTimeout:         durationOr(v, "chat.health_timeout", 3*time.Second),
			ResponseHeaderTimeout: durationOr(v, "chat.response_header_timeout", 60*time.Second),
		},
		Events: EventsConfig{
			Enabled:         boolOr(v, "events.enabled", false),
			Backend:         strings.ToLower(stringOr(v, "events.backend", "kafka")),
			Brokers:         stringSlice(v, "events.brokers", nil),
			NATSURL:         stringOr(v, "events.nats_url", "nats://localhost:4222"),
			TopicTranscript: stringOr(v, "events.topic_transcript", "stt.transcription.completed"),
			TopicChat:       stringOr(v, "events.topic_chat", "chat.session.completed"),
			Principal:       stringOr(v, "events.principal", principal),
		},
		Model: ModelConfig{
			ID:          stringOr(v, "model.id", "iic/SenseVoiceSmall"),
			Revision:    stringOr(v, "model.revision", "master"),
			CacheDir:    stringOr(v, "model.cache_dir", "/home/bygpu/model"),
			Endpoint:    strings.TrimRight(stringOr(v, "model.endpoint", "https://www.modelscope.cn"), "/"),
			Concurrency: intOr(v, "model.concurrency", 4),
		},
	}
	return cfg, nil
}

func newEnvViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func stringOr(v *viper.Viper, key, def string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	return def
}

func intOr(v *viper.Viper, key string, def int) int {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func int64Or(v *viper.Viper, key string, def int64) int64 {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func boolOr(v *viper.Viper, key string, def bool) bool {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return def
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return b
}

func durationOr(v *viper.Viper, key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(v.GetString(key))
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// stringSlice accepts either a YAML list or a comma separated string.
func stringSlice(v *viper.Viper, key string, def []string) []string {
	var parts []string
	switch t := v.Get(key).(type) {
	case string:
		parts = strings.Split(t, ",")
	case []string:
		parts = t
	case []interface{}:
		for _, p := range t {
			parts = append(parts, fmt.Sprint(p))
		}
	default:
		return def
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
