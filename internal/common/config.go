package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the master and agent configuration
type Config struct {
	Environment   string              `toml:"environment"` // "development" or "production"
	Server        ServerConfig        `toml:"server"`
	Storage       StorageConfig       `toml:"storage"`
	Queue         QueueConfig         `toml:"queue"`
	Events        EventsConfig        `toml:"events"`
	Redis         RedisConfig         `toml:"redis"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Workers       WorkersConfig       `toml:"workers"`
	Logging       LoggingConfig       `toml:"logging"`
	WebSocket     WebSocketConfig     `toml:"websocket"`
	Observability ObservabilityConfig `toml:"observability"`
	Gemini        GeminiConfig        `toml:"gemini"`
	Claude        ClaudeConfig        `toml:"claude"`
	LLM           LLMConfig           `toml:"llm"`
	Agent         AgentConfig         `toml:"agent"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	InMemory       bool   `toml:"in_memory"`        // Run without touching disk (tests, throwaway masters)
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// Backend names shared by the queue and event bus
const (
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// QueueConfig selects the scheduling queue implementation
type QueueConfig struct {
	Backend string `toml:"backend"` // "memory", "badger" or "redis"
	Name    string `toml:"name"`    // Queue name / key prefix
}

// EventsConfig selects the event bus implementation
type EventsConfig struct {
	Backend string `toml:"backend"` // "memory" or "redis"
	Channel string `toml:"channel"` // Redis pub/sub channel
}

type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// SchedulerConfig controls assignment and the periodic sweeps.
// Sweep schedules are cron expressions with a leading seconds field.
type SchedulerConfig struct {
	AutoAssign      bool   `toml:"auto_assign"`      // Push-assign queued jobs on a schedule instead of waiting for pulls
	AssignSchedule  string `toml:"assign_schedule"`  // e.g. "*/5 * * * * *"
	ScheduleSweep   string `toml:"schedule_sweep"`   // Promote due scheduled/batch jobs
	TimeoutSweep    string `toml:"timeout_sweep"`    // Fail jobs that overran their worker's max duration
	StaleAfter      string `toml:"stale_after"`      // Worker considered offline after this long without a signal
	MaxJobDuration  string `toml:"max_job_duration"` // Default when a worker does not set one
	TimeoutGrace    string `toml:"timeout_grace"`    // Extra time before a running job is failed
	MaxRetryBackoff string `toml:"max_retry_backoff"`
}

// WorkersConfig holds the instructions handed to workers and the limits applied to them
type WorkersConfig struct {
	PollInterval      int     `toml:"poll_interval"`      // seconds
	HeartbeatInterval int     `toml:"heartbeat_interval"` // seconds
	RateLimit         float64 `toml:"rate_limit"`         // requests per second per worker
	RateBurst         int     `toml:"rate_burst"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for console logs
	Dir        string   `toml:"dir"`         // Directory for file output
}

// WebSocketConfig contains configuration for the /ws event stream
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Throttle intervals for high-frequency events. Map of event type to duration string.
	ThrottleIntervals map[string]string `toml:"throttle_intervals"`
}

// ObservabilityConfig controls metrics and tracing
type ObservabilityConfig struct {
	MetricsEnabled bool   `toml:"metrics_enabled"`
	TracingEnabled bool   `toml:"tracing_enabled"`
	OTLPEndpoint   string `toml:"otlp_endpoint"` // host:port of an OTLP gRPC collector
	ServiceName    string `toml:"service_name"`
}

// GeminiConfig contains Google Gemini API configuration for scenario generation
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	Timeout     string  `toml:"timeout"`    // Operation timeout as duration string
	RateLimit   string  `toml:"rate_limit"` // Minimum time between calls
	Temperature float32 `toml:"temperature"`
}

// ClaudeConfig contains Anthropic Claude API configuration for scenario generation
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Timeout     string  `toml:"timeout"`
	RateLimit   string  `toml:"rate_limit"`
	Temperature float32 `toml:"temperature"`
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	LLMProviderGemini LLMProvider = "gemini"
	LLMProviderClaude LLMProvider = "claude"
	LLMProviderNone   LLMProvider = "none" // Rule-based scenarios only
)

// LLMConfig selects the scenario LLM provider
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"`
}

// AgentConfig configures droverctl worker run
type AgentConfig struct {
	MasterURL         string `toml:"master_url"`
	WorkerID          string `toml:"worker_id"`
	APIKey            string `toml:"api_key"`
	Name              string `toml:"name"`
	Type              string `toml:"type"`
	MaxConcurrentJobs int    `toml:"max_concurrent_jobs"`
	Headless          bool   `toml:"headless"`
	ChromePath        string `toml:"chrome_path"`
	JobTimeout        string `toml:"job_timeout"`
	Screenshots       bool   `toml:"screenshots"`
	PriorityMin       int    `toml:"priority_min"`
	PriorityMax       int    `toml:"priority_max"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8085,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Queue: QueueConfig{
			Backend: BackendBadger,
			Name:    "drover_jobs",
		},
		Events: EventsConfig{
			Backend: BackendMemory,
			Channel: "drover:events",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Scheduler: SchedulerConfig{
			AutoAssign:      false, // Workers pull; push assignment is opt-in
			AssignSchedule:  "*/5 * * * * *",
			ScheduleSweep:   "*/10 * * * * *",
			TimeoutSweep:    "*/30 * * * * *",
			StaleAfter:      "60s",
			MaxJobDuration:  "10m",
			TimeoutGrace:    "1m",
			MaxRetryBackoff: "10m",
		},
		Workers: WorkersConfig{
			PollInterval:      5,
			HeartbeatInterval: 30,
			RateLimit:         10,
			RateBurst:         20,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
			Dir:        "./logs",
		},
		WebSocket: WebSocketConfig{
			AllowedEvents: []string{},
			ThrottleIntervals: map[string]string{
				"worker_heartbeat": "1s", // Heartbeats from a large fleet would flood clients
			},
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			TracingEnabled: false,
			OTLPEndpoint:   "localhost:4317",
			ServiceName:    "drover",
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Timeout:     "30s",
			RateLimit:   "4s", // 15 RPM free tier
			Temperature: 0.7,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-4-5",
			MaxTokens:   2048,
			Timeout:     "30s",
			RateLimit:   "1s",
			Temperature: 0.7,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
		Agent: AgentConfig{
			MasterURL:         "http://localhost:8085",
			Type:              "standalone",
			MaxConcurrentJobs: 2,
			Headless:          true,
			JobTimeout:        "5m",
			Screenshots:       true,
			PriorityMin:       1,
			PriorityMax:       10,
		},
	}
}

// LoadFromFiles loads configuration with priority: default -> file1 -> file2 -> ... -> env.
// CLI flags are applied afterwards by the caller with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies DROVER_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("DROVER_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("DROVER_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("DROVER_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if badgerPath := os.Getenv("DROVER_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Queue, events and redis
	if backend := os.Getenv("DROVER_QUEUE_BACKEND"); backend != "" {
		config.Queue.Backend = backend
	}
	if backend := os.Getenv("DROVER_EVENTS_BACKEND"); backend != "" {
		config.Events.Backend = backend
	}
	if addr := os.Getenv("DROVER_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("DROVER_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("DROVER_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = d
		}
	}

	// Scheduler configuration
	if autoAssign := os.Getenv("DROVER_SCHEDULER_AUTO_ASSIGN"); autoAssign != "" {
		if b, err := strconv.ParseBool(autoAssign); err == nil {
			config.Scheduler.AutoAssign = b
		}
	}
	if staleAfter := os.Getenv("DROVER_SCHEDULER_STALE_AFTER"); staleAfter != "" {
		config.Scheduler.StaleAfter = staleAfter
	}
	if maxDuration := os.Getenv("DROVER_SCHEDULER_MAX_JOB_DURATION"); maxDuration != "" {
		config.Scheduler.MaxJobDuration = maxDuration
	}

	// Logging configuration
	if level := os.Getenv("DROVER_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("DROVER_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// LLM configuration
	if provider := os.Getenv("DROVER_LLM_PROVIDER"); provider != "" {
		config.LLM.DefaultProvider = LLMProvider(provider)
	}
	if key := os.Getenv("DROVER_GEMINI_API_KEY"); key != "" {
		config.Gemini.APIKey = key
	}
	if key := os.Getenv("DROVER_CLAUDE_API_KEY"); key != "" {
		config.Claude.APIKey = key
	} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = key
	}

	// Observability
	if endpoint := os.Getenv("DROVER_OTLP_ENDPOINT"); endpoint != "" {
		config.Observability.OTLPEndpoint = endpoint
		config.Observability.TracingEnabled = true
	}

	// Agent configuration
	if masterURL := os.Getenv("DROVER_MASTER_URL"); masterURL != "" {
		config.Agent.MasterURL = masterURL
	}
	if workerID := os.Getenv("DROVER_WORKER_ID"); workerID != "" {
		config.Agent.WorkerID = workerID
	}
	if apiKey := os.Getenv("DROVER_API_KEY"); apiKey != "" {
		config.Agent.APIKey = apiKey
	}
	if maxJobs := os.Getenv("DROVER_AGENT_MAX_CONCURRENT_JOBS"); maxJobs != "" {
		if m, err := strconv.Atoi(maxJobs); err == nil {
			config.Agent.MaxConcurrentJobs = m
		}
	}
}

// ResolveAPIKey returns the first non-empty value of the named environment
// variables, falling back to the configured value.
func ResolveAPIKey(configured string, envVars ...string) string {
	for _, name := range envVars {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return configured
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ParseDuration parses a duration string, returning fallback when empty or invalid
func ParseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// cronParser accepts standard five-field expressions and descriptors like @hourly
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseJobSchedule parses a recurring job cron expression
func ParseJobSchedule(schedule string) (cron.Schedule, error) {
	s, err := cronParser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return s, nil
}

// ValidateJobSchedule validates a recurring job cron expression and enforces a minimum 5-minute interval
func ValidateJobSchedule(schedule string) error {
	if _, err := ParseJobSchedule(schedule); err != nil {
		return err
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		// descriptors such as @hourly
		return nil
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}

	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// DeepCloneConfig creates a deep copy of the Config struct
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c

	if len(c.Logging.Output) > 0 {
		clone.Logging.Output = make([]string, len(c.Logging.Output))
		copy(clone.Logging.Output, c.Logging.Output)
	}

	if len(c.WebSocket.AllowedEvents) > 0 {
		clone.WebSocket.AllowedEvents = make([]string, len(c.WebSocket.AllowedEvents))
		copy(clone.WebSocket.AllowedEvents, c.WebSocket.AllowedEvents)
	}

	if len(c.WebSocket.ThrottleIntervals) > 0 {
		clone.WebSocket.ThrottleIntervals = make(map[string]string, len(c.WebSocket.ThrottleIntervals))
		for k, v := range c.WebSocket.ThrottleIntervals {
			clone.WebSocket.ThrottleIntervals[k] = v
		}
	}

	return &clone
}
