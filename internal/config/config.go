package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	Server    ServerConfig
	Logging   LoggingConfig
	Redis     RedisConfig
	Scylla    ScyllaConfig
	Kafka     KafkaConfig
	Provider  ProviderConfig
	Token     TokenConfig
	Scheduler SchedulerConfig
	Poller    PollerConfig
	Policy    PolicyConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Enabled     bool
	Brokers     []string
	EventsTopic string
}

// ProviderConfig holds credentials for the default conferencing provider.
type ProviderConfig struct {
	Tag            string
	BaseURL        string
	AuthURL        string
	AccountID      string
	ClientID       string
	ClientSecret   string
	WebhookSecret  string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

type TokenConfig struct {
	Secret            string
	TTL               time.Duration
	ReplayShards      int
	ReplayMaxPerShard int
}

// SchedulerConfig drives the once-daily standing session job.
type SchedulerConfig struct {
	RunAtHour        int
	ActiveDays       []time.Weekday
	StandingTitle    string
	StandingHour     int
	StandingMinute   int
	StandingDuration time.Duration
	StandingHostID   string
	RestrictedPlans  []string
	Retention        time.Duration
}

type PollerConfig struct {
	Interval   time.Duration
	StartGrace time.Duration
}

type PolicyConfig struct {
	GraceBuffer  time.Duration
	JoinLimit    int
	JoinInterval time.Duration
}

// LoadConfig reads configuration from the environment. A .env file is
// loaded first if present so local development matches the container
// setup.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvSlice("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "liveclass"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Enabled:     getEnvBool("KAFKA_ENABLED", true),
			Brokers:     getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "liveclass.session-events"),
		},
		Provider: ProviderConfig{
			Tag:            getEnv("PROVIDER_TAG", "zoom"),
			BaseURL:        getEnv("PROVIDER_BASE_URL", "https://api.zoom.us/v2"),
			AuthURL:        getEnv("PROVIDER_AUTH_URL", "https://zoom.us/oauth/token"),
			AccountID:      getEnv("PROVIDER_ACCOUNT_ID", ""),
			ClientID:       getEnv("PROVIDER_CLIENT_ID", ""),
			ClientSecret:   getEnv("PROVIDER_CLIENT_SECRET", ""),
			WebhookSecret:  getEnv("PROVIDER_WEBHOOK_SECRET", ""),
			RequestTimeout: getEnvDuration("PROVIDER_REQUEST_TIMEOUT", 10*time.Second),
			MaxRetries:     getEnvInt("PROVIDER_MAX_RETRIES", 3),
			RetryBackoff:   getEnvDuration("PROVIDER_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Token: TokenConfig{
			Secret:            getEnv("ACCESS_TOKEN_SECRET", ""),
			TTL:               getEnvDuration("ACCESS_TOKEN_TTL", 10*time.Minute),
			ReplayShards:      getEnvInt("REPLAY_GUARD_SHARDS", 16),
			ReplayMaxPerShard: getEnvInt("REPLAY_GUARD_MAX_PER_SHARD", 4096),
		},
		Scheduler: SchedulerConfig{
			RunAtHour:        getEnvInt("SCHEDULER_RUN_AT_HOUR", 5),
			ActiveDays:       parseWeekdays(getEnv("SCHEDULER_ACTIVE_DAYS", "Mon,Tue,Wed,Thu,Fri")),
			StandingTitle:    getEnv("STANDING_SESSION_TITLE", "Daily Live Class"),
			StandingHour:     getEnvInt("STANDING_SESSION_HOUR", 18),
			StandingMinute:   getEnvInt("STANDING_SESSION_MINUTE", 0),
			StandingDuration: getEnvDuration("STANDING_SESSION_DURATION", 60*time.Minute),
			StandingHostID:   getEnv("STANDING_SESSION_HOST_ID", ""),
			RestrictedPlans:  getEnvSlice("STANDING_SESSION_PLANS", nil),
			Retention:        getEnvDuration("SESSION_RETENTION", 24*time.Hour),
		},
		Poller: PollerConfig{
			Interval:   getEnvDuration("POLL_INTERVAL", 2*time.Minute),
			StartGrace: getEnvDuration("POLL_START_GRACE", 5*time.Minute),
		},
		Policy: PolicyConfig{
			GraceBuffer:  getEnvDuration("SUBSCRIPTION_GRACE_BUFFER", 12*time.Hour),
			JoinLimit:    getEnvInt("JOIN_RATE_LIMIT", 30),
			JoinInterval: getEnvDuration("JOIN_RATE_WINDOW", time.Minute),
		},
	}
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate rejects configurations that cannot work in production.
// Development keeps going so local setups stay low-friction.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.Token.Secret == "" {
			return fmt.Errorf("ACCESS_TOKEN_SECRET is required in production")
		}
		if c.Provider.WebhookSecret == "" {
			return fmt.Errorf("PROVIDER_WEBHOOK_SECRET is required in production")
		}
	}
	if c.Token.TTL <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_TTL must be positive")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

func parseWeekdays(value string) []time.Weekday {
	var days []time.Weekday
	for _, part := range strings.Split(value, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if len(name) > 3 {
			name = name[:3]
		}
		if day, ok := weekdayNames[name]; ok {
			days = append(days, day)
		}
	}
	return days
}
