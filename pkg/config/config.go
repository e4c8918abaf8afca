package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	LLM        LLMConfig
	Classifier ClassifierConfig
	Router     RouterConfig
	Catalog    CatalogConfig
	Execution  ExecutionConfig
	SSH        SSHConfig
	Session    SessionConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	MaxMessageLen  int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	SnapshotTTL int
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type ClassifierConfig struct {
	ModelPath   string
	DatasetPath string
}

type RouterConfig struct {
	ConfidenceThreshold float64
	StructuredLabels    bool
}

type CatalogConfig struct {
	AliasesPath        string
	RefreshIntervalSec int
}

type ExecutionConfig struct {
	TimeoutSec  int
	MaxParallel int
	ScriptsDir  string
	DryRun      bool
}

type SSHConfig struct {
	Host     string
	Username string
	Password string
}

type SessionConfig struct {
	HistoryLimit   int
	IdleTimeoutMin int
	QueueSize      int
}

type RateLimitConfig struct {
	MaxRequestsPerMinute int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/audit-agent")

	return load(v)
}

// LoadFile reads an explicit config file instead of searching the default paths.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("AUDIT_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Router.ConfidenceThreshold <= 0 || c.Router.ConfidenceThreshold > 1 {
		return fmt.Errorf("router.confidenceThreshold must be in (0, 1], got %v", c.Router.ConfidenceThreshold)
	}
	if c.Execution.TimeoutSec <= 0 {
		return fmt.Errorf("execution.timeoutSec must be positive, got %d", c.Execution.TimeoutSec)
	}
	if c.LLM.TimeoutSec <= 0 {
		return fmt.Errorf("llm.timeoutSec must be positive, got %d", c.LLM.TimeoutSec)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 90)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.maxMessageLen", 2000)
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/audits.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshotTTL", 86400)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("classifier.modelPath", "./data/intent_model.json")
	v.SetDefault("classifier.datasetPath", "./data/intent_dataset.csv")

	v.SetDefault("router.confidenceThreshold", 0.80)
	v.SetDefault("router.structuredLabels", false)

	v.SetDefault("catalog.aliasesPath", "")
	v.SetDefault("catalog.refreshIntervalSec", 300)

	v.SetDefault("execution.timeoutSec", 30)
	v.SetDefault("execution.maxParallel", 4)
	v.SetDefault("execution.scriptsDir", "./audits")
	v.SetDefault("execution.dryRun", false)

	v.SetDefault("ssh.host", "localhost")
	v.SetDefault("ssh.username", "admin")

	v.SetDefault("session.historyLimit", 20)
	v.SetDefault("session.idleTimeoutMin", 30)
	v.SetDefault("session.queueSize", 16)

	v.SetDefault("ratelimit.maxRequestsPerMinute", 60)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
