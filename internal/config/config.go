package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
}

type ServerConfig struct {
	Port     int   `mapstructure:"port"`
	WorkerID int64 `mapstructure:"worker_id"` // 雪花ID机器号，多实例部署时必须不同
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// DatabaseConfig 数据库配置，driver 取值 mysql / postgres / sqlite
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	Path         string `mapstructure:"path"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host                   string `mapstructure:"host"`
	Port                   int    `mapstructure:"port"`
	Password               string `mapstructure:"password"`
	DB                     int    `mapstructure:"db"`
	PremiumCacheTTLSeconds int    `mapstructure:"premium_cache_ttl_seconds"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c RedisConfig) PremiumCacheTTL() time.Duration {
	return time.Duration(c.PremiumCacheTTLSeconds) * time.Second
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type StripeConfig struct {
	WebhookSecret string `mapstructure:"webhook_secret"`
}

type LedgerConfig struct {
	MaxFreePostsPerDay int          `mapstructure:"max_free_posts_per_day"`
	Reward             RewardConfig `mapstructure:"reward"`
	Lock               LockConfig   `mapstructure:"lock"`
}

// RewardConfig 奖励额度，十进制字符串，避免浮点误差
type RewardConfig struct {
	Video string `mapstructure:"video"`
	Image string `mapstructure:"image"`
	View  string `mapstructure:"view"`
}

// RewardPolicy 解析后的奖励额度
type RewardPolicy struct {
	Video decimal.Decimal
	Image decimal.Decimal
	View  decimal.Decimal
}

// Policy 解析奖励配置
func (c RewardConfig) Policy() (RewardPolicy, error) {
	var p RewardPolicy
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"video", c.Video, &p.Video},
		{"image", c.Image, &p.Image},
		{"view", c.View, &p.View},
	} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return RewardPolicy{}, fmt.Errorf("ledger.reward.%s: %w", f.name, err)
		}
		if d.IsNegative() {
			return RewardPolicy{}, fmt.Errorf("ledger.reward.%s 不能为负数", f.name)
		}
		*f.dst = d
	}
	return p, nil
}

type LockConfig struct {
	TTLSeconds      int `mapstructure:"ttl_seconds"`
	RetryIntervalMS int `mapstructure:"retry_interval_ms"`
	MaxRetries      int `mapstructure:"max_retries"`
}

type JobsConfig struct {
	OutboxIntervalMS            int    `mapstructure:"outbox_interval_ms"`
	OutboxBatchSize             int    `mapstructure:"outbox_batch_size"`
	MaxRetryCount               int    `mapstructure:"max_retry_count"`
	RewardReconcileSpec         string `mapstructure:"reward_reconcile_spec"`
	RewardReconcileGraceSeconds int    `mapstructure:"reward_reconcile_grace_seconds"`
	RewardReconcileBatchSize    int    `mapstructure:"reward_reconcile_batch_size"`
	RewardReconcileWorkers      int    `mapstructure:"reward_reconcile_workers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("redis.premium_cache_ttl_seconds", 300)
	v.SetDefault("kafka.topic.ledger_events", "ledger_events")
	v.SetDefault("ledger.max_free_posts_per_day", 5)
	v.SetDefault("ledger.reward.video", "10")
	v.SetDefault("ledger.reward.image", "5")
	v.SetDefault("ledger.reward.view", "1")
	v.SetDefault("ledger.lock.ttl_seconds", 30)
	v.SetDefault("ledger.lock.retry_interval_ms", 100)
	v.SetDefault("ledger.lock.max_retries", 30)
	v.SetDefault("jobs.outbox_interval_ms", 100)
	v.SetDefault("jobs.outbox_batch_size", 100)
	v.SetDefault("jobs.max_retry_count", 5)
	v.SetDefault("jobs.reward_reconcile_spec", "@every 1m")
	v.SetDefault("jobs.reward_reconcile_grace_seconds", 60)
	v.SetDefault("jobs.reward_reconcile_batch_size", 100)
	v.SetDefault("jobs.reward_reconcile_workers", 4)
}

// Load 加载配置文件，环境变量 PLAYDRIVE_* 覆盖文件中的值
func Load(configPath string) (*Config, error) {
	// .env 文件可选
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PLAYDRIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验必填配置
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret 不能为空")
	}
	if c.Ledger.MaxFreePostsPerDay <= 0 {
		return errors.New("ledger.max_free_posts_per_day 必须大于0")
	}
	if _, err := c.Ledger.Reward.Policy(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("不支持的 database.driver: %q", c.Database.Driver)
	}
	return nil
}
