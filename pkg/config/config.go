package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Hub       HubConfig       `mapstructure:"hub"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

type SchedulerConfig struct {
	// MaxConcurrentFires 单个任务允许同时在途的触发数
	MaxConcurrentFires int `mapstructure:"max_concurrent_fires"`
	// MisfireGrace 错过触发的宽限窗口，超过则静默丢弃
	MisfireGrace time.Duration `mapstructure:"misfire_grace"`
}

type EngineConfig struct {
	// BackoffBase 重试退避基数，第n次失败后等待 BackoffBase * 2^n
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	// RetentionDays 执行记录保留天数，每日清理任务使用
	RetentionDays int `mapstructure:"retention_days"`
	// HousekeepingCron 清理任务的触发表达式
	HousekeepingCron string `mapstructure:"housekeeping_cron"`
}

type HubConfig struct {
	// HeartbeatInterval 服务端向订阅者发送ping的间隔
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	// PongTimeout 订阅者静默超过该时长即断开
	PongTimeout time.Duration `mapstructure:"pong_timeout"`
	SendBuffer  int           `mapstructure:"send_buffer"`
}

type DatabaseConfig struct {
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	Database              string        `mapstructure:"database"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 设置默认值
	viper.SetDefault("scheduler.max_concurrent_fires", 3)
	viper.SetDefault("scheduler.misfire_grace", "1h")

	viper.SetDefault("engine.backoff_base", "60s")
	viper.SetDefault("engine.retention_days", 30)
	viper.SetDefault("engine.housekeeping_cron", "0 3 * * *")

	viper.SetDefault("hub.heartbeat_interval", "30s")
	viper.SetDefault("hub.pong_timeout", "90s")
	viper.SetDefault("hub.send_buffer", 64)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.max_connections", 20)
	viper.SetDefault("database.max_idle_connections", 10)
	viper.SetDefault("database.connection_max_lifetime", "1h")

	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.max_header_bytes", 1048576)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default 返回内置默认配置，测试环境使用
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrentFires: 3,
			MisfireGrace:       time.Hour,
		},
		Engine: EngineConfig{
			BackoffBase:      60 * time.Second,
			RetentionDays:    30,
			HousekeepingCron: "0 3 * * *",
		},
		Hub: HubConfig{
			HeartbeatInterval: 30 * time.Second,
			PongTimeout:       90 * time.Second,
			SendBuffer:        64,
		},
		Log: LogConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}
