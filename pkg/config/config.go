package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DB      DBConfig      `mapstructure:"db"`
	JWT     JWTConfig     `mapstructure:"jwt"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // 空白表示只允許同源
}

// DBConfig 的 Driver 為 memory 時不連線資料庫，資料只保存在行程內
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Port     int    `mapstructure:"port"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// RedisConfig 的 URL 為空時停用跨行程轉送與排程
type RedisConfig struct {
	URL           string `mapstructure:"url"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type SessionConfig struct {
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	MaxFrameBytes    int64         `mapstructure:"max_frame_bytes"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "roomchat")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.ttl", 240*time.Hour)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel_prefix", "roomchat:")

	v.SetDefault("session.write_wait", 10*time.Second)
	v.SetDefault("session.pong_wait", 60*time.Second)
	v.SetDefault("session.ping_period", 54*time.Second)
	v.SetDefault("session.max_frame_bytes", 16384)
	v.SetDefault("session.send_buffer", 256)
	v.SetDefault("session.max_message_length", 2000)

	v.SetDefault("log.level", "info")
}

// Load 讀取設定。順序為預設值、config.yaml、.env 與 ROOMCHAT_* 環境變數。
// path 非空時直接讀取該檔案，否則在 ./pkg/config 與目前目錄尋找 config.yaml。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("ROOMCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./pkg/config")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 檢查互相依賴的設定值
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("config: unknown db.driver %q", c.DB.Driver)
	}
	if c.JWT.Secret == "" {
		return errors.New("config: jwt.secret is required")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("config: jwt.ttl must be positive")
	}
	if c.Session.PingPeriod >= c.Session.PongWait {
		return fmt.Errorf("config: session.ping_period (%s) must be shorter than session.pong_wait (%s)",
			c.Session.PingPeriod, c.Session.PongWait)
	}
	if c.Session.SendBuffer <= 0 || c.Session.MaxFrameBytes <= 0 || c.Session.MaxMessageLength <= 0 {
		return errors.New("config: session buffer and size limits must be positive")
	}
	return nil
}
