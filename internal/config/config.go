package config

import (
	"fmt"
	"os"

	"findout-affiliate/internal/model"

	"gopkg.in/yaml.v3"
)

// 主配置结构
type Config struct {
	App       App                      `yaml:"app"`
	Server    Server                   `yaml:"server"`
	Database  DB                       `yaml:"database"`
	Cache     Cache                    `yaml:"cache"`
	Auth      Auth                     `yaml:"auth"`
	RateLimit Limit                    `yaml:"rate_limit"`
	Log       Log                      `yaml:"log"`
	Tracking  Tracking                 `yaml:"tracking"`
	Partners  []model.AffiliatePartner `yaml:"partners"`
}

// 应用配置
type App struct {
	Name    string `yaml:"name"`
	Mode    string `yaml:"mode"`
	Version string `yaml:"version"`
	BaseURL string `yaml:"base_url"`
}

// 服务器配置
type Server struct {
	Port         int `yaml:"port"`
	ReadTimeout  int `yaml:"read_timeout"`
	WriteTimeout int `yaml:"write_timeout"`
}

// 数据库配置
type DB struct {
	Driver   string `yaml:"driver"` // mysql 或 sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
}

// 缓存配置（Redis）
type Cache struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// 认证配置
type Auth struct {
	Secret          string `yaml:"secret"`
	Issuer          string `yaml:"issuer"`
	ExpirationHours int    `yaml:"expiration_hours"`
}

// 限流配置
type Limit struct {
	Enabled   bool     `yaml:"enabled"`
	Requests  int64    `yaml:"requests_per_minute"`
	Burst     int64    `yaml:"burst"`
	SkipPaths []string `yaml:"skip_paths"`
}

// 日志配置
type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// 追踪配置
type Tracking struct {
	// 追踪像素地址，点击和转化事件都以查询参数的形式发送到这里
	BeaconURL string `yaml:"beacon_url"`
	// 客户端 IP 查询服务，返回 {"ip": "..."}
	IPLookupURL string `yaml:"ip_lookup_url"`
	// 外部请求超时（毫秒）
	TimeoutMillis int `yaml:"timeout_ms"`
	// 域名匹配方式：substring（默认）或 suffix
	MatchMode string `yaml:"match_mode"`
	// 会话级点击准备数据的保留时间（分钟）
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
	// 短链接缓存时间（小时）
	LinkCacheHours int `yaml:"link_cache_hours"`
}

// 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults 为未设置的字段填充默认值
func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "findout-affiliate"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = c.App.Name
	}
	if c.Auth.ExpirationHours == 0 {
		c.Auth.ExpirationHours = 72
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.File == "" {
		c.Log.File = "./logs/app.log"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 30
	}
	if c.Tracking.BeaconURL == "" {
		c.Tracking.BeaconURL = "https://analytics.findout.com/track"
	}
	if c.Tracking.IPLookupURL == "" {
		c.Tracking.IPLookupURL = "https://ipapi.co/json/"
	}
	if c.Tracking.TimeoutMillis == 0 {
		c.Tracking.TimeoutMillis = 3000
	}
	if c.Tracking.MatchMode == "" {
		c.Tracking.MatchMode = "substring"
	}
	if c.Tracking.SessionTTLMinutes == 0 {
		c.Tracking.SessionTTLMinutes = 30
	}
	if c.Tracking.LinkCacheHours == 0 {
		c.Tracking.LinkCacheHours = 24
	}
}
