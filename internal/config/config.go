// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Network() NetworkConfig
	Pool() PoolConfig
	Crawl() CrawlConfig

	// Network Setters
	SetNetworkInsecureTLS(bool)
	SetNetworkProxy(string)
	SetNetworkTimeout(time.Duration)

	// Crawl Setters
	SetCrawlKeyword(string)
	SetCrawlCount(int)
	SetCrawlOutputDir(string)
	SetCrawlSleep(time.Duration)
	SetCrawlProfile(string)

	Validate() error
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	NetworkCfg NetworkConfig `mapstructure:"network" yaml:"network"`
	PoolCfg    PoolConfig    `mapstructure:"pool" yaml:"pool"`
	CrawlCfg   CrawlConfig   `mapstructure:"crawl" yaml:"crawl"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Network() NetworkConfig { return c.NetworkCfg }
func (c *Config) Pool() PoolConfig       { return c.PoolCfg }
func (c *Config) Crawl() CrawlConfig     { return c.CrawlCfg }

// --- Interface Method Implementations (Setters) ---

// Network Setters
func (c *Config) SetNetworkInsecureTLS(b bool)      { c.NetworkCfg.InsecureTLS = b }
func (c *Config) SetNetworkProxy(addr string)       { c.NetworkCfg.Proxy = addr }
func (c *Config) SetNetworkTimeout(d time.Duration) { c.NetworkCfg.Timeout = d }

// Crawl Setters
func (c *Config) SetCrawlKeyword(k string)      { c.CrawlCfg.Keyword = k }
func (c *Config) SetCrawlCount(n int)           { c.CrawlCfg.Count = n }
func (c *Config) SetCrawlOutputDir(dir string)  { c.CrawlCfg.OutputDir = dir }
func (c *Config) SetCrawlSleep(d time.Duration) { c.CrawlCfg.Sleep = d }
func (c *Config) SetCrawlProfile(p string)      { c.CrawlCfg.Profile = p }

// LoggerConfig defines all settings related to logging.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// NetworkConfig tunes the HTTP engine.
type NetworkConfig struct {
	// Timeout bounds a single exchange, redirects included. Zero means no bound.
	Timeout             time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	DialTimeout         time.Duration     `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	KeepAlive           time.Duration     `mapstructure:"keep_alive" yaml:"keep_alive"`
	TLSHandshakeTimeout time.Duration     `mapstructure:"tls_handshake_timeout" yaml:"tls_handshake_timeout"`
	Headers             map[string]string `mapstructure:"headers" yaml:"headers"`
	// Proxy is "host:port" or "user:pass@host:port". Empty means direct.
	Proxy        string  `mapstructure:"proxy" yaml:"proxy"`
	InsecureTLS  bool    `mapstructure:"insecure_tls" yaml:"insecure_tls"`
	Charset      string  `mapstructure:"charset" yaml:"charset"`
	RateLimit    float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst        int     `mapstructure:"burst" yaml:"burst"`
	MaxRedirects int     `mapstructure:"max_redirects" yaml:"max_redirects"`
}

// PoolConfig sizes the download worker pool and its monitor.
type PoolConfig struct {
	MinWorkers int `mapstructure:"min_workers" yaml:"min_workers"`
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers"`
	// QueueLimit caps queued tasks. Zero leaves the queue unbounded.
	QueueLimit      int           `mapstructure:"queue_limit" yaml:"queue_limit"`
	MonitorInterval time.Duration `mapstructure:"monitor_interval" yaml:"monitor_interval"`
	StaleAfter      time.Duration `mapstructure:"stale_after" yaml:"stale_after"`
	IdleAfter       time.Duration `mapstructure:"idle_after" yaml:"idle_after"`
}

// CrawlConfig drives the image harvester.
type CrawlConfig struct {
	Keyword      string        `mapstructure:"keyword" yaml:"keyword"`
	Count        int           `mapstructure:"count" yaml:"count"`
	OutputDir    string        `mapstructure:"output_dir" yaml:"output_dir"`
	Sleep        time.Duration `mapstructure:"sleep" yaml:"sleep"`
	Profile      string        `mapstructure:"profile" yaml:"profile"`
	LandingURL   string        `mapstructure:"landing_url" yaml:"landing_url"`
	RefreshPages int           `mapstructure:"refresh_pages" yaml:"refresh_pages"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Unmarshal is safe here since we're only using defaults.
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "harvest-cli")
	v.SetDefault("logger.log_file", "harvest.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("network.timeout", 0)
	v.SetDefault("network.dial_timeout", "15s")
	v.SetDefault("network.keep_alive", "30s")
	v.SetDefault("network.tls_handshake_timeout", "10s")
	v.SetDefault("network.proxy", "")
	v.SetDefault("network.insecure_tls", false)
	v.SetDefault("network.charset", "UTF-8")
	v.SetDefault("network.rate_limit", 0)
	v.SetDefault("network.burst", 1)
	v.SetDefault("network.max_redirects", 8)

	v.SetDefault("pool.min_workers", 50)
	v.SetDefault("pool.max_workers", 100)
	v.SetDefault("pool.queue_limit", 0)
	v.SetDefault("pool.monitor_interval", "1s")
	v.SetDefault("pool.stale_after", "60s")
	v.SetDefault("pool.idle_after", "60s")

	v.SetDefault("crawl.keyword", "唐嫣")
	v.SetDefault("crawl.count", 1000)
	v.SetDefault("crawl.output_dir", "./download")
	v.SetDefault("crawl.sleep", "1s")
	v.SetDefault("crawl.profile", "mobile")
	v.SetDefault("crawl.landing_url", "https://image.baidu.com/")
	v.SetDefault("crawl.refresh_pages", 10)
}

// NewConfigFromViper unmarshals and validates the configuration held by v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Nested keys are only visible to Unmarshal through env once bound.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{"network.proxy", "network.insecure_tls", "crawl.output_dir"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding env for %s: %w", key, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.PoolCfg.Validate(); err != nil {
		return fmt.Errorf("pool configuration invalid: %w", err)
	}
	if err := c.CrawlCfg.Validate(); err != nil {
		return fmt.Errorf("crawl configuration invalid: %w", err)
	}
	if c.NetworkCfg.Timeout < 0 {
		return fmt.Errorf("network.timeout must not be negative")
	}
	if c.NetworkCfg.RateLimit < 0 {
		return fmt.Errorf("network.rate_limit must not be negative")
	}
	if c.NetworkCfg.MaxRedirects < 0 {
		return fmt.Errorf("network.max_redirects must not be negative")
	}
	return nil
}

// Validate checks the pool sizing.
func (p *PoolConfig) Validate() error {
	if p.MinWorkers <= 0 {
		return fmt.Errorf("min_workers must be a positive integer")
	}
	if p.MaxWorkers < p.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be at least min_workers (%d)", p.MaxWorkers, p.MinWorkers)
	}
	if p.QueueLimit < 0 {
		return fmt.Errorf("queue_limit must not be negative")
	}
	if p.MonitorInterval <= 0 || p.StaleAfter <= 0 || p.IdleAfter <= 0 {
		return fmt.Errorf("monitor_interval, stale_after and idle_after must be positive")
	}
	return nil
}

// Validate checks the crawl settings.
func (c *CrawlConfig) Validate() error {
	if strings.TrimSpace(c.Keyword) == "" {
		return fmt.Errorf("keyword is required")
	}
	if c.Count <= 0 {
		return fmt.Errorf("count must be a positive integer")
	}
	if c.Sleep < 0 {
		return fmt.Errorf("sleep must not be negative")
	}
	switch c.Profile {
	case "mobile", "desktop":
	default:
		return fmt.Errorf("profile must be 'mobile' or 'desktop', got %q", c.Profile)
	}
	if c.RefreshPages < 0 {
		return fmt.Errorf("refresh_pages must not be negative")
	}
	return nil
}
