package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/genai-studio/edge-proxy/internal/cors"
	"github.com/genai-studio/edge-proxy/internal/ratelimit"
	"github.com/genai-studio/edge-proxy/internal/upstream"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable bound to a config key.
const EnvPrefix = "EDGEPROXY"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Upstream  upstream.Config `mapstructure:"upstream"`
	CORS      cors.Config     `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Mode          string        `mapstructure:"mode"`
	Environment   string        `mapstructure:"environment"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	RoutePrefixes []string      `mapstructure:"route_prefixes"`
}

// IsProduction reports whether the deployment is flagged production.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Environment, "production")
}

// LimitConfig configures one limiter. A non-empty Preset takes precedence
// over Window and MaxRequests.
type LimitConfig struct {
	Preset      string        `mapstructure:"preset"`
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

// Resolve returns the effective limiter configuration.
func (l LimitConfig) Resolve() (ratelimit.Config, error) {
	if l.Preset != "" {
		p, ok := ratelimit.Preset(l.Preset)
		if !ok {
			return ratelimit.Config{}, fmt.Errorf("unknown rate limit preset %q", l.Preset)
		}
		return p, nil
	}
	return ratelimit.Config{Window: l.Window, MaxRequests: l.MaxRequests}, nil
}

type RateLimitConfig struct {
	Chat  LimitConfig `mapstructure:"chat"`
	Image LimitConfig `mapstructure:"image"`
	Video LimitConfig `mapstructure:"video"`
}

type SecurityConfig struct {
	// AdminPassword guards the admin endpoints; empty disables them.
	AdminPassword string `mapstructure:"admin_password"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Output        string `mapstructure:"output"`
	ConsoleOutput bool   `mapstructure:"console_output"`
	MaxSize       int    `mapstructure:"max_size"`
	MaxBackups    int    `mapstructure:"max_backups"`
	MaxAge        int    `mapstructure:"max_age"`
	Compress      bool   `mapstructure:"compress"`
	BufferSize    int    `mapstructure:"buffer_size"`
}

// envAliases are environment names kept from earlier deployments.
var envAliases = map[string][]string{
	"upstream.api_key":     {"BIGMODEL_API_KEY"},
	"cors.allowed_origins": {"CORS_ALLOWED_ORIGINS"},
	"server.environment":   {"APP_ENV", "NODE_ENV"},
}

// Load loads the configuration from the global viper instance
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom loads the configuration from v, layering defaults and
// environment variables under whatever v already holds.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 验证配置
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment without overriding variables already set. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// 服务器配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8045)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute)
	v.SetDefault("server.route_prefixes", []string{"", "/api"})

	// 上游API配置
	v.SetDefault("upstream.provider_name", "BigModel")
	v.SetDefault("upstream.base_url", "https://open.bigmodel.cn/api/paas/v4")
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.chat_path", "/chat/completions")
	v.SetDefault("upstream.image_path", "/images/generations")
	v.SetDefault("upstream.video_path", "/videos/generations")
	v.SetDefault("upstream.video_retrieve_path", "/videos/retrieve")
	v.SetDefault("upstream.chat_timeout", 2*time.Minute)
	v.SetDefault("upstream.image_timeout", 2*time.Minute)
	v.SetDefault("upstream.video_timeout", 5*time.Minute)
	v.SetDefault("upstream.user_agent", "edgeproxy/1.0")

	v.SetDefault("cors.allowed_origins", "")
	v.SetDefault("cors.strict", false)

	// 速率限制：每个能力 10 秒 10 次
	for _, capability := range []string{"chat", "image", "video"} {
		v.SetDefault("rate_limit."+capability+".preset", "")
		v.SetDefault("rate_limit."+capability+".window", ratelimit.Strict.Window)
		v.SetDefault("rate_limit."+capability+".max_requests", ratelimit.Strict.MaxRequests)
	}

	v.SetDefault("security.admin_password", "")

	// 日志配置
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "logs/edgeproxy.log")
	v.SetDefault("logging.console_output", true)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", false)
	v.SetDefault("logging.buffer_size", 1000)
}

// bindEnv binds every known key to EDGEPROXY_<SECTION>_<KEY> and the
// legacy aliases.
func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range v.AllKeys() {
		names := []string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}
		names = append(names, envAliases[key]...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return err
		}
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Server.Port)
	}

	if cfg.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url is required")
	}
	if u, err := url.Parse(cfg.Upstream.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream.base_url: %q", cfg.Upstream.BaseURL)
	}

	timeouts := map[string]time.Duration{
		"chat_timeout":  cfg.Upstream.ChatTimeout,
		"image_timeout": cfg.Upstream.ImageTimeout,
		"video_timeout": cfg.Upstream.VideoTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("upstream.%s must be positive", name)
		}
	}

	limits := map[string]LimitConfig{
		"chat":  cfg.RateLimit.Chat,
		"image": cfg.RateLimit.Image,
		"video": cfg.RateLimit.Video,
	}
	for name, l := range limits {
		rl, err := l.Resolve()
		if err != nil {
			return fmt.Errorf("rate_limit.%s: %w", name, err)
		}
		if rl.Window <= 0 || rl.MaxRequests <= 0 {
			return fmt.Errorf("rate_limit.%s: window and max_requests must be positive", name)
		}
	}

	return nil
}
