package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mbeoliero/estatechat/pkg/constant"
)

// EnvPrefix prefixes every environment override, e.g. ESTATECHAT_JWT_SECRET
const EnvPrefix = "ESTATECHAT"

// Config holds all server configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	MySQL       MySQLConfig       `mapstructure:"mysql"`
	Redis       RedisConfig       `mapstructure:"redis"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	ExternalJWT ExternalJWTConfig `mapstructure:"external_jwt"`
	WebSocket   WebSocketConfig   `mapstructure:"websocket"`
	Presence    PresenceConfig    `mapstructure:"presence"`
	Call        CallConfig        `mapstructure:"call"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	HTTPPort       int      `mapstructure:"http_port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	Charset      string `mapstructure:"charset"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// DSN returns the MySQL data source name
func (c *MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.Database, c.Charset)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Addr returns the Redis address
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpireHours int    `mapstructure:"expire_hours"`
}

// ExternalJWTConfig accepts tokens minted by the marketplace backend
type ExternalJWTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Secret      string `mapstructure:"secret"`
	DefaultRole string `mapstructure:"default_role"`
}

// WebSocketConfig holds WebSocket configuration
type WebSocketConfig struct {
	MaxConnNum       int64         `mapstructure:"max_conn_num"`
	MaxMessageSize   int64         `mapstructure:"max_message_size"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	WriteChannelSize int           `mapstructure:"write_channel_size"`
	EventRate        float64       `mapstructure:"event_rate"`
	EventBurst       int           `mapstructure:"event_burst"`
}

// PresenceConfig controls the redis online mirror
type PresenceConfig struct {
	OnlineTTL time.Duration `mapstructure:"online_ttl"`
}

// CallConfig is handed to clients and bounds the relay
type CallConfig struct {
	RingTimeout time.Duration `mapstructure:"ring_timeout"`
	ICEServers  []string      `mapstructure:"ice_servers"`
}

// Load reads the server configuration. A .env next to the process is
// loaded first so ESTATECHAT_* variables can override file values.
func Load(configPath string) (*Config, error) {
	v, err := newViper(configPath, serverEnvKeys...)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.setDefaults()

	if cfg.JWT.Secret == "" {
		return nil, errors.New("jwt.secret is required")
	}
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.MySQL.Charset == "" {
		cfg.MySQL.Charset = "utf8mb4"
	}
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 100
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 10
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "estatechat:"
	}
	if cfg.JWT.ExpireHours == 0 {
		cfg.JWT.ExpireHours = 168 // 7 days
	}
	if cfg.ExternalJWT.DefaultRole == "" {
		cfg.ExternalJWT.DefaultRole = "buyer"
	}
	if cfg.WebSocket.MaxConnNum == 0 {
		cfg.WebSocket.MaxConnNum = 10000
	}
	if cfg.WebSocket.MaxMessageSize == 0 {
		cfg.WebSocket.MaxMessageSize = 51200
	}
	if cfg.WebSocket.WriteWait == 0 {
		cfg.WebSocket.WriteWait = 10 * time.Second
	}
	if cfg.WebSocket.PongWait == 0 {
		cfg.WebSocket.PongWait = 30 * time.Second
	}
	if cfg.WebSocket.PingPeriod == 0 {
		cfg.WebSocket.PingPeriod = 27 * time.Second
	}
	if cfg.WebSocket.WriteChannelSize == 0 {
		cfg.WebSocket.WriteChannelSize = 256
	}
	if cfg.WebSocket.EventRate == 0 {
		cfg.WebSocket.EventRate = 20
	}
	if cfg.WebSocket.EventBurst == 0 {
		cfg.WebSocket.EventBurst = 40
	}
	if cfg.Presence.OnlineTTL == 0 {
		cfg.Presence.OnlineTTL = 2 * time.Minute
	}
	if cfg.Call.RingTimeout == 0 {
		cfg.Call.RingTimeout = constant.RingTimeout
	}
}

// ClientConfig configures cmd/chatcli and any embedding of the sdk
type ClientConfig struct {
	APIBaseURL string          `mapstructure:"api_base_url"`
	WSURL      string          `mapstructure:"ws_url"`
	UserId     string          `mapstructure:"user_id"`
	Token      string          `mapstructure:"token"`
	Portal     string          `mapstructure:"portal"`
	Name       string          `mapstructure:"name"`
	Email      string          `mapstructure:"email"`
	DataDir    string          `mapstructure:"data_dir"`
	Reconnect  ReconnectConfig `mapstructure:"reconnect"`
	Typing     TypingConfig    `mapstructure:"typing"`
	Call       CallConfig      `mapstructure:"call"`
}

// ReconnectConfig bounds the channel's reconnect loop
type ReconnectConfig struct {
	MaxRetries      uint64        `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

// TypingConfig holds the typing indicator windows
type TypingConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
	Fallback time.Duration `mapstructure:"fallback"`
}

// LoadClient reads the client configuration. An empty path uses defaults
// and the environment only.
func LoadClient(configPath string) (*ClientConfig, error) {
	v, err := newViper(configPath, clientEnvKeys...)
	if err != nil {
		return nil, err
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client config: %w", err)
	}

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	if cfg.WSURL == "" {
		cfg.WSURL = strings.Replace(cfg.APIBaseURL, "http", "ws", 1) + "/ws"
	}
	if cfg.Portal == "" {
		cfg.Portal = "buyer"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = ".estatechat"
	}
	if cfg.Reconnect.MaxRetries == 0 {
		cfg.Reconnect.MaxRetries = 10
	}
	if cfg.Reconnect.InitialInterval == 0 {
		cfg.Reconnect.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Reconnect.MaxInterval == 0 {
		cfg.Reconnect.MaxInterval = 30 * time.Second
	}
	if cfg.Typing.Debounce == 0 {
		cfg.Typing.Debounce = constant.TypingDebounce
	}
	if cfg.Typing.Fallback == 0 {
		cfg.Typing.Fallback = constant.TypingFallback
	}
	if cfg.Call.RingTimeout == 0 {
		cfg.Call.RingTimeout = constant.RingTimeout
	}
	if len(cfg.Call.ICEServers) == 0 {
		cfg.Call.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}
	return &cfg, nil
}

// Unmarshal only sees environment values for keys viper knows about, so
// settings that usually come from the environment are bound explicitly.
var (
	serverEnvKeys = []string{
		"server.http_port", "server.mode",
		"mysql.host", "mysql.port", "mysql.user", "mysql.password", "mysql.database",
		"redis.host", "redis.port", "redis.password",
		"jwt.secret", "external_jwt.enabled", "external_jwt.secret",
	}
	clientEnvKeys = []string{
		"api_base_url", "ws_url", "user_id", "token", "portal", "name", "email", "data_dir",
	}
)

func newViper(configPath string, envKeys ...string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", key, err)
		}
	}

	if configPath == "" {
		return v, nil
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return v, nil
}
