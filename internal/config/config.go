package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 全局配置结构体
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Reconnect ReconnectConfig `mapstructure:"reconnect"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Session   SessionConfig   `mapstructure:"session"`
	Dialogue  DialogueConfig  `mapstructure:"dialogue"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig 游戏服务器地址
type ServerConfig struct {
	URL string `mapstructure:"url"` // ws://host:port/ws
}

// WebSocketConfig WebSocket连接配置
type WebSocketConfig struct {
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	ReadBufferSize    int           `mapstructure:"read_buffer_size"`
	WriteBufferSize   int           `mapstructure:"write_buffer_size"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	PingInterval      time.Duration `mapstructure:"ping_interval"`
	PongTimeout       time.Duration `mapstructure:"pong_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	EnableCompression bool          `mapstructure:"enable_compression"`
}

// ReconnectConfig 断线重连配置（默认关闭，由各上下文自行决定是否重连）
type ReconnectConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
}

// ProtocolConfig 协议配置
type ProtocolConfig struct {
	Dialect string `mapstructure:"dialect"` // room 或 game
}

// DatabaseConfig 本地持久化数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig 本地存储配置
type StorageConfig struct {
	Namespace string `mapstructure:"namespace"`
}

// SessionConfig 会话同步配置
type SessionConfig struct {
	RejoinDelay       time.Duration `mapstructure:"rejoin_delay"`
	CountdownInterval time.Duration `mapstructure:"countdown_interval"`
	PresentChannels   []string      `mapstructure:"present_channels"`
	LoopBuffer        int           `mapstructure:"loop_buffer"`
}

// DialogueConfig 对话框渲染配置
type DialogueConfig struct {
	TypeSpeed     time.Duration `mapstructure:"type_speed"`
	AutoTurnDelay time.Duration `mapstructure:"auto_turn_delay"`
	PageRunes     int           `mapstructure:"page_runes"`
}

// AuthConfig 外部OAuth配置
type AuthConfig struct {
	ProviderOrigin string        `mapstructure:"provider_origin"`
	LoginPath      string        `mapstructure:"login_path"`
	CallbackAddr   string        `mapstructure:"callback_addr"`
	StateSecret    string        `mapstructure:"state_secret"`
	StateTTL       time.Duration `mapstructure:"state_ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level   string            `mapstructure:"level"`
	Format  string            `mapstructure:"format"`
	Output  string            `mapstructure:"output"`
	File    LogFileConfig     `mapstructure:"file"`
	Modules map[string]string `mapstructure:"modules"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("client")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		// 环境变量前缀
		v.SetEnvPrefix("TABLETOP_CLIENT")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		SetDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 配置文件不存在时使用默认配置
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		loaded := &Config{}
		if err = v.Unmarshal(loaded); err != nil {
			return
		}
		if err = loaded.Validate(); err != nil {
			return
		}

		mu.Lock()
		cfg = loaded
		mu.Unlock()
	})

	return err
}

// SetDefaults 设置默认配置值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.url", "ws://localhost:8000/ws")

	v.SetDefault("websocket.handshake_timeout", "10s")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 512*1024)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.enable_compression", false)

	v.SetDefault("reconnect.enabled", false)
	v.SetDefault("reconnect.initial_interval", "500ms")
	v.SetDefault("reconnect.max_interval", "30s")
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("reconnect.max_attempts", 8)

	v.SetDefault("protocol.dialect", "room")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/client.db")
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.namespace", "")

	v.SetDefault("session.rejoin_delay", "500ms")
	v.SetDefault("session.countdown_interval", "1s")
	v.SetDefault("session.present_channels", []string{"system", "dialogue"})
	v.SetDefault("session.loop_buffer", 256)

	v.SetDefault("dialogue.type_speed", "50ms")
	v.SetDefault("dialogue.auto_turn_delay", "2500ms")
	v.SetDefault("dialogue.page_runes", 120)

	v.SetDefault("auth.provider_origin", "http://localhost:8000")
	v.SetDefault("auth.login_path", "/auth/google/login")
	v.SetDefault("auth.callback_addr", "127.0.0.1:8765")
	v.SetDefault("auth.state_secret", "")
	v.SetDefault("auth.state_ttl", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "client.log")
	v.SetDefault("log.file.max_size", 50)
	v.SetDefault("log.file.max_age", 14)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.compress", true)
}

// Default 返回仅包含默认值的配置（测试和嵌入使用）
func Default() *Config {
	dv := viper.New()
	SetDefaults(dv)
	c := &Config{}
	if err := dv.Unmarshal(c); err != nil {
		panic(fmt.Sprintf("默认配置解析失败: %v", err))
	}
	return c
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url 不能为空")
	}
	switch c.Protocol.Dialect {
	case "room", "game":
	default:
		return fmt.Errorf("不支持的协议方言: %s", c.Protocol.Dialect)
	}
	if c.Session.CountdownInterval <= 0 {
		return fmt.Errorf("session.countdown_interval 必须大于0")
	}
	if c.Session.RejoinDelay < 0 {
		return fmt.Errorf("session.rejoin_delay 不能为负数")
	}
	if c.Reconnect.Enabled && c.Reconnect.Multiplier < 1 {
		return fmt.Errorf("reconnect.multiplier 必须不小于1")
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	if v == nil {
		return
	}
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			fmt.Printf("配置重载失败: %v\n", err)
			return
		}
		if err := newCfg.Validate(); err != nil {
			fmt.Printf("配置校验失败，忽略本次变更: %v\n", err)
			return
		}

		mu.Lock()
		cfg = newCfg
		mu.Unlock()

		if callback != nil {
			callback(newCfg)
		}

		fmt.Printf("配置已重新加载: %s\n", e.Name)
	})
}

// GetString 获取字符串配置
func GetString(key string) string {
	return v.GetString(key)
}

// GetDuration 获取时间间隔配置
func GetDuration(key string) time.Duration {
	return v.GetDuration(key)
}

// IsSet 检查配置项是否存在
func IsSet(key string) bool {
	return v.IsSet(key)
}
