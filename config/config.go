package config

import (
	"runtime"
	"strings"

	"WSChat/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// AuthSettings 认证策略配置：type 决定策略，其余字段原样传给策略工厂
type AuthSettings struct {
	Type string         `mapstructure:"type"`
	Data map[string]any `mapstructure:",remain"`
}

type SecureSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	CrtPath string `mapstructure:"crtPath"`
	KeyPath string `mapstructure:"keyPath"`
}

type WatchdogSettings struct {
	Enabled                   bool  `mapstructure:"enabled"`
	ConnectionLifetimeSeconds int64 `mapstructure:"connectionLifetimeSeconds"`
}

type ServerSettings struct {
	Address                 string           `mapstructure:"address"`
	Port                    uint16           `mapstructure:"port"`
	Endpoint                string           `mapstructure:"endpoint"`
	Workers                 int              `mapstructure:"workers"`
	AllowOverrideConnection bool             `mapstructure:"allowOverrideConnection"`
	Watchdog                WatchdogSettings `mapstructure:"watchdog"`
	Secure                  SecureSettings   `mapstructure:"secure"`
}

type MessageSettings struct {
	MaxSize              string   `mapstructure:"maxSize"`
	EnableDeliveryStatus bool     `mapstructure:"enableDeliveryStatus"`
	EnableSendBack       bool     `mapstructure:"enableSendBack"`
	IgnoreTypesSendBack  []string `mapstructure:"ignoreTypesSendBack"`
}

type ChatSettings struct {
	EnableUndeliveredQueue bool            `mapstructure:"enableUndeliveredQueue"`
	UndeliveredQueueSize   int             `mapstructure:"undeliveredQueueSize"`
	Message                MessageSettings `mapstructure:"message"`
}

type RestAPISettings struct {
	Enabled bool         `mapstructure:"enabled"`
	Address string       `mapstructure:"address"`
	Port    uint16       `mapstructure:"port"`
	Auth    AuthSettings `mapstructure:"auth"`
}

// EventTarget 单个事件目标的原始配置，type 之外的字段由具体目标自行解码
type EventTarget struct {
	Type string         `mapstructure:"type"`
	Data map[string]any `mapstructure:",remain"`
}

type EventSettings struct {
	Enabled              bool          `mapstructure:"enabled"`
	EnableRetry          bool          `mapstructure:"enableRetry"`
	RetryIntervalSeconds int           `mapstructure:"retryIntervalSeconds"`
	RetryCount           int           `mapstructure:"retryCount"`
	SendStrategy         string        `mapstructure:"sendStrategy"`
	Targets              []EventTarget `mapstructure:"targets"`
}

type PresenceSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// Settings 启动期一次性读取的全量配置。
// 构造后按值传入各组件，不提供全局可变访问器。
type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	RestAPI  RestAPISettings  `mapstructure:"restApi"`
	Chat     ChatSettings     `mapstructure:"chat"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Event    EventSettings    `mapstructure:"event"`
	Presence PresenceSettings `mapstructure:"presence"`
	LogLevel string           `mapstructure:"logLevel"`
}

// Default 与原始部署一致的缺省值
func Default() Settings {
	return Settings{
		Server: ServerSettings{
			Port:     8085,
			Endpoint: "/chat",
			Workers:  runtime.NumCPU(),
			Watchdog: WatchdogSettings{
				ConnectionLifetimeSeconds: 600,
			},
		},
		RestAPI: RestAPISettings{
			Port: 8082,
			Auth: AuthSettings{Type: "noauth"},
		},
		Chat: ChatSettings{
			EnableUndeliveredQueue: true,
			UndeliveredQueueSize:   1024,
			Message: MessageSettings{
				MaxSize: "10M",
			},
		},
		Auth: AuthSettings{Type: "noauth"},
		Event: EventSettings{
			RetryIntervalSeconds: 10,
			RetryCount:           3,
			SendStrategy:         "onlineOnly",
		},
		Presence: PresenceSettings{
			Channel: "online_changes",
		},
		LogLevel: "debug",
	}
}

// Load 从文件读取配置（json/yaml，由扩展名决定）并套在缺省值之上。
func Load(path string) (Settings, error) {
	s := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("WSCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return s, err
	}
	if err := v.Unmarshal(&s); err != nil {
		return s, err
	}
	return s, nil
}

// Watch 监听配置文件变化。行为类配置启动后冻结，
// 热更新只接受 logLevel。
func Watch(path string) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		logger.Warnf("[Config] watch skipped: %v", err)
		return
	}
	v.OnConfigChange(func(_ fsnotify.Event) {
		lvl := v.GetString("logLevel")
		if lvl != "" {
			logger.Infof("[Config] logLevel changed to %s", lvl)
			logger.SetLevel(lvl)
		}
	})
	v.WatchConfig()
}
