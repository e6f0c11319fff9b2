package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "BOARDSYNC"

	defaultHTTPAddress = "0.0.0.0:3333"
	defaultStoreDriver = StoreDriverMemory
	defaultStorePath   = "boardsync.db"
	defaultServerName  = "boardsync"
	defaultIssuer      = "boardsync"
	defaultLogLevel    = "info"

	defaultPresenceTTLSeconds = 60
	defaultMessageTTLSeconds  = 60
)

// Store driver selectors.
const (
	StoreDriverMemory = "memory"
	StoreDriverSQLite = "sqlite"
)

// AppConfig captures runtime configuration for the sync server.
type AppConfig struct {
	HTTPAddress   string
	StoreDriver   string
	StorePath     string
	ServerName    string
	SigningSecret string
	Issuer        string
	PresenceTTL   time.Duration
	MessageTTL    time.Duration
	KernelURL     string
	LogLevel      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("store.driver", defaultStoreDriver)
	configViper.SetDefault("store.path", defaultStorePath)
	configViper.SetDefault("server.name", defaultServerName)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("presence.ttl_seconds", defaultPresenceTTLSeconds)
	configViper.SetDefault("message.ttl_seconds", defaultMessageTTLSeconds)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		StoreDriver:   configViper.GetString("store.driver"),
		StorePath:     configViper.GetString("store.path"),
		ServerName:    configViper.GetString("server.name"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		Issuer:        configViper.GetString("auth.issuer"),
		PresenceTTL:   time.Duration(configViper.GetInt("presence.ttl_seconds")) * time.Second,
		MessageTTL:    time.Duration(configViper.GetInt("message.ttl_seconds")) * time.Second,
		KernelURL:     configViper.GetString("kernel.url"),
		LogLevel:      configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.ServerName) == "" {
		return fmt.Errorf("server.name is required")
	}
	switch c.StoreDriver {
	case StoreDriverMemory:
	case StoreDriverSQLite:
		if strings.TrimSpace(c.StorePath) == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver must be %q or %q", StoreDriverMemory, StoreDriverSQLite)
	}
	if c.PresenceTTL <= 0 {
		return fmt.Errorf("presence.ttl_seconds must be positive")
	}
	if c.MessageTTL <= 0 {
		return fmt.Errorf("message.ttl_seconds must be positive")
	}
	return nil
}
