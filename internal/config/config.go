package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverJSON = "json"
	DriverBolt = "bolt"
)

// Push transports.
const (
	TransportLegacy = "legacy"
	TransportOAuth  = "oauth"
	TransportSDK    = "sdk"
)

// Config holds all runtime configuration knobs for the relay.
type Config struct {
	HTTP struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"http"`
	Storage struct {
		Driver       string `mapstructure:"driver"`
		Path         string `mapstructure:"path"`
		LocationPath string `mapstructure:"location_path"`
	} `mapstructure:"storage"`
	Push struct {
		Transport       string        `mapstructure:"transport"`
		Endpoint        string        `mapstructure:"endpoint"`
		ServerKey       string        `mapstructure:"server_key"`
		CredentialsFile string        `mapstructure:"credentials_file"`
		ProjectID       string        `mapstructure:"project_id"`
		RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"push"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Frontend struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"frontend"`
	Auth struct {
		Enabled   bool   `mapstructure:"enabled"`
		Username  string `mapstructure:"username"`
		Password  string `mapstructure:"password"`
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
}

// Load reads the configuration from disk/environment using Viper. A
// missing config file is not an error so the relay can run from env only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("locate_relay")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, errors.Wrap(err, "load config")
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "stat config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the relay cannot start with.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverJSON, DriverBolt:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Push.Transport {
	case TransportLegacy:
	case TransportOAuth, TransportSDK:
		if c.Push.CredentialsFile == "" {
			return errors.Errorf("push.credentials_file is required for the %s transport", c.Push.Transport)
		}
	default:
		return errors.Errorf("unknown push transport %q", c.Push.Transport)
	}
	if c.Push.RequestTimeout <= 0 {
		return errors.New("push.request_timeout must be positive")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return errors.New("http timeouts must be positive")
	}
	return nil
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Push.Transport = strings.ToLower(strings.TrimSpace(c.Push.Transport))
	if c.Storage.Path == "" {
		if c.Storage.Driver == DriverBolt {
			c.Storage.Path = "./data/registry.db"
		} else {
			c.Storage.Path = "./data/devices.json"
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8090")
	v.SetDefault("http.read_timeout", "15s")
	v.SetDefault("http.write_timeout", "30s")

	v.SetDefault("storage.driver", DriverJSON)
	v.SetDefault("storage.location_path", "./data/locations.json")

	v.SetDefault("push.transport", TransportLegacy)
	v.SetDefault("push.endpoint", "")
	v.SetDefault("push.project_id", "")
	v.SetDefault("push.request_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("frontend.dir", "./web")

	v.SetDefault("auth.enabled", true)
	v.SetDefault("auth.username", "admin")
	v.SetDefault("auth.password", "admin123")
	v.SetDefault("auth.jwt_secret", "change-me-secret")
}

// bindEnv adds the conventional variable names alongside the prefixed ones.
func bindEnv(v *viper.Viper) error {
	if err := v.BindEnv("push.server_key", "LOCATE_RELAY_PUSH_SERVER_KEY", "FCM_SERVER_KEY"); err != nil {
		return errors.Wrap(err, "bind push.server_key")
	}
	if err := v.BindEnv("push.credentials_file", "LOCATE_RELAY_PUSH_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS"); err != nil {
		return errors.Wrap(err, "bind push.credentials_file")
	}
	if err := v.BindEnv("storage.path"); err != nil {
		return errors.Wrap(err, "bind storage.path")
	}
	return nil
}
