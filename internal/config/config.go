package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/alexzouz/ha-linky/internal/cost"
)

const (
	DefaultMeterName = "Linky"
	dateLayout       = "2006-01-02"
)

var (
	ErrInvalid = errors.New("invalid configuration")

	prmPattern = regexp.MustCompile(`^\d{14}$`)
)

// Config holds all configuration for our application
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	API          APIConfig          `mapstructure:"api"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Timezone     string             `mapstructure:"timezone"`
	PriceHistory PriceHistoryConfig `mapstructure:"price_history"`
	Meters       []MeterConfig      `mapstructure:"meters"`
}

type ServerConfig struct {
	Host           string  `mapstructure:"host"`
	AdminPort      int     `mapstructure:"admin_port"`
	GRPCPort       int     `mapstructure:"grpc_port"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type APIConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
	Timescale      bool   `mapstructure:"timescale"`
}

// DSN builds the driver specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// PriceHistoryConfig points at the Home Assistant instance recording the
// price entities referenced by cost rules.
type PriceHistoryConfig struct {
	URL       string        `mapstructure:"url"`
	Token     string        `mapstructure:"token"`
	CacheSize int           `mapstructure:"cache_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type MeterConfig struct {
	PRM        string            `mapstructure:"prm"`
	Token      string            `mapstructure:"token"`
	Name       string            `mapstructure:"name"`
	Production bool              `mapstructure:"production"`
	Costs      []cost.RuleConfig `mapstructure:"costs"`

	// Rules is Costs once validated.
	Rules []cost.Rule `mapstructure:"-"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// First unmarshal into a map to handle type conversions
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	// Convert the map to YAML again
	data, err = yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	// Expand environment variables
	expandedData := os.ExpandEnv(string(data))

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("LINKY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadConfig(bytes.NewBufferString(expandedData)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		timeToDateHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.admin_port", 8080)
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("api.base_url", "https://conso.boris.sh/api")
	v.SetDefault("api.user_agent", "ha-linky/2.0.0")
	v.SetDefault("api.rate_limit", 5.0)
	v.SetDefault("api.rate_limit_burst", 5)
	v.SetDefault("api.timeout", "30s")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "linky.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("timezone", "Europe/Paris")

	v.SetDefault("price_history.cache_size", 128)
	v.SetDefault("price_history.timeout", "30s")
}

// timeToDateHook turns YAML timestamps (an unquoted 2024-01-01) back into
// the date strings cost rules expect.
func timeToDateHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to.Kind() != reflect.String {
		return data, nil
	}
	if t, ok := data.(time.Time); ok {
		return t.Format(dateLayout), nil
	}
	return data, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate checks the meters and parses their cost rules.
func (c *Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: database driver %q", ErrInvalid, c.Database.Driver)
	}

	seen := make(map[string]bool, len(c.Meters))
	needsHistory := false
	for i := range c.Meters {
		m := &c.Meters[i]
		m.PRM = strings.TrimSpace(m.PRM)
		if !prmPattern.MatchString(m.PRM) {
			return fmt.Errorf("%w: meter %d: PRM %q must be exactly 14 digits", ErrInvalid, i, m.PRM)
		}
		if strings.TrimSpace(m.Token) == "" {
			return fmt.Errorf("%w: meter %s: token is required", ErrInvalid, m.PRM)
		}
		if m.Name == "" {
			m.Name = DefaultMeterName
		}

		key := fmt.Sprintf("%s/%t", m.PRM, m.Production)
		if seen[key] {
			return fmt.Errorf("%w: meter %s (production=%t) is configured twice", ErrInvalid, m.PRM, m.Production)
		}
		seen[key] = true

		rules, err := cost.ParseRules(m.Costs)
		if err != nil {
			return fmt.Errorf("%w: meter %s: %w", ErrInvalid, m.PRM, err)
		}
		m.Rules = rules
		if len(cost.EntityIDs(rules)) > 0 {
			needsHistory = true
		}
	}

	if needsHistory && c.PriceHistory.URL == "" {
		return fmt.Errorf("%w: price_history.url is required when a cost rule uses entity_id", ErrInvalid)
	}
	return nil
}
