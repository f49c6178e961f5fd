package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultSymbols is the watch list used when none is configured.
var DefaultSymbols = []string{"btcusdt", "ethusdt", "bnbusdt", "xrpusdt", "adausdt"}

// defaultBasePrices anchor synthesized fallback ticks. Symbols not
// listed here fall back to DefaultBasePrice.
var defaultBasePrices = map[string]float64{
	"btcusdt": 29500,
	"ethusdt": 1800,
}

const DefaultBasePrice = 500.0

type Config struct {
	UpdateInterval  time.Duration
	Symbols         []string
	RedisHost       string
	RedisPort       int
	RedisDB         int
	HistoryCapacity int
	TicksChannel    string

	MetricsAddr string
	Seed        int64
	LogDir      string
}

// Load builds the configuration from defaults, MT_* environment
// variables and CLI flags, in increasing precedence. args is the raw
// argument list without the program name.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("market_terminal", pflag.ContinueOnError)
	fs.IntP("interval", "i", 5, "render period in seconds")
	fs.StringSliceP("symbols", "s", DefaultSymbols, "symbols to watch, in display order")
	fs.String("redis-host", "localhost", "redis host")
	fs.Int("redis-port", 6379, "redis port")
	fs.Int("redis-db", 0, "redis database number")
	fs.Int("history", 100, "rolling window capacity per symbol")
	fs.String("channel", "market_data", "pub/sub channel carrying tick payloads")
	fs.String("metrics-addr", ":8080", "metrics/health listen address, empty to disable")
	fs.Int64("seed", 0, "random seed, 0 seeds from the clock")
	fs.String("log-dir", "logs", "directory for rotated log files")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix("MT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		UpdateInterval:  time.Duration(v.GetInt("interval")) * time.Second,
		Symbols:         v.GetStringSlice("symbols"),
		RedisHost:       v.GetString("redis-host"),
		RedisPort:       v.GetInt("redis-port"),
		RedisDB:         v.GetInt("redis-db"),
		HistoryCapacity: v.GetInt("history"),
		TicksChannel:    v.GetString("channel"),
		MetricsAddr:     v.GetString("metrics-addr"),
		Seed:            v.GetInt64("seed"),
		LogDir:          v.GetString("log-dir"),
	}

	for i := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToLower(strings.TrimSpace(cfg.Symbols[i]))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.UpdateInterval < time.Second {
		return fmt.Errorf("interval must be at least 1 second, got %s", c.UpdateInterval)
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}
	for _, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("empty symbol in watch list")
		}
	}
	if c.RedisPort < 1 || c.RedisPort > 65535 {
		return fmt.Errorf("redis port out of range: %d", c.RedisPort)
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis db must be non-negative, got %d", c.RedisDB)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("history capacity must be at least 1, got %d", c.HistoryCapacity)
	}
	if c.TicksChannel == "" {
		return fmt.Errorf("ticks channel must not be empty")
	}
	return nil
}

// RedisAddr returns the host:port pair for the bus connection.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// BasePrice returns the anchor price used when synthesizing a tick
// for a symbol that has no live or cached price.
func (c *Config) BasePrice(symbol string) float64 {
	if p, ok := defaultBasePrices[symbol]; ok {
		return p
	}
	return DefaultBasePrice
}
