package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration syntax in YAML ("10s", "720h").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

type Config struct {
	HTTPAddr    string     `yaml:"http_addr"`
	LogLevel    string     `yaml:"log_level"`
	DatabaseURL string     `yaml:"database_url"`
	RPCTimeout  Duration   `yaml:"rpc_timeout"`
	Scan        ScanConfig `yaml:"scan"`
}

type ScanConfig struct {
	ChunkPeriod       Duration `yaml:"chunk_period"`
	CursorMargin      Duration `yaml:"cursor_margin"`
	KeepCursorHistory bool     `yaml:"keep_cursor_history"`
}

func Default() Config {
	return Config{
		HTTPAddr:   ":8081",
		LogLevel:   "info",
		RPCTimeout: Duration(10 * time.Second),
		Scan: ScanConfig{
			ChunkPeriod:  Duration(30 * 24 * time.Hour),
			CursorMargin: Duration(8 * time.Hour),
		},
	}
}

// Load reads the file named by CONFIG_FILE, if any, over the defaults and then
// applies environment overrides.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	if path, ok := lookup("CONFIG_FILE"); ok && path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = Duration(d)
		return nil
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("DATABASE_URL", &cfg.DatabaseURL)
	if err := dur("RPC_TIMEOUT", &cfg.RPCTimeout); err != nil {
		return err
	}
	if err := dur("SCAN_CHUNK_PERIOD", &cfg.Scan.ChunkPeriod); err != nil {
		return err
	}
	if err := dur("SCAN_CURSOR_MARGIN", &cfg.Scan.CursorMargin); err != nil {
		return err
	}
	if v, ok := lookup("SCAN_KEEP_CURSOR_HISTORY"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCAN_KEEP_CURSOR_HISTORY: %w", err)
		}
		cfg.Scan.KeepCursorHistory = b
	}
	return nil
}

func (c Config) Validate() error {
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("rpc_timeout must be positive")
	}
	if c.Scan.ChunkPeriod <= 0 {
		return fmt.Errorf("scan.chunk_period must be positive")
	}
	if c.Scan.CursorMargin < 0 {
		return fmt.Errorf("scan.cursor_margin must not be negative")
	}
	return nil
}
