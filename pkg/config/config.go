package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Addr returns the listen address for the local read API.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "127.0.0.1"
	}
	port := c.Server.Port
	if port == 0 {
		port = 8321
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// Load reads the YAML config at path. A missing file yields zero-value
// config, not an error, so env/flag-only deployments work.
func Load(path string) (*Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyEnvOverrides layers SKYMIRROR_* environment variables over the
// file-sourced config. Env wins over file; flags win over env.
func ApplyEnvOverrides(cfg *Config) {
	set := func(env string, dst *string) {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}
	set("SKYMIRROR_ADDR", &cfg.Server.Address)
	set("SKYMIRROR_DB_PATH", &cfg.Server.DBPath)
	set("SKYMIRROR_IDENTITY", &cfg.Account.Identity)
	set("SKYMIRROR_INDEX_URL", &cfg.Remote.IndexURL)
	set("SKYMIRROR_STORE_URL", &cfg.Remote.StoreURL)
	set("SKYMIRROR_API_KEY", &cfg.Remote.APIKey)
	set("SKYMIRROR_LOG_LEVEL", &cfg.Logging.Level)
	if v := os.Getenv("SKYMIRROR_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}
}

// Flags holds command-line values and which of them the user set.
type Flags struct {
	Addr    string
	DBPath  string
	CfgPath string
	Set     map[string]bool
}

// ParseCommandFlags parses the binary's flags. Explicit flags win over
// config/env when provided.
func ParseCommandFlags() Flags {
	addr := flag.String("addr", "", "listen address for the local read API (host:port)")
	db := flag.String("db", "./skymirror-cache", "path to the local cache database")
	cfg := flag.String("config", "skymirror.yaml", "path to YAML config")
	flag.Parse()
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return Flags{Addr: *addr, DBPath: *db, CfgPath: *cfg, Set: set}
}

// LoadEffective merges file, env, and flags into the final config.
func LoadEffective(flags Flags) (*Config, error) {
	path := flags.CfgPath
	if env := os.Getenv("SKYMIRROR_CONFIG"); env != "" && !flags.Set["config"] {
		path = env
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	ApplyEnvOverrides(cfg)
	if flags.Set["addr"] {
		host, portStr, err := net.SplitHostPort(flags.Addr)
		if err != nil {
			return nil, fmt.Errorf("invalid -addr %q: %w", flags.Addr, err)
		}
		cfg.Server.Address = host
		if p, err := strconv.Atoi(portStr); err == nil {
			cfg.Server.Port = p
		}
	}
	if flags.Set["db"] || cfg.Server.DBPath == "" {
		cfg.Server.DBPath = flags.DBPath
	}
	return cfg, nil
}
