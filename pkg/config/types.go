package config

// Config is the main configuration struct, loaded from YAML with env
// overrides applied on top.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Account   AccountConfig   `yaml:"account"`
	Remote    RemoteConfig    `yaml:"remote"`
	Logging   LoggingConfig   `yaml:"logging"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds the local read-API listener and cache location.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	DBPath  string `yaml:"db_path"`
}

// AccountConfig identifies the local account context. The core is account
// scoped by explicit injection, never by ambient state.
type AccountConfig struct {
	Identity string `yaml:"identity"`
}

// RemoteConfig points at the two remote collaborators.
type RemoteConfig struct {
	IndexURL string  `yaml:"index_url"`
	StoreURL string  `yaml:"store_url"`
	APIKey   string  `yaml:"api_key"`
	RPS      float64 `yaml:"rps"`
	Burst    int     `yaml:"burst"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RetentionConfig configures the cache-eviction sweeper.
type RetentionConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Cron             string `yaml:"cron"`
	MaxStreamEntries int    `yaml:"max_stream_entries"`
}
