package config

// AppConfig is the top-level YAML structure.
type AppConfig struct {
	Version    string         `yaml:"version"`
	Server     ServerConf     `yaml:"server"`
	Log        LogConf        `yaml:"log"`
	Store      StoreConf      `yaml:"store"`
	Writer     WriterConf     `yaml:"writer"`
	Transition TransitionConf `yaml:"transition"`
	Rules      RulesConf      `yaml:"rules"`
	Dashboard  DashboardConf  `yaml:"dashboard"`
	Notify     NotifyConf     `yaml:"notify"`
}

// ServerConf holds HTTP listener settings.
type ServerConf struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
	MaxBatchSize   int    `yaml:"max_batch_size"`
}

type LogConf struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// StoreConf selects and configures the storage backend.
type StoreConf struct {
	Driver string `yaml:"driver"` // memory | sqlite | postgres | cassandra
	// DSN is the file path for sqlite and the connection string for postgres.
	DSN string `yaml:"dsn"`
	// Hosts, Keyspace, LocalDC and TimeoutMs configure cassandra.
	Hosts       []string `yaml:"hosts"`
	Keyspace    string   `yaml:"keyspace"`
	LocalDC     string   `yaml:"local_dc"`
	TimeoutMs   int      `yaml:"timeout_ms"`
	Consistency string   `yaml:"consistency"`
}

// WriterConf tunes the background batch writer.
type WriterConf struct {
	BatchLimit     int    `yaml:"batch_limit"`
	MaxAttempts    int    `yaml:"max_attempts"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	Consistency    string `yaml:"consistency"`
}

type TransitionConf struct {
	Consistency string `yaml:"consistency"`
	// SerializePerAlert guards each alert's read-modify-write with an
	// in-process keyed mutex.
	SerializePerAlert bool `yaml:"serialize_per_alert"`
}

// RulesConf defines the scoring rules. Empty sections fall back to the
// built-in defaults.
type RulesConf struct {
	AmountSteps []AmountStep    `yaml:"amount_steps"`
	Indicators  []IndicatorConf `yaml:"indicators"`
}

// AmountStep awards Score when the amount is strictly above Above.
type AmountStep struct {
	Above float64 `yaml:"above"`
	Score int     `yaml:"score"`
}

// IndicatorConf is a flag rule: when Expression holds, Points are added.
type IndicatorConf struct {
	ID          string `yaml:"id"`
	Expression  string `yaml:"expression"`
	Points      int    `yaml:"points"`
	Description string `yaml:"description"`
}

type DashboardConf struct {
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	CacheTTLSec int    `yaml:"cache_ttl_sec"`
	// RefreshIntervalSec rebuilds every view on a timer; 0 disables it.
	RefreshIntervalSec int `yaml:"refresh_interval_sec"`
}

type NotifyConf struct {
	WebSocket bool     `yaml:"websocket"`
	AMQP      AMQPConf `yaml:"amqp"`
}

type AMQPConf struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}
