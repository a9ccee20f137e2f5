package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Environment variables that override values from the file.
const (
	EnvStoreDriver = "ALERTFLOW_STORE_DRIVER"
	EnvStoreDSN    = "ALERTFLOW_STORE_DSN"
	EnvStoreHosts  = "ALERTFLOW_STORE_HOSTS"
	EnvHTTPAddr    = "ALERTFLOW_HTTP_ADDR"
	EnvRedisAddr   = "ALERTFLOW_REDIS_ADDR"
	EnvAMQPURL     = "ALERTFLOW_AMQP_URL"
)

// Loader reads a YAML config file and watches it for changes.
type Loader struct {
	path     string
	mu       sync.RWMutex
	current  *AppConfig
	onChange []func(*AppConfig) error
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
}

// NewLoader creates a Loader and performs the initial load.
func NewLoader(path string) (*Loader, error) {
	l := &Loader{path: path, logger: slog.Default()}
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	return l, nil
}

// Path returns the watched file.
func (l *Loader) Path() string { return l.path }

// Config returns the current (latest) configuration.
func (l *Loader) Config() *AppConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked whenever the config reloads. A
// callback error rejects the new config.
func (l *Loader) OnChange(fn func(*AppConfig) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch starts a background goroutine that hot-reloads the config on file changes.
// Call the returned stop function to clean up.
func (l *Loader) Watch() (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config watcher: %w", err)
	}
	if err := w.Add(l.path); err != nil {
		w.Close()
		return nil, fmt.Errorf("config watcher add %s: %w", l.path, err)
	}
	l.watcher = w

	done := make(chan struct{})
	go func() {
		defer w.Close()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					if _, err := l.Reload(); err != nil {
						l.logger.Warn("config reload failed, keeping previous", "path", l.path, "err", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("config watcher error", "err", err)
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }, nil
}

// Reload forces an immediate re-read of the config file. Callbacks run
// before the new config becomes current; an invalid file or a failing
// callback leaves the current config in place.
func (l *Loader) Reload() (*AppConfig, error) {
	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.mu.RLock()
	callbacks := make([]func(*AppConfig) error, len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.RUnlock()
	for _, fn := range callbacks {
		if err := fn(cfg); err != nil {
			return nil, fmt.Errorf("apply config %s: %w", l.path, err)
		}
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) load() (*AppConfig, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", l.path, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	ApplyEnv(&cfg, os.LookupEnv)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overlays the ALERTFLOW_* variables onto cfg.
func ApplyEnv(cfg *AppConfig, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvStoreDriver); ok && v != "" {
		cfg.Store.Driver = v
	}
	if v, ok := lookup(EnvStoreDSN); ok && v != "" {
		cfg.Store.DSN = v
	}
	if v, ok := lookup(EnvStoreHosts); ok && v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		cfg.Store.Hosts = hosts
	}
	if v, ok := lookup(EnvHTTPAddr); ok && v != "" {
		cfg.Server.Addr = v
	}
	if v, ok := lookup(EnvRedisAddr); ok && v != "" {
		cfg.Dashboard.RedisAddr = v
	}
	if v, ok := lookup(EnvAMQPURL); ok && v != "" {
		cfg.Notify.AMQP.URL = v
	}
}

// ApplyDefaults fills zero values.
func ApplyDefaults(cfg *AppConfig) {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeoutMs == 0 {
		cfg.Server.ReadTimeoutMs = 15000
	}
	if cfg.Server.WriteTimeoutMs == 0 {
		cfg.Server.WriteTimeoutMs = 15000
	}
	if cfg.Server.MaxBatchSize == 0 {
		cfg.Server.MaxBatchSize = 1000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "memory"
	}
	if cfg.Store.TimeoutMs == 0 {
		cfg.Store.TimeoutMs = 5000
	}
	if cfg.Writer.BatchLimit == 0 {
		cfg.Writer.BatchLimit = 20
	}
	if cfg.Writer.MaxAttempts == 0 {
		cfg.Writer.MaxAttempts = 3
	}
	if cfg.Writer.RetryBackoffMs == 0 {
		cfg.Writer.RetryBackoffMs = 200
	}
	if cfg.Writer.PollIntervalMs == 0 {
		cfg.Writer.PollIntervalMs = 1000
	}
	if cfg.Writer.Consistency == "" {
		cfg.Writer.Consistency = "ONE"
	}
	if cfg.Transition.Consistency == "" {
		cfg.Transition.Consistency = "ONE"
	}
	if cfg.Dashboard.CacheTTLSec == 0 {
		cfg.Dashboard.CacheTTLSec = 30
	}
	if cfg.Notify.AMQP.Exchange == "" {
		cfg.Notify.AMQP.Exchange = "alerts"
	}
}
