// Package config loads Sentinel's configuration from the environment,
// per the variable names and defaults listed in §6. Mirrors the teacher's
// config.go shape (env var substitution, applyDefaults/validate split,
// fsnotify Watcher) but replaces the YAML tenant table with an
// environment-first load: an optional YAML file layers in non-secret pool
// tuning knobs, and any pool value it sets overrides the env-derived one.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is Sentinel's fully-resolved runtime configuration.
type Config struct {
	Oracle  OracleConfig
	OAuth2  OAuth2Config
	HTTP    HTTPConfig
	Pool    PoolConfig
	Worker  WorkerConfig
	Queue   QueueConfig
	Logging LoggingConfig
	Metrics MetricsConfig
}

// OracleConfig holds connection and wallet settings.
type OracleConfig struct {
	TNSName          string
	WalletLocation   string
	WalletBase64     string
	SSLServerDNMatch bool
}

// OAuth2Config holds the bearer-token validation settings.
type OAuth2Config struct {
	JWKSetURI       string
	IssuerURI       string
	Audience        string
	DevBypassToken  string
	DevBypassTenant string
}

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Port int
}

// PoolConfig holds connection pool tuning, overridable by an optional YAML
// tuning file (see Watcher) layered under these env-derived defaults.
type PoolConfig struct {
	MinSessions  int           `yaml:"min_sessions"`
	MaxSessions  int           `yaml:"max_sessions"`
	PingInterval time.Duration `yaml:"ping_interval"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	MaxLifetime  time.Duration `yaml:"max_lifetime"`
}

// WorkerConfig holds worker-pool sizing.
type WorkerConfig struct {
	Threads int
}

// QueueConfig holds AQ queue naming and batching.
type QueueConfig struct {
	Name         string
	BatchSize    int
	LogBatchSize int
}

// LoggingConfig holds the slog level.
type LoggingConfig struct {
	Level string
}

// MetricsConfig holds the Prometheus exposition port.
type MetricsConfig struct {
	Port int
}

var truthy = map[string]bool{"yes": true, "true": true, "1": true, "on": true}
var falsy = map[string]bool{"no": true, "false": true, "0": true, "off": true}

// Load reads configuration from the process environment, applying the
// defaults and required-variable checks named in §6. An optional YAML
// tuning file (path from SENTINEL_TUNING_FILE) layers pool settings on
// top, but required identity/credential variables always come from the
// environment only.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Oracle.TNSName = os.Getenv("ORACLE_TNS_NAME")
	cfg.Oracle.WalletLocation = os.Getenv("ORACLE_WALLET_LOCATION")
	cfg.Oracle.WalletBase64 = os.Getenv("ORACLE_WALLET_BASE64")
	cfg.Oracle.SSLServerDNMatch = parseTruthy("ORACLE_SSL_SERVER_DN_MATCH", "yes")

	cfg.OAuth2.JWKSetURI = os.Getenv("OAUTH2_JWK_SET_URI")
	cfg.OAuth2.IssuerURI = os.Getenv("OAUTH2_ISSUER_URI")
	cfg.OAuth2.Audience = envOr("OAUTH2_AUDIENCE", "clm-service")
	cfg.OAuth2.DevBypassToken = os.Getenv("SENTINEL_AUTH_DEV_BYPASS_TOKEN")
	cfg.OAuth2.DevBypassTenant = os.Getenv("SENTINEL_AUTH_DEV_BYPASS_TENANT")

	cfg.HTTP.Port = envOrInt("SENTINEL_HTTP_PORT", 8090)

	cfg.Pool.MinSessions = envOrInt("SENTINEL_POOL_MIN", 2)
	cfg.Pool.MaxSessions = envOrInt("SENTINEL_POOL_MAX", 10)
	cfg.Pool.PingInterval = 60 * time.Second
	cfg.Pool.WaitTimeout = 5000 * time.Millisecond
	cfg.Pool.MaxLifetime = 3600 * time.Second

	cfg.Worker.Threads = envOrInt("SENTINEL_WORKER_THREADS", 4)

	cfg.Queue.Name = envOr("SENTINEL_QUEUE_NAME", "SENTINEL_QUEUE")
	cfg.Queue.BatchSize = envOrInt("SENTINEL_AQ_BATCH_SIZE", 1)
	cfg.Queue.LogBatchSize = envOrInt("SENTINEL_LOG_BATCH_SIZE", 1000)

	cfg.Logging.Level = envOr("LOG_LEVEL", "info")
	cfg.Metrics.Port = envOrInt("PROMETHEUS_METRICS_PORT", 9090)

	if tuningPath := os.Getenv("SENTINEL_TUNING_FILE"); tuningPath != "" {
		if err := applyTuningFile(&cfg.Pool, tuningPath); err != nil {
			return nil, fmt.Errorf("config: loading tuning file: %w", err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Oracle.TNSName == "" {
		return fmt.Errorf("ORACLE_TNS_NAME is required")
	}
	haveLocation := cfg.Oracle.WalletLocation != ""
	haveBase64 := cfg.Oracle.WalletBase64 != ""
	if haveLocation == haveBase64 {
		return fmt.Errorf("exactly one of ORACLE_WALLET_LOCATION or ORACLE_WALLET_BASE64 is required")
	}
	if cfg.OAuth2.JWKSetURI == "" {
		return fmt.Errorf("OAUTH2_JWK_SET_URI is required")
	}
	if cfg.OAuth2.IssuerURI == "" {
		return fmt.Errorf("OAUTH2_ISSUER_URI is required")
	}
	return nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] %s=%q is not a valid integer, using default %d", key, v, def)
		return def
	}
	return n
}

// parseTruthy parses key against the truthy/falsy sets defined in §6,
// warning and defaulting to enabled for any unrecognized value.
func parseTruthy(key, def string) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		v = def
	}
	lv := strings.ToLower(strings.TrimSpace(v))
	if truthy[lv] {
		return true
	}
	if falsy[lv] {
		return false
	}
	log.Printf("[config] %s=%q is neither truthy nor falsy, defaulting to enabled", key, v)
	return true
}

// tuningFile is the YAML shape of the optional pool-tuning overlay.
type tuningFile struct {
	Pool PoolConfig `yaml:"pool"`
}

func applyTuningFile(pc *PoolConfig, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading tuning file: %w", err)
	}
	var tf tuningFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return fmt.Errorf("parsing tuning file: %w", err)
	}
	if tf.Pool.MinSessions != 0 {
		pc.MinSessions = tf.Pool.MinSessions
	}
	if tf.Pool.MaxSessions != 0 {
		pc.MaxSessions = tf.Pool.MaxSessions
	}
	if tf.Pool.PingInterval != 0 {
		pc.PingInterval = tf.Pool.PingInterval
	}
	if tf.Pool.WaitTimeout != 0 {
		pc.WaitTimeout = tf.Pool.WaitTimeout
	}
	if tf.Pool.MaxLifetime != 0 {
		pc.MaxLifetime = tf.Pool.MaxLifetime
	}
	return nil
}

// Watcher watches the optional tuning file for changes and calls back with
// the updated pool settings, following the teacher's debounced fsnotify
// Watcher verbatim in shape — only the payload (PoolConfig, not the whole
// tenant table) changes.
type Watcher struct {
	path     string
	callback func(PoolConfig)
	base     PoolConfig
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher watches path (the tuning file) and invokes callback with the
// reloaded pool config, applied on top of base, on every write/create event.
func NewWatcher(path string, base PoolConfig, callback func(PoolConfig)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching tuning file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		base:     base,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] tuning file watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	pc := cw.base
	if err := applyTuningFile(&pc, cw.path); err != nil {
		log.Printf("[config] tuning file hot-reload failed: %v", err)
		return
	}
	log.Printf("[config] pool tuning reloaded from %s", cw.path)
	cw.callback(pc)
}

// Stop stops the tuning-file watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
