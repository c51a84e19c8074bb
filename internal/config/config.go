// Package config loads and hot-reloads the pool's YAML configuration, in
// the teacher's style: env-var substitution, defaulting, and an fsnotify
// watcher with a debounced reload.
package config

import (
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/mysqlasync/pool/internal/pool"
	"github.com/mysqlasync/pool/internal/session"
)

// Config is the top-level configuration for a mysqlasync pool endpoint,
// narrowed from the teacher's multi-tenant Config down to the single
// backend this pool core connects to (spec.md §1 non-goal).
type Config struct {
	API  APIConfig  `yaml:"api"`
	Pool PoolConfig `yaml:"pool"`
}

// APIConfig defines the bind address for the stats/metrics surface.
type APIConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

// PoolConfig mirrors pool.PoolConfig in YAML-friendly form; TLS is reduced
// to an enable flag plus optional cert paths rather than a live *tls.Config.
type PoolConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	DBName   string `yaml:"dbname"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	Capacity     int           `yaml:"capacity"`
	MaxNumTries  int           `yaml:"max_num_tries"`
	BetweenTries time.Duration `yaml:"between_tries"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`

	TLSEnabled bool   `yaml:"tls_enabled"`
	TLSCert    string `yaml:"tls_cert"`
	TLSKey     string `yaml:"tls_key"`
}

// ToPoolConfig builds a pool.PoolConfig ready for pool.New, resolving the
// optional TLS material into a *tls.Config.
func (pc PoolConfig) ToPoolConfig() (pool.PoolConfig, error) {
	cfg := pool.PoolConfig{
		Hostname: pc.Host,
		Port:     pc.Port,
		Handshake: session.HandshakeParams{
			Username: pc.Username,
			Password: pc.Password,
			DBName:   pc.DBName,
		},
		Capacity:     pc.Capacity,
		MaxNumTries:  pc.MaxNumTries,
		BetweenTries: pc.BetweenTries,
		WaitTimeout:  pc.WaitTimeout,
	}

	if pc.TLSEnabled {
		tlsCfg := &tls.Config{ServerName: pc.Host}
		if pc.TLSCert != "" && pc.TLSKey != "" {
			cert, err := tls.LoadX509KeyPair(pc.TLSCert, pc.TLSKey)
			if err != nil {
				return pool.PoolConfig{}, fmt.Errorf("loading TLS keypair: %w", err)
			}
			tlsCfg.Certificates = []tls.Certificate{cert}
		}
		cfg.TLS = tlsCfg
	}

	return cfg, nil
}

// Redacted returns a copy of the PoolConfig with the password masked, for
// safe logging (mirrors the teacher's TenantConfig.Redacted).
func (pc PoolConfig) Redacted() PoolConfig {
	c := pc
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable values.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.Bind == "" {
		cfg.API.Bind = "127.0.0.1"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.Pool.Capacity == 0 {
		cfg.Pool.Capacity = pool.DefaultCapacity
	}
	if cfg.Pool.MaxNumTries == 0 {
		cfg.Pool.MaxNumTries = pool.DefaultMaxNumTries
	}
	if cfg.Pool.BetweenTries == 0 {
		cfg.Pool.BetweenTries = pool.DefaultBetweenTries
	}
	if cfg.Pool.WaitTimeout == 0 {
		cfg.Pool.WaitTimeout = pool.DefaultWaitTimeout
	}
}

func validate(cfg *Config) error {
	if cfg.Pool.Host == "" {
		return fmt.Errorf("pool: host is required")
	}
	if cfg.Pool.Port == "" {
		return fmt.Errorf("pool: port is required")
	}
	if cfg.Pool.Username == "" {
		return fmt.Errorf("pool: username is required")
	}
	if cfg.Pool.TLSEnabled && (cfg.Pool.TLSCert != "") != (cfg.Pool.TLSKey != "") {
		return fmt.Errorf("pool: tls_cert and tls_key must both be set or both be empty")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the new config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	// Debounce timer to avoid rapid reloads
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
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
