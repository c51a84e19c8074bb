package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pool.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
api:
  bind: 0.0.0.0
  port: 9090

pool:
  host: db.internal
  port: "3306"
  dbname: app
  username: app_user
  password: secret
  capacity: 8
  max_num_tries: 5
  between_tries: 250ms
  wait_timeout: 3s
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Bind != "0.0.0.0" || cfg.API.Port != 9090 {
		t.Errorf("unexpected API config: %+v", cfg.API)
	}
	if cfg.Pool.Host != "db.internal" || cfg.Pool.Port != "3306" {
		t.Errorf("unexpected pool endpoint: %+v", cfg.Pool)
	}
	if cfg.Pool.Capacity != 8 {
		t.Errorf("expected capacity 8, got %d", cfg.Pool.Capacity)
	}
	if cfg.Pool.MaxNumTries != 5 {
		t.Errorf("expected max_num_tries 5, got %d", cfg.Pool.MaxNumTries)
	}
	if cfg.Pool.BetweenTries != 250*time.Millisecond {
		t.Errorf("expected between_tries 250ms, got %v", cfg.Pool.BetweenTries)
	}
	if cfg.Pool.WaitTimeout != 3*time.Second {
		t.Errorf("expected wait_timeout 3s, got %v", cfg.Pool.WaitTimeout)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	yaml := `
pool:
  host: db.internal
  port: "3306"
  username: app_user
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Bind != "127.0.0.1" {
		t.Errorf("expected default API bind, got %q", cfg.API.Bind)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("expected default API port 8080, got %d", cfg.API.Port)
	}
	if cfg.Pool.Capacity != 1 {
		t.Errorf("expected default capacity 1, got %d", cfg.Pool.Capacity)
	}
	if cfg.Pool.MaxNumTries != 10 {
		t.Errorf("expected default max_num_tries 10, got %d", cfg.Pool.MaxNumTries)
	}
	if cfg.Pool.BetweenTries != 1000*time.Millisecond {
		t.Errorf("expected default between_tries 1s, got %v", cfg.Pool.BetweenTries)
	}
	if cfg.Pool.WaitTimeout != 10*time.Second {
		t.Errorf("expected default wait_timeout 10s, got %v", cfg.Pool.WaitTimeout)
	}
}

func TestLoadValidatesRequiredFields(t *testing.T) {
	cases := []string{
		"pool:\n  port: \"3306\"\n  username: u\n",
		"pool:\n  host: db.internal\n  username: u\n",
		"pool:\n  host: db.internal\n  port: \"3306\"\n",
	}
	for _, yaml := range cases {
		path := writeTemp(t, yaml)
		if _, err := Load(path); err == nil {
			t.Errorf("expected validation error for config %q", yaml)
		}
	}
}

func TestLoadEnvVarSubstitution(t *testing.T) {
	t.Setenv("POOL_PASSWORD", "from_env")

	yaml := `
pool:
  host: db.internal
  port: "3306"
  username: app_user
  password: ${POOL_PASSWORD}
`
	path := writeTemp(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pool.Password != "from_env" {
		t.Errorf("expected password from env, got %q", cfg.Pool.Password)
	}
}

func TestPoolConfigRedacted(t *testing.T) {
	pc := PoolConfig{Password: "secret"}
	r := pc.Redacted()
	if r.Password == "secret" {
		t.Error("expected password to be redacted")
	}
	if pc.Password != "secret" {
		t.Error("Redacted must not mutate the receiver")
	}
}

func TestPoolConfigToPoolConfig(t *testing.T) {
	pc := PoolConfig{
		Host:     "db.internal",
		Port:     "3306",
		DBName:   "app",
		Username: "app_user",
		Password: "secret",
		Capacity: 4,
	}

	out, err := pc.ToPoolConfig()
	if err != nil {
		t.Fatalf("ToPoolConfig failed: %v", err)
	}
	if out.Hostname != pc.Host || out.Port != pc.Port {
		t.Errorf("unexpected endpoint: %+v", out)
	}
	if out.Handshake.Username != pc.Username || out.Handshake.DBName != pc.DBName {
		t.Errorf("unexpected handshake params: %+v", out.Handshake)
	}
	if out.Capacity != pc.Capacity {
		t.Errorf("expected capacity %d, got %d", pc.Capacity, out.Capacity)
	}
	if out.TLS != nil {
		t.Error("expected no TLS config when tls_enabled is false")
	}
}
