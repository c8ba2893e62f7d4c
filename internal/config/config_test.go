package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Identity.Mode != "gateway" {
		t.Errorf("identity mode = %q, want gateway", cfg.Identity.Mode)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("store driver = %q, want postgres", cfg.Store.Driver)
	}
	if cfg.EventBus.HandlerTimeout != 30*time.Second {
		t.Errorf("handler timeout = %v, want 30s", cfg.EventBus.HandlerTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
store:
  driver: memory
eventbus:
  service_name: flowcore-test
  drain_timeout: 3s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.EventBus.ServiceName != "flowcore-test" {
		t.Errorf("service name = %q, want flowcore-test", cfg.EventBus.ServiceName)
	}
	if cfg.EventBus.DrainTimeout != 3*time.Second {
		t.Errorf("drain timeout = %v, want 3s", cfg.EventBus.DrainTimeout)
	}
	// Untouched fields keep their defaults.
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("read timeout = %v, want default 30s", cfg.Server.ReadTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateJWTModeRequiresIssuer(t *testing.T) {
	cfg := Defaults()
	cfg.Identity.Mode = "jwt"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("jwt mode without issuer, jwks_url, and audience should fail")
	}

	cfg.Identity.Issuer = "https://auth.example.com"
	cfg.Identity.JWKSURL = "https://auth.example.com/jwks"
	cfg.Identity.Audience = "flowcore"
	if err := cfg.Validate(); err != nil {
		t.Errorf("fully configured jwt mode should validate: %v", err)
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Driver = "cassandra"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown store driver should fail validation")
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("port 0 should fail validation")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWCORE_SERVER_PORT", "7070")
	t.Setenv("FLOWCORE_STORE_DRIVER", "memory")
	t.Setenv("FLOWCORE_IDENTITY_MODE", "gateway")

	path := writeConfig(t, `
server:
  port: 9090
store:
  driver: postgres
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override 7070", cfg.Server.Port)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("driver = %q, want env override memory", cfg.Store.Driver)
	}
}
