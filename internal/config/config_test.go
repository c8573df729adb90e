package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callmerge"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validConfig()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "callmerge"
	c.Auth.JWTAudience = "ops"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validConfig()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Merge.Schedule != "@every 1m" || c.Merge.PassTimeout != 2*time.Minute || c.Merge.LockTTL != 5*time.Minute {
		t.Fatalf("unexpected merge defaults %+v", c.Merge)
	}
	if c.Merge.IVRDedup != "adjacent" || c.Merge.PageSize != 5000 || c.Merge.LockKey != "callmerge:pass" {
		t.Fatalf("unexpected merge defaults %+v", c.Merge)
	}
	if !c.Merge.LockRedis || c.Auth.TokenTTL != time.Hour {
		t.Fatalf("expected redis lock and 1h token ttl, got %+v %+v", c.Merge, c.Auth)
	}
}

func TestValidate_LockMustOutlivePass(t *testing.T) {
	c := validConfig()
	c.Merge.PassTimeout = 10 * time.Minute
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "MERGE_LOCK_TTL") {
		t.Fatalf("expected lock ttl error, got %v", err)
	}
}

func TestValidate_RejectsUnknownDedup(t *testing.T) {
	c := validConfig()
	c.Merge.IVRDedup = "fuzzy"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected dedup error")
	}
}

func TestValidate_NormalizesDedup(t *testing.T) {
	c := validConfig()
	c.Merge.IVRDedup = " Global "
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Merge.IVRDedup != "global" {
		t.Fatalf("expected normalized mode, got %q", c.Merge.IVRDedup)
	}
}

func TestValidate_RedisOptionalOutsideProduction(t *testing.T) {
	c := validConfig()
	c.Redis = RedisConfig{}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Merge.LockRedis {
		t.Fatalf("expected no redis lock without host")
	}
}

func TestLoad_FromEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := strings.Join([]string{
		"APP_ENV=dev",
		"APP_PORT=9090",
		"DB_HOST=db",
		"DB_PORT=5432",
		"DB_USER=merge",
		"DB_NAME=calls",
		"JWT_SECRET=s3cret",
		"MERGE_SCHEDULE=*/5 * * * *",
		"MERGE_IVR_DEDUP=global",
		"MERGE_PASS_TIMEOUT=30s",
		"MERGE_LOCK_TTL=1m",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	for _, k := range []string{"APP_ENV", "APP_PORT", "DB_HOST", "DB_PORT", "DB_USER", "DB_NAME", "JWT_SECRET", "MERGE_SCHEDULE", "MERGE_IVR_DEDUP", "MERGE_PASS_TIMEOUT", "MERGE_LOCK_TTL", "REDIS_HOST"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("ENV_FILE", path)

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.App.Port != 9090 || c.DB.Host != "db" || c.Merge.Schedule != "*/5 * * * *" || c.Merge.IVRDedup != "global" {
		t.Fatalf("unexpected config %+v", c)
	}
	if c.Merge.PassTimeout != 30*time.Second || c.Merge.LockTTL != time.Minute {
		t.Fatalf("unexpected durations %+v", c.Merge)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("ENV_FILE", "")
	t.Setenv("APP_PORT", "8080")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("MERGE_PASS_TIMEOUT", "soon")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "MERGE_PASS_TIMEOUT") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	c := validConfig()
	_ = c.Validate()
	if dsn := c.PostgresDSN(); !strings.Contains(dsn, "sslmode=disable") || !strings.Contains(dsn, "dbname=callmerge") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	if c.RedisAddr() != "localhost:6379" {
		t.Fatalf("unexpected redis addr %q", c.RedisAddr())
	}
}
