package utils

import (
	"context"
	"testing"
	"time"
)

func TestLockScriptsInitialized(t *testing.T) {
	if lockReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestLockHelpers_ValidateArgs(t *testing.T) {
	ctx := context.Background()
	if _, err := AcquireLock(ctx, nil, "k", "t", time.Second); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if _, err := ReleaseLock(ctx, nil, "k", "t"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfig_Defaults(t *testing.T) {
	got := RedisConfig{Addr: "localhost:6379", PoolSize: 3}.withDefaults()
	if got.PoolSize != 3 || got.DialTimeout != 3*time.Second || got.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected config %+v", got)
	}
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	if _, err := OpenRedis(context.Background(), RedisConfig{}); err == nil {
		t.Fatalf("expected error without addr")
	}
}
