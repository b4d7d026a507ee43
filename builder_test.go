package goSession

import (
	"strings"
	"testing"
)

func TestBuildRequiresPrincipalStore(t *testing.T) {
	_, rdb := newTestRedis(t)

	_, err := New().WithConfig(testConfig()).WithRedis(rdb).Build()
	if err == nil || !strings.Contains(err.Error(), "principal store") {
		t.Fatalf("expected principal store error, got %v", err)
	}
}

func TestBuildRequiresRefreshBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.Enabled = false
	cfg.Blacklist.Enabled = false

	_, err := New().WithConfig(cfg).WithPrincipalStore(newMemPrincipals()).Build()
	if err == nil || !strings.Contains(err.Error(), "refresh store") {
		t.Fatalf("expected refresh store error, got %v", err)
	}
}

func TestBuildLockoutNeedsRedis(t *testing.T) {
	_, err := New().
		WithConfig(testConfig()).
		WithSQL(newTestSQLiteDB(t)).
		WithPrincipalStore(newMemPrincipals()).
		Build()
	if err == nil || !strings.Contains(err.Error(), "lockout requires redis") {
		t.Fatalf("expected lockout error, got %v", err)
	}
}

func TestBuildOnce(t *testing.T) {
	_, rdb := newTestRedis(t)
	b := New().WithConfig(testConfig()).WithRedis(rdb).WithPrincipalStore(newMemPrincipals())

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuildWithoutRedisWhenStateless(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.Enabled = false
	cfg.Blacklist.Enabled = false
	cfg.Sweep.Enabled = true

	engine, err := New().
		WithConfig(cfg).
		WithSQL(newTestSQLiteDB(t)).
		WithPrincipalStore(newMemPrincipals()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine.Close()
	engine.Close()
}
