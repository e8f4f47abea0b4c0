package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantumsenses/go-deploy-cache/internal/backend"
	"github.com/quantumsenses/go-deploy-cache/internal/config"
)

func sqliteConfig(t *testing.T) config.Config {
	t.Helper()
	t.Setenv("BACKEND_MODE", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "app.db"))
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	return cfg
}

func TestNewWiresEverything(t *testing.T) {
	a, err := New(context.Background(), sqliteConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(context.Background())

	if a.Messages == nil || a.Containers == nil || a.Registry == nil || a.Staging == nil {
		t.Fatal("cache layer not wired")
	}
	if a.Pipeline == nil || a.Reconciler == nil || a.Server == nil {
		t.Fatal("pipeline, reconciler, or server not wired")
	}
	if _, ok := a.Backend.(*backend.SQLiteBackend); !ok {
		t.Fatalf("backend mode sqlite produced %T", a.Backend)
	}
	if _, ok := a.Creds.(backend.StaticCredentialProvider); !ok {
		t.Fatalf("sqlite mode credential provider is %T", a.Creds)
	}
}

func TestNewHTTPMode(t *testing.T) {
	t.Setenv("BACKEND_MODE", "http")
	t.Setenv("SERVER_API_URL", "https://api.example.com")
	t.Setenv("SERVICE_USERNAME", "svc")
	t.Setenv("SERVICE_PASSWORD", "secret")
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(context.Background())

	if _, ok := a.Backend.(*backend.HTTPBackend); !ok {
		t.Fatalf("backend mode http produced %T", a.Backend)
	}
}

func TestStartSyncIsOneShot(t *testing.T) {
	a, err := New(context.Background(), sqliteConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Both calls must be safe; only one loop may start.
	a.StartSync(ctx)
	a.StartSync(ctx)

	cancel()
	time.Sleep(20 * time.Millisecond)
}
