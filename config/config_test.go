package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range []string{"REDIS_ADDR", "SCAN_TIMEOUT", "SCAN_WORKERS", "RATE_LIMIT_WINDOW", "API_KEY"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.ScanTimeout != DefaultTimeout {
		t.Errorf("ScanTimeout = %v, want %v", cfg.ScanTimeout, DefaultTimeout)
	}
	if cfg.ScanWorkers != 50 {
		t.Errorf("ScanWorkers = %d", cfg.ScanWorkers)
	}
	if cfg.RateLimitWindow != time.Minute {
		t.Errorf("RateLimitWindow = %v", cfg.RateLimitWindow)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SCAN_TIMEOUT", "1.5")
	t.Setenv("SCAN_WORKERS", "8")
	t.Setenv("HOSTINFO_CACHE_TTL", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ScanTimeout != 1500*time.Millisecond {
		t.Errorf("ScanTimeout = %v", cfg.ScanTimeout)
	}
	if cfg.ScanWorkers != 8 {
		t.Errorf("ScanWorkers = %d", cfg.ScanWorkers)
	}
	if cfg.HostInfoTTL != 10*time.Minute {
		t.Errorf("HostInfoTTL = %v", cfg.HostInfoTTL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Chdir(t.TempDir())
	cases := map[string]string{
		"SCAN_WORKERS":      "many",
		"SCAN_TIMEOUT":      "101",
		"RATE_LIMIT_WINDOW": "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
		})
	}
}

func TestTimeoutFromSeconds(t *testing.T) {
	got, err := TimeoutFromSeconds(0.1)
	if err != nil || got != 100*time.Millisecond {
		t.Fatalf("TimeoutFromSeconds(0.1) = %v, %v", got, err)
	}
	if _, err := TimeoutFromSeconds(-1); err == nil {
		t.Fatal("expected error for negative timeout")
	}
}
