package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")
	t.Setenv("SUMMARY_CACHE_TTL_SECONDS", "-5")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected fallback token TTL 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.SummaryCacheTTLSeconds != 30 {
		t.Fatalf("expected fallback summary TTL 30, got %d", cfg.SummaryCacheTTLSeconds)
	}
}

func TestAddress(t *testing.T) {
	t.Setenv("PORT", "9090")
	if got := Load().Address(); got != ":9090" {
		t.Fatalf("expected :9090, got %s", got)
	}
}
