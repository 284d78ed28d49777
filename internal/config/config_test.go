package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadPolicyDefaults(t *testing.T) {
	t.Setenv("TAX_RATE_PERCENT", "")
	t.Setenv("UNDERWRITING_MAX_DAYS", "")
	t.Setenv("SNAPSHOT_HOUR", "")
	t.Setenv("SERVICE_SWEEP_HOUR", "")

	cfg := Load()
	if cfg.TaxRatePercent != 6 {
		t.Fatalf("TaxRatePercent = %v, want 6", cfg.TaxRatePercent)
	}
	if cfg.UnderwritingMaxDays != 3 {
		t.Fatalf("UnderwritingMaxDays = %d, want 3", cfg.UnderwritingMaxDays)
	}
	if cfg.SnapshotHour != 9 || cfg.ServiceSweepHour != 21 {
		t.Fatalf("schedule hours = %d/%d, want 9/21", cfg.SnapshotHour, cfg.ServiceSweepHour)
	}
}

func TestLoadRejectsBadHours(t *testing.T) {
	t.Setenv("SNAPSHOT_HOUR", "25")
	cfg := Load()
	if cfg.SnapshotHour != 9 {
		t.Fatalf("SnapshotHour = %d, want fallback 9", cfg.SnapshotHour)
	}
}
