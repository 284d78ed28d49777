package main

import (
	"testing"
	"time"

	"lotledger/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongSecret(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestUntilNextHour(t *testing.T) {
	now := time.Date(2026, time.March, 5, 8, 30, 0, 0, time.UTC)

	if got := untilNextHour(now, 9); got != 30*time.Minute {
		t.Fatalf("expected 30m until 09:00, got %s", got)
	}
	if got := untilNextHour(now, 8); got != 23*time.Hour+30*time.Minute {
		t.Fatalf("expected 23h30m until next 08:00, got %s", got)
	}

	// Exactly on the hour rolls to the next day instead of firing twice.
	onTheHour := time.Date(2026, time.March, 5, 9, 0, 0, 0, time.UTC)
	if got := untilNextHour(onTheHour, 9); got != 24*time.Hour {
		t.Fatalf("expected 24h on the hour, got %s", got)
	}
}
