package config

import (
	"os"
	"strconv"
	"time"
)

// SettlementConfig holds the tunables for balance derivation and payout
// settlement. SettlementDelay is the grace period after capture before funds
// become sweepable, absorbing late refunds and disputes.
type SettlementConfig struct {
	SettlementDelay      time.Duration
	DefaultCommissionBps int64
	DefaultCurrency      string
	PendingResolveAfter  time.Duration
	ReconcileWindow      time.Duration
	IdempotencyTTL       time.Duration
}

func LoadSettlementConfig() *SettlementConfig {
	return &SettlementConfig{
		SettlementDelay:      getEnvAsDuration("SETTLEMENT_DELAY", 7*24*time.Hour),
		DefaultCommissionBps: getEnvAsInt64("DEFAULT_COMMISSION_BPS", 2000),
		DefaultCurrency:      getEnv("DEFAULT_CURRENCY", "USD"),
		PendingResolveAfter:  getEnvAsDuration("PAYOUT_PENDING_RESOLVE_AFTER", 1*time.Hour),
		ReconcileWindow:      getEnvAsDuration("RECONCILE_WINDOW", 24*time.Hour),
		IdempotencyTTL:       getEnvAsDuration("PAYOUT_IDEMPOTENCY_TTL", 48*time.Hour),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
