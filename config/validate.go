package config

import (
	"fmt"
	"net"
	"strings"

	"salechain/crypto"
)

// Validate checks the fields Load cannot default.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config required")
	}
	for name, addr := range map[string]string{"RPCAddress": c.RPCAddress, "MetricsAddress": c.MetricsAddress, "HealthAddress": c.HealthAddress} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.RPCRateLimit < 0 {
		return fmt.Errorf("RPCRateLimit must not be negative")
	}
	if c.RPCRateBurst < 1 {
		return fmt.Errorf("RPCRateBurst must be at least 1")
	}
	if c.RPCReadTimeout < 0 || c.RPCWriteTimeout < 0 {
		return fmt.Errorf("RPC timeouts must not be negative")
	}
	if raw := strings.TrimSpace(c.SaleProgramID); raw != "" {
		if _, err := crypto.DecodeAddress(raw); err != nil {
			return fmt.Errorf("SaleProgramID: %w", err)
		}
	}
	switch c.DatabaseBackend {
	case "leveldb", "bolt":
	default:
		return fmt.Errorf("DatabaseBackend %q is not one of leveldb, bolt", c.DatabaseBackend)
	}
	if c.JWT.Enable && strings.TrimSpace(c.JWT.HMACSecretEnv) == "" {
		return fmt.Errorf("jwt.HMACSecretEnv is required when jwt.Enable is set")
	}
	if c.JWT.ClockSkewSeconds < 0 {
		return fmt.Errorf("jwt.ClockSkewSeconds must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.SampleRatio must be within [0,1]")
	}
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.Level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}
