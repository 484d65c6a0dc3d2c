package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"salechain/crypto"
	"salechain/observability/logging"
	"salechain/observability/otel"
)

const (
	DefaultDataDir        = "./sale-data"
	DefaultRPCAddress     = "127.0.0.1:8899"
	DefaultMetricsAddress = "127.0.0.1:9464"
	DefaultHealthAddress  = "127.0.0.1:9465"
	DefaultNetworkName    = "sale-local"
	DefaultRPCRateLimit   = 20.0
	DefaultRPCRateBurst   = 40
	DefaultRPCTimeout     = 15
	DefaultLogMaxSizeMB   = 100
	DefaultLogMaxBackups  = 5
	DefaultJWTClockSkew   = 120
	indexerFileName       = "purchases.db"
	databaseDirName       = "ledger"
	boltFileName          = "ledger.bolt"
)

// Config is the on-disk node configuration.
type Config struct {
	DataDir        string `toml:"DataDir"`
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	// HealthAddress serves the gRPC health checking protocol.
	HealthAddress string `toml:"HealthAddress"`
	NetworkName   string `toml:"NetworkName"`
	GenesisFile   string `toml:"GenesisFile"`
	// DatabaseBackend is "leveldb" or "bolt".
	DatabaseBackend string `toml:"DatabaseBackend"`
	// SaleProgramID overrides the address the sale program is registered at.
	SaleProgramID string `toml:"SaleProgramID"`
	// IndexerDSN is the SQLite DSN of the purchase index; empty selects a
	// file inside DataDir.
	IndexerDSN string `toml:"IndexerDSN"`
	// RPCTokenEnv names the environment variable holding the bearer token
	// required for tx_send. Submission is open when it is empty or unset.
	RPCTokenEnv     string  `toml:"RPCTokenEnv"`
	RPCRateLimit    float64 `toml:"RPCRateLimit"`
	RPCRateBurst    int     `toml:"RPCRateBurst"`
	RPCReadTimeout  int     `toml:"RPCReadTimeout"`
	RPCWriteTimeout int     `toml:"RPCWriteTimeout"`
	LamportsPerByte uint64  `toml:"LamportsPerByte"`
	// RPCAllowedOrigins is a comma separated list of websocket origin
	// patterns for the event stream. Empty allows any origin.
	RPCAllowedOrigins string `toml:"RPCAllowedOrigins"`

	JWT       JWT       `toml:"jwt"`
	Log       Log       `toml:"log"`
	Telemetry Telemetry `toml:"telemetry"`
}

// JWT configures HS256 bearer tokens for transaction submission.
type JWT struct {
	Enable bool `toml:"Enable"`
	// HMACSecretEnv names the environment variable holding the shared secret.
	HMACSecretEnv    string `toml:"HMACSecretEnv"`
	Issuer           string `toml:"Issuer"`
	Audience         string `toml:"Audience"`
	Scope            string `toml:"Scope"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

// Log configures structured logging.
type Log struct {
	Level       string `toml:"Level"`
	Environment string `toml:"Environment"`
	File        string `toml:"File"`
	MaxSizeMB   int    `toml:"MaxSizeMB"`
	MaxBackups  int    `toml:"MaxBackups"`
}

// Telemetry configures OTLP export.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	SampleRatio float64 `toml:"SampleRatio"`
	// Headers uses the OTEL_EXPORTER_OTLP_HEADERS form: k1=v1,k2=v2.
	Headers string `toml:"Headers"`
}

// Load reads the configuration at path. A missing file is created with
// defaults. Unknown keys are rejected so typos do not silently fall back.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = DefaultRPCAddress
	}
	if strings.TrimSpace(c.DatabaseBackend) == "" {
		c.DatabaseBackend = "leveldb"
	}
	if c.JWT.ClockSkewSeconds == 0 {
		c.JWT.ClockSkewSeconds = DefaultJWTClockSkew
	}
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = DefaultMetricsAddress
	}
	if strings.TrimSpace(c.HealthAddress) == "" {
		c.HealthAddress = DefaultHealthAddress
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = DefaultNetworkName
	}
	if c.RPCRateLimit == 0 {
		c.RPCRateLimit = DefaultRPCRateLimit
	}
	if c.RPCRateBurst == 0 {
		c.RPCRateBurst = DefaultRPCRateBurst
	}
	if c.RPCReadTimeout == 0 {
		c.RPCReadTimeout = DefaultRPCTimeout
	}
	if c.RPCWriteTimeout == 0 {
		c.RPCWriteTimeout = DefaultRPCTimeout
	}
	if c.LamportsPerByte == 0 {
		c.LamportsPerByte = 6960
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = DefaultLogMaxBackups
	}
	if strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		c.Telemetry.Endpoint = otel.DefaultEndpoint
	}
}

// DatabasePath is the ledger location inside DataDir: a directory for
// LevelDB, a single file for bolt.
func (c *Config) DatabasePath() string {
	if c.DatabaseBackend == "bolt" {
		return filepath.Join(c.DataDir, boltFileName)
	}
	return filepath.Join(c.DataDir, databaseDirName)
}

// AllowedOrigins splits RPCAllowedOrigins.
func (c *Config) AllowedOrigins() []string {
	var out []string
	for _, part := range strings.Split(c.RPCAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// JWTSecret reads the HMAC secret from the configured variable.
func (c *Config) JWTSecret() string {
	if c.JWT.HMACSecretEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.JWT.HMACSecretEnv))
}

// IndexerPath returns the DSN of the purchase index.
func (c *Config) IndexerPath() string {
	if dsn := strings.TrimSpace(c.IndexerDSN); dsn != "" {
		return dsn
	}
	return filepath.Join(c.DataDir, indexerFileName)
}

// ProgramID resolves SaleProgramID, returning fallback when it is unset.
func (c *Config) ProgramID(fallback crypto.Address) (crypto.Address, error) {
	raw := strings.TrimSpace(c.SaleProgramID)
	if raw == "" {
		return fallback, nil
	}
	return crypto.DecodeAddress(raw)
}

// RPCToken reads the submission bearer token from the configured variable.
func (c *Config) RPCToken() string {
	if c.RPCTokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.RPCTokenEnv))
}

// LoggingOptions converts the log section for logging.Setup.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
	}
}

// TelemetryConfig converts the telemetry section for otel.Init.
func (c *Config) TelemetryConfig(service string) otel.Config {
	return otel.Config{
		ServiceName: service,
		Environment: c.Log.Environment,
		Endpoint:    c.Telemetry.Endpoint,
		Insecure:    c.Telemetry.Insecure,
		Headers:     otel.ParseHeaders(c.Telemetry.Headers),
		Metrics:     c.Telemetry.Metrics,
		Traces:      c.Telemetry.Traces,
		SampleRatio: c.Telemetry.SampleRatio,
	}
}

func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as TOML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config required")
	}
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
