package config

// Staking configures the staking engine and its reward pool.
type Staking struct {
	// CustodyAddress holds locked licenses and funds payouts.
	CustodyAddress       string `toml:"CustodyAddress"`
	EpochDurationSeconds uint64 `toml:"EpochDurationSeconds"`
	DecayRatePercent     uint8  `toml:"DecayRatePercent"`
	// InitialPool is a base-10 amount of the reward token.
	InitialPool   string `toml:"InitialPool"`
	ClaimWindow   uint64 `toml:"ClaimWindow"`
	HistoryLength uint64 `toml:"HistoryLength"`
	// GenesisUnix opens the first epoch. Zero means the first start.
	GenesisUnix int64 `toml:"GenesisUnix"`
	// FundCustody mints the total emission of the decaying pool schedule to
	// the custody address on first start. With a zero decay rate only
	// InitialPool is minted and custody must be topped up with
	// POST /v1/admin/fund.
	FundCustody bool `toml:"FundCustody"`
}

// RPC configures the HTTP API.
type RPC struct {
	// JWTSecretEnv names the environment variable holding the HS256 secret.
	JWTSecretEnv        string   `toml:"JWTSecretEnv"`
	JWTIssuer           string   `toml:"JWTIssuer"`
	RateLimitPerSecond  float64  `toml:"RateLimitPerSecond"`
	RateLimitBurst      int      `toml:"RateLimitBurst"`
	ReadHeaderTimeout   uint64   `toml:"ReadHeaderTimeout"`
	WriteTimeout        uint64   `toml:"WriteTimeout"`
	TrustedProxies      []string `toml:"TrustedProxies"`
	TrustProxyHeaders   bool     `toml:"TrustProxyHeaders"`
	MaxRequestBodyBytes int64    `toml:"MaxRequestBodyBytes"`
}

// Logging configures structured log output.
type Logging struct {
	Environment string `toml:"Environment"`
	// File enables rotated file output in addition to stdout.
	File string `toml:"File"`
}

// Telemetry configures OpenTelemetry export.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	// Headers is a comma-separated key=value list sent with every export.
	Headers string `toml:"Headers"`
	Metrics bool   `toml:"Metrics"`
	Traces  bool   `toml:"Traces"`

	// SampleRatio is the share of root spans exported. Zero exports all.
	SampleRatio float64 `toml:"SampleRatio"`
}

// Indexer configures the event archive.
type Indexer struct {
	// DSN is a SQLite path or a postgres:// URL. Empty disables the archive.
	DSN string `toml:"DSN"`
}
