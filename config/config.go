// Package config loads the strategy configuration file (§6): the YAML
// document naming the cycle, venue, risk thresholds, order/monitoring
// tuning, and panic-sell routing parameters for one running strategy.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/evanward/triarb/internal/coordinator"
	"github.com/evanward/triarb/internal/decision"
	"github.com/evanward/triarb/internal/domain"
	"github.com/evanward/triarb/internal/engine"
	"github.com/evanward/triarb/internal/risk"
	"github.com/evanward/triarb/internal/router"
	"github.com/evanward/triarb/internal/simfill"
	"github.com/evanward/triarb/internal/store"
)

// Config is the full strategy configuration, unmarshaled directly from the
// YAML file named by §6.
type Config struct {
	Name     string `yaml:"name"`
	Exchange string `yaml:"exchange"`

	MinProfitBps     int `yaml:"min_profit_bps"`
	MaxSlippageBps   int `yaml:"max_slippage_bps"`
	MaxLegLatencyMS  int `yaml:"max_leg_latency_ms"`

	CapitalAllocation CapitalAllocation `yaml:"capital_allocation"`
	RiskControls      RiskControls      `yaml:"risk_controls"`
	Order             OrderConfig       `yaml:"order"`
	PanicSell         PanicSellConfig   `yaml:"panic_sell"`

	TradingPairsFile string `yaml:"trading_pairs_file"`

	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
	Venue      VenueConfig      `yaml:"venue"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// CapitalAllocation is either {mode: fixed_fraction, fraction} or
// {mode: fixed_amount, amount}.
type CapitalAllocation struct {
	Mode     string  `yaml:"mode"`
	Fraction float64 `yaml:"fraction"`
	Amount   float64 `yaml:"amount"`
}

// AllocationFor resolves the per-cycle initial amount given the strategy's
// total available balance in its base currency.
func (c CapitalAllocation) AllocationFor(availableBalance float64) float64 {
	if c.Mode == "fixed_amount" {
		return c.Amount
	}
	return availableBalance * c.Fraction
}

type RiskControls struct {
	MaxOpenCycles               int     `yaml:"max_open_cycles"`
	StopAfterConsecutiveLosses  int     `yaml:"stop_after_consecutive_losses"`
	SlippageCooldownSeconds     float64 `yaml:"slippage_cooldown_seconds"`
	EnableLatencyChecks         bool    `yaml:"enable_latency_checks"`
	EnableSlippageChecks        bool    `yaml:"enable_slippage_checks"`
	MaxPositionUSD              float64 `yaml:"max_position_usd"`
	VolatilityWindowSize        int     `yaml:"volatility_window_size"`
	SigmaMultiplier             float64 `yaml:"sigma_multiplier"`
}

type MonitoringConfig struct {
	InitialDelayMS         int     `yaml:"initial_delay_ms"`
	MaxDelayMS             int     `yaml:"max_delay_ms"`
	BackoffMultiplier      float64 `yaml:"backoff_multiplier"`
	JitterFactor           float64 `yaml:"jitter_factor"`
	RapidCheckThresholdMS  int     `yaml:"rapid_check_threshold_ms"`
	RapidCheckIntervalMS   int     `yaml:"rapid_check_interval_ms"`
	RateLimitBuffer        float64 `yaml:"rate_limit_buffer"`
	MinRequestIntervalMS   int     `yaml:"min_request_interval_ms"`
	CacheTTLMS             int     `yaml:"cache_ttl_ms"`
}

type OrderConfig struct {
	Type                     string           `yaml:"type"` // market | limit
	AllowPartialFills        bool             `yaml:"allow_partial_fills"`
	MinPartialFillPercentage float64          `yaml:"min_partial_fill_percentage"`
	MaxRetries               int              `yaml:"max_retries"`
	RetryDelayMS             int              `yaml:"retry_delay_ms"`
	Monitoring               MonitoringConfig `yaml:"monitoring"`
}

type PanicSellConfig struct {
	Enabled                  bool     `yaml:"enabled"`
	BaseCurrencies           []string `yaml:"base_currencies"`
	PreferredIntermediaries  []string `yaml:"preferred_intermediaries"`
	MaxTotalSlippageBps      float64  `yaml:"max_total_slippage_bps"`
	MaxSingleHopSlippageBps  float64  `yaml:"max_single_hop_slippage_bps"`
	MaxHops                  int      `yaml:"max_hops"`
	MinLiquidityUSD          float64  `yaml:"min_liquidity_usd"`
	RetryAttempts            int      `yaml:"retry_attempts"`
	PartialFillThreshold     float64  `yaml:"partial_fill_threshold"`
}

type StorageConfig struct {
	DSN              string `yaml:"dsn"`
	CooldownPath     string `yaml:"cooldown_path"`
	ViolationLogPath string `yaml:"violation_log_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// VenueConfig names which adapter backs this strategy run and, for Live,
// where its REST API and credentials live.
type VenueConfig struct {
	Mode              string  `yaml:"mode"` // live | paper | backtest
	BaseURL           string  `yaml:"base_url"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BacktestFeedPath  string  `yaml:"backtest_feed_path"`
	RandomSeed        int64   `yaml:"random_seed"`

	// APIKey/APISecret are never read from YAML — only from
	// TRIARB_API_KEY/TRIARB_API_SECRET, so credentials never land in a
	// checked-in strategy file.
	APIKey    string `yaml:"-"`
	APISecret string `yaml:"-"`
}

// SimulationConfig tunes the Paper/Backtest adapters' shared fill
// simulator (internal/simfill) and seeds their starting balances; §6
// names these only at the interface level, so field names and defaults
// follow internal/simfill.Config directly.
type SimulationConfig struct {
	FeeBps           float64            `yaml:"fee_bps"`
	FillRatio        float64            `yaml:"fill_ratio"`
	SpreadPaddingBps float64            `yaml:"spread_padding_bps"`
	LatencySimMS     int                `yaml:"latency_sim_ms"`
	RandomSeed       int64              `yaml:"random_seed"`
	InitialBalances  map[string]float64 `yaml:"initial_balances"`
}

// Load reads path (YAML), applies an optional .env file's overrides, and
// fills every optional field with its spec-named default — mirroring the
// teacher's config.Load: godotenv.Load, yaml.Unmarshal, applyEnvOverrides,
// setDefaults, in that order.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	if cfg.Name == "" {
		return nil, fmt.Errorf("config.Load: %q: name is required", path)
	}
	if cfg.Exchange == "" {
		return nil, fmt.Errorf("config.Load: %q: exchange is required", path)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overrides log level/format and venue credentials with
// TRIARB_-prefixed environment variables, matching the teacher's
// applyEnvOverrides but namespaced to this module.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRIARB_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("TRIARB_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("TRIARB_VENUE_BASE_URL"); v != "" {
		cfg.Venue.BaseURL = v
	}
	cfg.Venue.APIKey = os.Getenv("TRIARB_API_KEY")
	cfg.Venue.APISecret = os.Getenv("TRIARB_API_SECRET")
}

func setDefaults(cfg *Config) {
	if cfg.MinProfitBps <= 0 {
		cfg.MinProfitBps = 10
	}
	if cfg.MaxSlippageBps <= 0 {
		cfg.MaxSlippageBps = 50
	}
	if cfg.MaxLegLatencyMS <= 0 {
		cfg.MaxLegLatencyMS = 2000
	}
	if cfg.CapitalAllocation.Mode == "" {
		cfg.CapitalAllocation.Mode = "fixed_fraction"
		cfg.CapitalAllocation.Fraction = 0.1
	}

	rc := &cfg.RiskControls
	if rc.MaxOpenCycles <= 0 {
		rc.MaxOpenCycles = 5
	}
	if rc.StopAfterConsecutiveLosses <= 0 {
		rc.StopAfterConsecutiveLosses = 3
	}
	if rc.SlippageCooldownSeconds <= 0 {
		rc.SlippageCooldownSeconds = 60
	}
	if rc.MaxPositionUSD <= 0 {
		rc.MaxPositionUSD = 100000
	}

	o := &cfg.Order
	if o.Type == "" {
		o.Type = "market"
	}
	if o.MinPartialFillPercentage <= 0 {
		o.MinPartialFillPercentage = 0.5
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelayMS <= 0 {
		o.RetryDelayMS = 500
	}

	m := &o.Monitoring
	if m.InitialDelayMS <= 0 {
		m.InitialDelayMS = 200
	}
	if m.MaxDelayMS <= 0 {
		m.MaxDelayMS = 5000
	}
	if m.BackoffMultiplier <= 0 {
		m.BackoffMultiplier = 2.0
	}
	if m.JitterFactor <= 0 {
		m.JitterFactor = 0.2
	}
	if m.RapidCheckThresholdMS <= 0 {
		m.RapidCheckThresholdMS = 1000
	}
	if m.RapidCheckIntervalMS <= 0 {
		m.RapidCheckIntervalMS = 100
	}
	if m.RateLimitBuffer <= 0 {
		m.RateLimitBuffer = 0.8
	}
	if m.MinRequestIntervalMS <= 0 {
		m.MinRequestIntervalMS = 50
	}
	if m.CacheTTLMS <= 0 {
		m.CacheTTLMS = 500
	}

	p := &cfg.PanicSell
	if len(p.BaseCurrencies) == 0 {
		p.BaseCurrencies = []string{"USDT", "USDC", "USD"}
	}
	if p.MaxTotalSlippageBps <= 0 {
		p.MaxTotalSlippageBps = 100
	}
	if p.MaxSingleHopSlippageBps <= 0 {
		p.MaxSingleHopSlippageBps = 50
	}
	if p.MaxHops <= 0 {
		p.MaxHops = 3
	}
	if p.MinLiquidityUSD <= 0 {
		p.MinLiquidityUSD = 1000
	}
	if p.RetryAttempts <= 0 {
		p.RetryAttempts = 3
	}
	if p.PartialFillThreshold <= 0 {
		p.PartialFillThreshold = 0.5
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "triarb.db"
	}
	if cfg.Storage.CooldownPath == "" {
		cfg.Storage.CooldownPath = "cooldowns.json"
	}
	if cfg.Storage.ViolationLogPath == "" {
		cfg.Storage.ViolationLogPath = "violations.log"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Venue.Mode == "" {
		cfg.Venue.Mode = "paper"
	}
	if cfg.Venue.RequestsPerSecond <= 0 {
		cfg.Venue.RequestsPerSecond = 10
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func currencies(codes []string) []domain.Currency {
	out := make([]domain.Currency, len(codes))
	for i, c := range codes {
		out[i] = domain.Normalize(c)
	}
	return out
}

// RiskConfig translates the YAML risk_controls block into risk.Config.
// LatencyMonitor.CheckViolation and SlippageTracker.CheckViolation are
// strict "measured > max" comparisons, so
// disabling a check means raising its ceiling past anything that could be
// measured, not zeroing it (zero would make every measurement a
// violation).
func (c *Config) RiskConfig() risk.Config {
	maxLatency := float64(c.MaxLegLatencyMS)
	if !c.RiskControls.EnableLatencyChecks {
		maxLatency = math.MaxFloat64
	}
	maxSlippage := float64(c.MaxSlippageBps)
	if !c.RiskControls.EnableSlippageChecks {
		maxSlippage = math.MaxFloat64
	}
	return risk.Config{
		Strategy:          c.Name,
		MaxLegLatencyMS:   maxLatency,
		MaxLegSlippageBps: maxSlippage,
		CooldownSeconds:   c.RiskControls.SlippageCooldownSeconds,
		CooldownPath:      c.Storage.CooldownPath,
		ViolationLogPath:  c.Storage.ViolationLogPath,
	}
}

// CoordinatorConfig translates order.monitoring into coordinator.Config.
func (c *Config) CoordinatorConfig() coordinator.Config {
	m := c.Order.Monitoring
	return coordinator.Config{
		MaxRetries:           c.Order.MaxRetries,
		BaseRetryWait:        ms(c.Order.RetryDelayMS),
		RapidCheckThreshold:  ms(m.RapidCheckThresholdMS),
		RapidCheckInterval:   ms(m.RapidCheckIntervalMS),
		InitialDelay:         ms(m.InitialDelayMS),
		BackoffMul:           m.BackoffMultiplier,
		MaxDelay:             ms(m.MaxDelayMS),
		JitterFactor:         m.JitterFactor,
		MinRequestInterval:   ms(m.MinRequestIntervalMS),
		CacheTTL:             ms(m.CacheTTLMS),
		RateLimitBuffer:      m.RateLimitBuffer,
		VenueRateLimitPerSec: c.Venue.RequestsPerSecond,
		MinPartialFillRatio:  c.Order.MinPartialFillPercentage,
		PartialFillsAllowed:  c.Order.AllowPartialFills,
	}
}

// EngineConfig translates risk_controls and order into engine.Config.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		MaxOpenCycles:        c.RiskControls.MaxOpenCycles,
		MaxConsecutiveLosses: c.RiskControls.StopAfterConsecutiveLosses,
		OrderMonitorTimeout:  ms(c.Order.Monitoring.MaxDelayMS) * 10,
	}
}

// RouterConfig translates panic_sell into router.Config.
func (c *Config) RouterConfig() router.Config {
	p := c.PanicSell
	return router.Config{
		BaseCurrencies:          currencies(p.BaseCurrencies),
		PreferredIntermediaries: currencies(p.PreferredIntermediaries),
		MaxTotalSlippageBps:     p.MaxTotalSlippageBps,
		MaxHops:                 p.MaxHops,
		MinLiquidityUSD:         p.MinLiquidityUSD,
		MaxSingleHopSlippageBps: p.MaxSingleHopSlippageBps,
		RetryAttempts:           p.RetryAttempts,
		PartialFillThreshold:    p.PartialFillThreshold,
	}
}

// StoreConfig translates into store.Config (write-through cache tuning;
// §6 does not name these explicitly, so they keep store's own defaults).
func (c *Config) StoreConfig() store.Config {
	return store.Config{}
}

// SimfillConfig translates the simulation block into simfill.Config, used
// by the Paper and Backtest adapters only.
func (c *Config) SimfillConfig() simfill.Config {
	s := c.Simulation
	return simfill.Config{
		FeeBps:           s.FeeBps,
		FillRatio:        s.FillRatio,
		SpreadPaddingBps: s.SpreadPaddingBps,
		LatencySim:       ms(s.LatencySimMS),
		RandomSeed:       s.RandomSeed,
	}
}

// DecisionConfig translates min_profit_bps and risk_controls into
// decision.Config, one per strategy. The volatility monitor only engages
// when both volatility_window_size and sigma_multiplier are configured,
// matching decision.Engine's own nil-means-disabled convention.
func (c *Config) DecisionConfig() decision.Config {
	cfg := decision.Config{
		MinProfitThresholdPct: float64(c.MinProfitBps) / 100,
		MaxPositionUSD:        c.RiskControls.MaxPositionUSD,
		MaxConcurrentTrades:   &c.RiskControls.MaxOpenCycles,
		CooldownSeconds:       &c.RiskControls.SlippageCooldownSeconds,
	}
	if c.RiskControls.VolatilityWindowSize > 0 && c.RiskControls.SigmaMultiplier > 0 {
		cfg.VolatilityWindowSize = &c.RiskControls.VolatilityWindowSize
		cfg.SigmaMultiplier = &c.RiskControls.SigmaMultiplier
	}
	return cfg
}

// InitialBalances normalizes the simulation block's starting balances for
// the Paper/Backtest adapters' simulated account.
func (c *Config) InitialBalances() map[domain.Currency]float64 {
	out := make(map[domain.Currency]float64, len(c.Simulation.InitialBalances))
	for code, amount := range c.Simulation.InitialBalances {
		out[domain.Normalize(code)] = amount
	}
	return out
}
