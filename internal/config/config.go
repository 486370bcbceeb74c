// Package config loads the engine's runtime configuration (spec.md §6)
// from a YAML file with CLOBCORE_-prefixed environment overrides.
//
// Grounded on SPEC_FULL.md §6's ADD entry: "internal/config.Config, loaded
// via viper from a YAML file plus env overrides" — viper is a
// retrieval-pack dependency (0xtitan6-polymarket-mm,
// VictorVVedtion-perp-dex both depend on it), not the teacher's own stack,
// since the teacher carries no configuration layer of its own.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
	"github.com/saiputravu/clobcore/internal/wal"
)

// MarketSeed is one market_id's initial configuration, loaded at startup
// before any MarketUpsert input arrives.
type MarketSeed struct {
	MarketID             common.MarketID
	Symbol               string
	TickSize             fixedpoint.Fixed
	LotSize              fixedpoint.Fixed
	MakerBps             fixedpoint.BasisPoints
	TakerBps             fixedpoint.BasisPoints
	Mode                 string // "continuous" | "batch_auction"
	AuctionIntervalMs    int64
	MaxLeverage          int64
	InitialMarginBps     fixedpoint.BasisPoints
	MaintenanceMarginBps fixedpoint.BasisPoints
	MarkPrice            fixedpoint.Fixed
}

// ToMarketConfig converts the config-file representation to the engine's
// runtime common.MarketConfig.
func (m MarketSeed) ToMarketConfig() common.MarketConfig {
	mode := common.Continuous
	if m.Mode == "batch_auction" {
		mode = common.BatchAuction
	}
	return common.MarketConfig{
		MarketID:             m.MarketID,
		Symbol:               m.Symbol,
		TickSize:             m.TickSize,
		LotSize:              m.LotSize,
		MakerBps:             m.MakerBps,
		TakerBps:             m.TakerBps,
		Mode:                 mode,
		AuctionInterval:      m.AuctionIntervalMs * int64(time.Millisecond),
		MaxLeverage:          m.MaxLeverage,
		InitialMarginBps:     m.InitialMarginBps,
		MaintenanceMarginBps: m.MaintenanceMarginBps,
		MarkPrice:            m.MarkPrice,
	}
}

// BusConfig selects and configures the outbound publish binding plus the
// inbound subject the engine subscribes to for wire-encoded Input events
// (spec.md §1/§6: the bus is the only transport the engine owns).
type BusConfig struct {
	Kind         string // "memory" | "nats"
	URL          string
	Subject      string // outbound: Output events
	InputSubject string // inbound: Input events
}

// WALConfig carries the fsync policy plus record path per shard.
type WALConfig struct {
	Dir         string
	SyncMode    string // "every_record" | "batched" | "none"
	BatchEvery  int
	BatchMillis int64 // SyncBatched: fsync at least this often, regardless of BatchEvery
}

// SyncPolicy converts the loaded WALConfig to internal/wal's policy type.
func (c WALConfig) SyncPolicy() wal.SyncPolicy {
	mode := wal.SyncEveryRecord
	switch c.SyncMode {
	case "batched":
		mode = wal.SyncBatched
	case "none":
		mode = wal.SyncNone
	}
	return wal.SyncPolicy{
		Mode:       mode,
		BatchEvery: c.BatchEvery,
		BatchNanos: c.BatchMillis * int64(time.Millisecond),
	}
}

// SnapshotConfig controls how often internal/shard triggers a snapshot.
type SnapshotConfig struct {
	Dir          string
	EveryNEvents int
}

// ShardConfig controls router/shard topology and backpressure.
type ShardConfig struct {
	Count                  int
	MailboxCap             int
	BlockOnFull            bool
	DynamicMarketsKVBucket string
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Addr string
}

// Config is the whole engine's runtime configuration (spec.md §6).
type Config struct {
	Shard    ShardConfig
	WAL      WALConfig
	Snapshot SnapshotConfig
	Bus      BusConfig
	Metrics  MetricsConfig
	Markets  []MarketSeed
}

// Load reads path (YAML) and applies CLOBCORE_-prefixed environment
// overrides — e.g. CLOBCORE_SHARD_COUNT overrides shard.count.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("CLOBCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("shard.count", 1)
	v.SetDefault("shard.mailboxCap", 4096)
	v.SetDefault("shard.blockOnFull", true)
	v.SetDefault("shard.dynamicMarketsKVBucket", "clobcore-markets")
	v.SetDefault("wal.dir", "data")
	v.SetDefault("wal.syncMode", "every_record")
	v.SetDefault("wal.batchEvery", 1)
	v.SetDefault("wal.batchMillis", 50)
	v.SetDefault("snapshot.dir", "data")
	v.SetDefault("snapshot.everyNEvents", 100_000)
	v.SetDefault("bus.kind", "memory")
	v.SetDefault("bus.subject", "clobcore.outputs")
	v.SetDefault("bus.inputSubject", "clobcore.inputs")
	v.SetDefault("metrics.addr", ":9090")
}
