package replay_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/clobcore/internal/bus"
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/events"
	"github.com/saiputravu/clobcore/internal/replay"
	"github.com/saiputravu/clobcore/internal/risk"
	"github.com/saiputravu/clobcore/internal/shard"
	"github.com/saiputravu/clobcore/internal/snapshot"
	"github.com/saiputravu/clobcore/internal/wal"
)

func marketCfg() common.MarketConfig {
	return common.MarketConfig{
		MarketID: 7, MakerBps: 10, TakerBps: 20, Mode: common.Continuous,
		InitialMarginBps: 1000, MarkPrice: 100,
	}
}

func accounts() map[common.AccountID]risk.Account {
	return map[common.AccountID]risk.Account{1: {Balance: 100_000}, 2: {Balance: 100_000}}
}

func writeWAL(t *testing.T, path string) {
	t.Helper()
	w, err := wal.Open(path, wal.SyncPolicy{Mode: wal.SyncEveryRecord})
	require.NoError(t, err)

	ledger := risk.NewIsolatedLedger()
	ledger.Restore(accounts())
	s := shard.New(0, 1, ledger, w, bus.NewMemory(), "", shard.SnapshotPolicy{})
	s.UpsertMarket(marketCfg())

	require.NoError(t, s.Process(&events.Input{
		EngineSeq: 1, Kind: events.KindNewOrder, MarketID: 7,
		NewOrder: &events.NewOrder{ClientOrderID: 1, AccountID: 1, Side: common.Sell, Price: 100, HasPrice: true, Quantity: 10, TIF: common.GTC},
	}))
	require.NoError(t, s.Process(&events.Input{
		EngineSeq: 2, Kind: events.KindNewOrder, MarketID: 7,
		NewOrder: &events.NewOrder{ClientOrderID: 2, AccountID: 2, Side: common.Buy, Price: 100, HasPrice: true, Quantity: 4, TIF: common.IOC},
	}))
	require.NoError(t, w.Close())
}

func TestRunReplaysDeterministicallyWithNoMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shard0.wal")
	writeWAL(t, path)

	report, err := replay.Run(replay.ShardWAL{
		ShardIndex: 0,
		WALPath:    path,
		State: &snapshot.ShardState{
			ShardIndex: 0,
			Markets:    []snapshot.MarketState{{MarketID: 7, Config: marketCfg()}},
			Accounts:   accounts(),
		},
		EngineSeqAtSnapshot: 0,
	})
	require.NoError(t, err)
	assert.True(t, report.OK(), "mismatches: %+v", report.Mismatches)
	assert.Equal(t, 2, report.RecordsReplayed)
}
