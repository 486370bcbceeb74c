package snapshot_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/risk"
	"github.com/saiputravu/clobcore/internal/snapshot"
)

func sample() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		EngineSeqAtSnapshot: 1234,
		Shards: []snapshot.ShardState{
			{
				ShardIndex: 0,
				Markets: []snapshot.MarketState{
					{
						MarketID: 1,
						Config:   common.MarketConfig{MarketID: 1, Symbol: "BTC-PERP"},
						Orders: []common.Order{
							{OrderID: 1, MarketID: 1, AccountID: 1, Side: common.Buy, Price: 100, HasPrice: true, Quantity: 5, TotalQuantity: 5, State: common.StateAccepted},
						},
					},
				},
				Accounts: map[common.AccountID]risk.Account{
					1: {Balance: 1000, Reserved: 50},
				},
			},
		},
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.bin")
	snap := sample()
	require.NoError(t, snapshot.Write(path, snap))

	loaded, err := snapshot.Load(path)
	require.NoError(t, err)
	assert.Equal(t, snap.EngineSeqAtSnapshot, loaded.EngineSeqAtSnapshot)
	assert.Equal(t, snap.Shards[0].Markets[0].Orders, loaded.Shards[0].Markets[0].Orders)
	assert.Equal(t, snap.Shards[0].Accounts[1].Balance, loaded.Shards[0].Accounts[1].Balance)

	// No leftover temp file after the atomic rename.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteIsDeterministicAcrossMultipleMarketsAndAccounts(t *testing.T) {
	snap := &snapshot.Snapshot{
		EngineSeqAtSnapshot: 42,
		Shards: []snapshot.ShardState{
			{
				ShardIndex: 0,
				Markets: []snapshot.MarketState{
					{MarketID: 3, Config: common.MarketConfig{MarketID: 3, Symbol: "SOL-PERP"}},
					{MarketID: 1, Config: common.MarketConfig{MarketID: 1, Symbol: "BTC-PERP"}},
					{MarketID: 2, Config: common.MarketConfig{MarketID: 2, Symbol: "ETH-PERP"}},
				},
				Accounts: map[common.AccountID]risk.Account{
					30: {Balance: 300},
					10: {Balance: 100},
					20: {Balance: 200},
				},
			},
		},
	}

	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.bin")
	pathB := filepath.Join(dir, "b.bin")
	require.NoError(t, snapshot.Write(pathA, snap))
	require.NoError(t, snapshot.Write(pathB, snap))

	rawA, err := os.ReadFile(pathA)
	require.NoError(t, err)
	rawB, err := os.ReadFile(pathB)
	require.NoError(t, err)
	assert.Equal(t, rawA, rawB, "repeated snapshots of identical state must be byte-identical")

	loaded, err := snapshot.Load(pathA)
	require.NoError(t, err)
	require.Len(t, loaded.Shards[0].Markets, 3)
	assert.Equal(t, common.MarketID(1), loaded.Shards[0].Markets[0].MarketID)
	assert.Equal(t, common.MarketID(2), loaded.Shards[0].Markets[1].MarketID)
	assert.Equal(t, common.MarketID(3), loaded.Shards[0].Markets[2].MarketID)
}

func TestLoadRejectsCorruptedChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.bin")
	require.NoError(t, snapshot.Write(path, sample()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[25] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	_, err = snapshot.Load(path)
	assert.ErrorIs(t, err, snapshot.ErrChecksumMismatch)
}
