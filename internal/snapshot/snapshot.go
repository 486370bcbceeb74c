// Package snapshot implements the engine's point-in-time state dump
// (spec.md §4.9): a self-describing file (magic + version + checksum
// header) written atomically via temp-file-plus-rename, holding every
// shard's book and risk-ledger state plus the engine_seq it was taken at.
//
// Grounded on spec.md §4.9/§6 directly (the teacher carries no persistence
// layer of its own to generalize from). Payload encoding is stdlib
// encoding/gob — see DESIGN.md for why no pack library in the retrieval
// set covers this; the content checksum is github.com/cespare/xxhash/v2,
// the fast non-cryptographic hash several pack manifests pull in for
// exactly this kind of integrity check.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"

	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/risk"
)

const (
	magic   uint32 = 0x434c4f42 // "CLOB"
	version uint32 = 1
)

// ErrChecksumMismatch is returned by Load when the stored xxhash digest
// does not match the recomputed digest of the payload bytes.
var ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")

// MarketState is one market's book content, in the order
// internal/book.Book.Snapshot/Restore expect.
type MarketState struct {
	MarketID common.MarketID
	Config   common.MarketConfig
	Orders   []common.Order
}

// ShardState is everything one shard owns: its markets' books and the
// accounts whose risk ledger entries it is responsible for.
type ShardState struct {
	ShardIndex int
	Markets    []MarketState
	Accounts   map[common.AccountID]risk.Account
}

// Snapshot is the process-wide, all-shards state dump.
type Snapshot struct {
	EngineSeqAtSnapshot uint64
	Shards              []ShardState
}

// accountEntry pairs an account with its ID for deterministic encoding —
// encoding/gob does not sort map keys, and Go map iteration order is
// randomized, so a map[AccountID]Account encoded directly would make the
// payload bytes (and therefore the xxhash checksum) differ across runs
// over identical state. spec.md §9 calls this out explicitly: "never hash
// iteration."
type accountEntry struct {
	AccountID common.AccountID
	Account   risk.Account
}

// wireShardState is ShardState's on-disk shape: Accounts is a slice
// sorted by AccountID instead of a map, so two encodes of the same state
// always produce identical bytes.
type wireShardState struct {
	ShardIndex int
	Markets    []MarketState
	Accounts   []accountEntry
}

type wireSnapshot struct {
	EngineSeqAtSnapshot uint64
	Shards              []wireShardState
}

func toWire(snap *Snapshot) wireSnapshot {
	w := wireSnapshot{EngineSeqAtSnapshot: snap.EngineSeqAtSnapshot}
	for _, ss := range snap.Shards {
		markets := append([]MarketState(nil), ss.Markets...)
		sort.Slice(markets, func(i, j int) bool { return markets[i].MarketID < markets[j].MarketID })

		accounts := make([]accountEntry, 0, len(ss.Accounts))
		for id, acct := range ss.Accounts {
			accounts = append(accounts, accountEntry{AccountID: id, Account: acct})
		}
		sort.Slice(accounts, func(i, j int) bool { return accounts[i].AccountID < accounts[j].AccountID })

		w.Shards = append(w.Shards, wireShardState{
			ShardIndex: ss.ShardIndex,
			Markets:    markets,
			Accounts:   accounts,
		})
	}
	return w
}

func fromWire(w wireSnapshot) *Snapshot {
	snap := &Snapshot{EngineSeqAtSnapshot: w.EngineSeqAtSnapshot}
	for _, ws := range w.Shards {
		accounts := make(map[common.AccountID]risk.Account, len(ws.Accounts))
		for _, e := range ws.Accounts {
			accounts[e.AccountID] = e.Account
		}
		snap.Shards = append(snap.Shards, ShardState{
			ShardIndex: ws.ShardIndex,
			Markets:    ws.Markets,
			Accounts:   accounts,
		})
	}
	return snap
}

// Write serializes snap and atomically publishes it to path (write to
// path+".tmp", fsync, then rename — spec.md §4.9 and §6). The payload is
// encoded from a deterministically-ordered wire representation (markets
// sorted by MarketID, accounts sorted by AccountID) so repeated snapshots
// of identical state are byte-identical.
func Write(path string, snap *Snapshot) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(toWire(snap)); err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	sum := xxhash.Sum64(payload.Bytes())

	header := make([]byte, 4+4+8+4)
	binary.BigEndian.PutUint32(header[0:4], magic)
	binary.BigEndian.PutUint32(header[4:8], version)
	binary.BigEndian.PutUint64(header[8:16], sum)
	binary.BigEndian.PutUint32(header[16:20], uint32(payload.Len()))

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := f.Write(payload.Bytes()); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads and validates a snapshot file written by Write.
func Load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) < 20 {
		return nil, fmt.Errorf("snapshot: file too short")
	}
	gotMagic := binary.BigEndian.Uint32(raw[0:4])
	gotVersion := binary.BigEndian.Uint32(raw[4:8])
	wantSum := binary.BigEndian.Uint64(raw[8:16])
	payloadLen := binary.BigEndian.Uint32(raw[16:20])
	if gotMagic != magic {
		return nil, fmt.Errorf("snapshot: bad magic %x", gotMagic)
	}
	if gotVersion != version {
		return nil, fmt.Errorf("snapshot: unsupported version %d", gotVersion)
	}
	payload := raw[20:]
	if uint32(len(payload)) != payloadLen {
		return nil, fmt.Errorf("snapshot: payload length mismatch")
	}
	if xxhash.Sum64(payload) != wantSum {
		return nil, ErrChecksumMismatch
	}

	var w wireSnapshot
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&w); err != nil {
		return nil, fmt.Errorf("snapshot: decode: %w", err)
	}
	return fromWire(w), nil
}
