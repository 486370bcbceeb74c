// Package router implements spec.md §4.7: atomic engine_seq assignment and
// market_id-mod-shard_count routing into per-shard mailboxes.
package router

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/events"
)

// ErrMailboxFull is returned when a shard's mailbox is at capacity and the
// configured backpressure policy is reject rather than block.
var ErrMailboxFull = fmt.Errorf("router: shard mailbox full")

// Mailbox is the shard-facing inbound queue the router enqueues onto.
// internal/shard.Shard implements this with its own buffered channel.
type Mailbox interface {
	Enqueue(ctx context.Context, in *events.Input, block bool) error
}

// Router assigns the single global engine_seq and fans inputs out to
// shards by market_id mod shard_count.
type Router struct {
	seq         atomic.Uint64
	shards      []Mailbox
	blockOnFull bool
}

// New constructs a Router over shards, indexed by market_id mod
// len(shards). blockOnFull selects the mailbox backpressure policy
// (spec.md §5: "the router blocks or rejects when a mailbox is full,
// configurable").
func New(shards []Mailbox, blockOnFull bool) *Router {
	return &Router{shards: shards, blockOnFull: blockOnFull}
}

func (r *Router) shardFor(marketID common.MarketID) Mailbox {
	return r.shards[uint32(marketID)%uint32(len(r.shards))]
}

// Route assigns engine_seq to in and enqueues it onto the owning shard.
func (r *Router) Route(ctx context.Context, in *events.Input) (common.EngineSeq, error) {
	seq := common.EngineSeq(r.seq.Add(1))
	in.EngineSeq = seq
	mbx := r.shardFor(in.MarketID)
	if err := mbx.Enqueue(ctx, in, r.blockOnFull); err != nil {
		return seq, err
	}
	return seq, nil
}

// Broadcast fans an admin input (affecting every market) out to every
// shard. Every copy carries the same engine_seq and no per-shard suffix or
// other tiebreaker; each shard records its copy in its own WAL file.
func (r *Router) Broadcast(ctx context.Context, template *events.Input) (common.EngineSeq, error) {
	seq := common.EngineSeq(r.seq.Add(1))
	for _, mbx := range r.shards {
		cp := *template
		cp.EngineSeq = seq
		if err := mbx.Enqueue(ctx, &cp, r.blockOnFull); err != nil {
			return seq, err
		}
	}
	return seq, nil
}
