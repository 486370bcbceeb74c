// Package shard implements spec.md §4.6: a strict single-writer goroutine
// owning a disjoint subset of markets, their order books and risk ledger
// entries. Each Shard dequeues inputs already stamped with engine_seq by
// the router, WAL-appends, applies through matcher/book/risk, WAL-appends
// the resulting outputs, publishes them to the bus, and triggers snapshots
// on policy.
//
// Grounded on the teacher's internal/worker.go / internal/server.go
// supervision idiom: a tomb.Tomb-supervised goroutine loop selecting on
// t.Dying() alongside its work channel, the same shape as the teacher's
// WorkerPool.worker and Server.sessionHandler.
package shard

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/clobcore/internal/book"
	"github.com/saiputravu/clobcore/internal/bus"
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/events"
	"github.com/saiputravu/clobcore/internal/fixedpoint"
	"github.com/saiputravu/clobcore/internal/matcher"
	"github.com/saiputravu/clobcore/internal/risk"
	"github.com/saiputravu/clobcore/internal/router"
	"github.com/saiputravu/clobcore/internal/wal"
	"github.com/saiputravu/clobcore/internal/wire"
)

// market holds one market's mutable engine state.
type market struct {
	cfg         common.MarketConfig
	b           *book.Book
	receivedSeq uint64
}

// SnapshotPolicy triggers a snapshot request after N events (spec.md §4.6
// step 7). The shard only counts events, per spec.md §9's "no wall-clock in
// business logic"; nothing in the engine triggers a snapshot by elapsed
// time.
type SnapshotPolicy struct {
	EveryNEvents int
}

// Shard owns a disjoint subset of markets plus the risk ledger entries for
// the accounts trading on them. Not safe for concurrent use beyond
// Enqueue: exactly one goroutine (Run) ever reads the mailbox and mutates
// markets/ledger, per spec.md §5.
type Shard struct {
	Index int

	mailbox  chan *events.Input
	stateReq chan chan SnapshotState
	markets  map[common.MarketID]*market
	ledger   risk.Ledger
	walW     *wal.Writer
	busConn  bus.Bus
	subject  string

	snapshotPolicy  SnapshotPolicy
	eventsSinceSnap int

	// PublishDisabled is set by the replay driver (spec.md §4.10 step 3):
	// recomputed outputs are compared against the WAL, never re-published.
	PublishDisabled bool
	// onOutputs, if set, is called with every input's produced outputs —
	// the replay driver's comparison hook.
	onOutputs func(engineSeq common.EngineSeq, outputs []events.Output)
	// onSnapshotDue, if set, is called when the snapshot policy triggers —
	// the supervisor's signal to coordinate a process-wide snapshot.Write
	// across every shard (spec.md §5: "snapshot store is process-wide").
	onSnapshotDue func(engineSeq common.EngineSeq)
}

// New constructs a Shard. walW and busConn may be nil in tests that only
// exercise routing/matching logic.
func New(index int, mailboxCap int, ledger risk.Ledger, walW *wal.Writer, busConn bus.Bus, subject string, policy SnapshotPolicy) *Shard {
	return &Shard{
		Index:          index,
		mailbox:        make(chan *events.Input, mailboxCap),
		stateReq:       make(chan chan SnapshotState),
		markets:        make(map[common.MarketID]*market),
		ledger:         ledger,
		walW:           walW,
		busConn:        busConn,
		subject:        subject,
		snapshotPolicy: policy,
	}
}

// OnOutputs installs a hook called with every processed input's outputs —
// used by internal/replay to diff recomputed outputs against the WAL.
func (s *Shard) OnOutputs(fn func(common.EngineSeq, []events.Output)) {
	s.onOutputs = fn
}

// OnSnapshotDue installs a hook called whenever this shard's snapshot
// policy triggers, after its own SnapshotMark WAL record has been appended
// (when the shard has a WAL writer).
func (s *Shard) OnSnapshotDue(fn func(common.EngineSeq)) {
	s.onSnapshotDue = fn
}

// Enqueue implements internal/router.Mailbox.
func (s *Shard) Enqueue(ctx context.Context, in *events.Input, block bool) error {
	if block {
		select {
		case s.mailbox <- in:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case s.mailbox <- in:
		return nil
	default:
		return fmt.Errorf("shard %d: %w", s.Index, router.ErrMailboxFull)
	}
}

// MailboxLen reports the current queue depth, for metrics polling.
func (s *Shard) MailboxLen() int { return len(s.mailbox) }

// SnapshotState is a point-in-time capture of everything internal/snapshot
// needs from one shard: its markets' books and its risk ledger's accounts.
type SnapshotState struct {
	Markets  []MarketState
	Accounts map[common.AccountID]risk.Account
}

// RequestState asks the shard's own single-writer goroutine for a
// point-in-time SnapshotState (spec.md §4.9), so the supervisor never reads
// shard-owned maps from outside Run.
func (s *Shard) RequestState(ctx context.Context) (SnapshotState, error) {
	resp := make(chan SnapshotState, 1)
	select {
	case s.stateReq <- resp:
	case <-ctx.Done():
		return SnapshotState{}, ctx.Err()
	}
	select {
	case ss := <-resp:
		return ss, nil
	case <-ctx.Done():
		return SnapshotState{}, ctx.Err()
	}
}

// UpsertMarket installs or reconfigures a market, creating its book on
// first sight. apply calls it for MarketUpsert inputs; cmd/engine and tests
// also call it directly to seed markets outside the normal Enqueue/Run path.
func (s *Shard) UpsertMarket(cfg common.MarketConfig) {
	m, ok := s.markets[cfg.MarketID]
	if !ok {
		s.markets[cfg.MarketID] = &market{cfg: cfg, b: book.New()}
		return
	}
	m.cfg = cfg
}

// Run is the shard's main loop, supervised by t. It returns when t starts
// dying (graceful shutdown) or the mailbox is closed.
func (s *Shard) Run(t *tomb.Tomb) error {
	log.Info().Int("shard", s.Index).Msg("shard starting")
	for {
		select {
		case <-t.Dying():
			log.Info().Int("shard", s.Index).Msg("shard stopping")
			return nil
		case resp := <-s.stateReq:
			resp <- SnapshotState{Markets: s.State(), Accounts: s.ledger.Snapshot()}
		case in, ok := <-s.mailbox:
			if !ok {
				return nil
			}
			if err := s.Process(in); err != nil {
				log.Error().Err(err).Int("shard", s.Index).Uint64("engine_seq", uint64(in.EngineSeq)).Msg("shard: fatal error applying input")
				return err
			}
		}
	}
}

// Process implements the shard loop body, spec.md §4.6 steps 3-7. Exported
// so internal/replay can drive it directly without a mailbox/goroutine.
func (s *Shard) Process(in *events.Input) error {
	if s.walW != nil {
		buf, err := wire.EncodeInput(in)
		if err != nil {
			return fmt.Errorf("shard: encode input: %w", err)
		}
		if err := s.walW.Append(uint64(in.EngineSeq), wal.KindInput, buf); err != nil {
			return fmt.Errorf("shard: wal append input: %w", err)
		}
	}

	outputs, err := s.apply(in)
	if err != nil {
		return err
	}
	for i := range outputs {
		outputs[i].EngineSeq = in.EngineSeq
		// OrderAck also carries engine_seq on the payload itself (spec.md
		// §6), not just the Output wrapper, since a consumer may persist
		// or forward the ack independently of its wrapper.
		if outputs[i].OrderAck != nil {
			outputs[i].OrderAck.EngineSeq = in.EngineSeq
		}
	}

	if s.walW != nil {
		for i := range outputs {
			buf, err := wire.EncodeOutput(&outputs[i])
			if err != nil {
				return fmt.Errorf("shard: encode output: %w", err)
			}
			if err := s.walW.Append(uint64(in.EngineSeq), wal.KindOutput, buf); err != nil {
				return fmt.Errorf("shard: wal append output: %w", err)
			}
		}
	}

	if !s.PublishDisabled && s.busConn != nil {
		for i := range outputs {
			buf, err := wire.EncodeOutput(&outputs[i])
			if err != nil {
				return err
			}
			if err := s.busConn.Publish(context.Background(), s.subject, buf); err != nil {
				return err
			}
		}
	}

	if s.onOutputs != nil {
		s.onOutputs(in.EngineSeq, outputs)
	}

	s.eventsSinceSnap++
	if s.snapshotPolicy.EveryNEvents > 0 && s.eventsSinceSnap >= s.snapshotPolicy.EveryNEvents {
		s.eventsSinceSnap = 0
		log.Info().Int("shard", s.Index).Uint64("engine_seq", uint64(in.EngineSeq)).Msg("shard: snapshot policy triggered")
		if s.walW != nil {
			if err := s.walW.Append(uint64(in.EngineSeq), wal.KindSnapshotMark, nil); err != nil {
				return fmt.Errorf("shard: wal append snapshot mark: %w", err)
			}
		}
		if s.onSnapshotDue != nil {
			s.onSnapshotDue(in.EngineSeq)
		}
	}
	return nil
}

// State returns a point-in-time snapshot of every market this shard owns,
// for internal/snapshot to serialize (spec.md §4.9). Markets are returned
// sorted by MarketID: ranging over s.markets directly would make the
// snapshot payload's byte layout depend on map iteration order, breaking
// the bit-identical replay guarantee spec.md §9 calls out ("never hash
// iteration").
func (s *Shard) State() (markets []MarketState) {
	for id, m := range s.markets {
		markets = append(markets, MarketState{
			MarketID: id,
			Config:   m.cfg,
			Orders:   m.b.Snapshot(),
		})
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].MarketID < markets[j].MarketID })
	return markets
}

// MarketState is one market's config plus every resting order, in the
// order internal/book.Restore expects.
type MarketState struct {
	MarketID common.MarketID
	Config   common.MarketConfig
	Orders   []common.Order
}

// Restore installs market from a snapshot, rebuilding its book from
// Orders. Used by the snapshot loader and by internal/replay before
// resuming WAL replay past the snapshot mark.
func (s *Shard) Restore(ms MarketState) {
	s.markets[ms.MarketID] = &market{cfg: ms.Config, b: book.Restore(ms.Orders)}
}

// RestoreLedger seeds the risk ledger from a snapshot's account set. Used
// by the same callers as Restore, before the shard starts processing.
func (s *Shard) RestoreLedger(accounts map[common.AccountID]risk.Account) {
	s.ledger.Restore(accounts)
}

// apply routes in to the matcher/risk pipeline for its market and returns
// the outputs produced, in emission order.
func (s *Shard) apply(in *events.Input) ([]events.Output, error) {
	switch in.Kind {
	case events.KindMarketUpsert:
		s.UpsertMarket(in.MarketUpsert.Config)
		return nil, nil
	case events.KindShutdown:
		return nil, nil
	}

	m, ok := s.markets[in.MarketID]
	if !ok {
		if in.Kind == events.KindNewOrder {
			return []events.Output{{Kind: events.KindOrderReject, OrderReject: &events.OrderReject{
				ClientOrderID: in.NewOrder.ClientOrderID,
				Reason:        events.ReasonMarketUnknown,
			}}}, nil
		}
		return nil, nil
	}

	switch in.Kind {
	case events.KindNewOrder:
		return s.applyNewOrder(m, in)
	case events.KindCancelOrder:
		return s.applyCancel(m, in)
	case events.KindPriceUpdate:
		m.cfg.MarkPrice = in.PriceUpdate.MarkPrice
		return nil, nil
	case events.KindAuctionTick:
		return s.applyAuctionTick(m, in)
	default:
		return nil, fmt.Errorf("shard: unhandled input kind %d", in.Kind)
	}
}

func (s *Shard) applyNewOrder(m *market, in *events.Input) ([]events.Output, error) {
	no := in.NewOrder
	m.receivedSeq++

	required, err := s.ledger.CheckOpen(risk.OpenRequest{
		AccountID:        no.AccountID,
		MarketID:         in.MarketID,
		Side:             no.Side,
		Price:            effectivePrice(no, m.cfg),
		Quantity:         no.Quantity,
		InitialMarginBps: m.cfg.InitialMarginBps,
		MaxLeverage:      m.cfg.MaxLeverage,
	})
	if err != nil {
		return []events.Output{{Kind: events.KindOrderReject, OrderReject: &events.OrderReject{
			ClientOrderID: no.ClientOrderID,
			Reason:        events.ReasonInsufficientMargin,
		}}}, nil
	}

	order := common.Order{
		OrderID:       common.OrderID(in.EngineSeq), // engine-assigned identity, stable across replay
		ClientOrderID: no.ClientOrderID,
		MarketID:      in.MarketID,
		AccountID:     no.AccountID,
		Side:          no.Side,
		Price:         no.Price,
		HasPrice:      no.HasPrice,
		Quantity:      no.Quantity,
		TotalQuantity: no.Quantity,
		TIF:           no.TIF,
		ReceivedSeq:   m.receivedSeq,
		State:         common.StateNew,
	}

	mcfg := matcher.Config{MakerBps: m.cfg.MakerBps, TakerBps: m.cfg.TakerBps}

	var res matcher.Result
	if m.cfg.Mode == common.BatchAuction {
		res, err = matcher.HandleAuctionEntry(m.b, &order)
	} else {
		res, err = matcher.MatchContinuous(m.b, &order, mcfg, 0)
	}
	if err != nil {
		return nil, fmt.Errorf("shard: match: %w", err)
	}

	if res.Rejected {
		_ = s.ledger.OnCancel(no.AccountID, required)
		return []events.Output{{Kind: events.KindOrderReject, OrderReject: &events.OrderReject{
			ClientOrderID: no.ClientOrderID,
			Reason:        res.RejectWhy,
		}}}, nil
	}

	outputs := []events.Output{{Kind: events.KindOrderAck, OrderAck: &events.OrderAck{
		ClientOrderID: no.ClientOrderID,
		EngineOrderID: order.OrderID,
	}}}

	for _, f := range res.Fills {
		fill := f
		outputs = append(outputs, events.Output{Kind: events.KindFill, Fill: &fill})
	}
	if err := s.settleFills(in.MarketID, order.AccountID, order.Side, res.Fills, required, order.TotalQuantity); err != nil {
		return nil, err
	}
	if err := s.settleMakers(in.MarketID, order.Side.Opposite(), m.cfg.InitialMarginBps, res.Fills); err != nil {
		return nil, err
	}

	for _, d := range res.Deltas {
		delta := d
		outputs = append(outputs, events.Output{Kind: events.KindBookDelta, BookDelta: &events.BookDelta{
			MarketID: in.MarketID,
			Side:     delta.Side,
			Changes:  delta.Changes,
		}})
	}

	return outputs, nil
}

// settleFills applies the taker-account side of every fill to the risk
// ledger, releasing a pro-rata share of the order's originally-reserved
// margin per fill. settleMakers applies the other side.
func (s *Shard) settleFills(marketID common.MarketID, accountID common.AccountID, side common.Side, fills []events.Fill, reserved, totalQty fixedpoint.Fixed) error {
	for _, f := range fills {
		release := fixedpoint.Fixed(0)
		if totalQty > 0 {
			release = reserved * f.Quantity / totalQty
		}
		if err := s.ledger.OnFill(risk.FillEvent{
			AccountID:       accountID,
			MarketID:        marketID,
			Side:            side,
			Price:           f.Price,
			Quantity:        f.Quantity,
			Fee:             f.TakerFee,
			ReservedRelease: release,
		}); err != nil {
			return err
		}
	}
	return nil
}

// settleMakers applies the resting (maker) side of every continuous-match
// fill to the risk ledger. A maker's originally-reserved margin is never
// persisted per-order, so its release is recomputed from the fill itself:
// a continuous match always executes at the maker's own resting limit
// price, so fee(notional(fill.Price, fill.Quantity), initialMarginBps) is
// the slice of margin that order's original CheckOpen reserved for this
// quantity, up to the half-to-even rounding of each fill's fee (the sum over
// several fills can differ from the original reservation by rounding).
func (s *Shard) settleMakers(marketID common.MarketID, makerSide common.Side, initialMarginBps fixedpoint.BasisPoints, fills []events.Fill) error {
	for _, f := range fills {
		notional, err := fixedpoint.Notional(f.Price, f.Quantity)
		if err != nil {
			return err
		}
		release, err := fixedpoint.Fee(notional, initialMarginBps)
		if err != nil {
			return err
		}
		if err := s.ledger.OnFill(risk.FillEvent{
			AccountID:       f.MakerAccountID,
			MarketID:        marketID,
			Side:            makerSide,
			Price:           f.Price,
			Quantity:        f.Quantity,
			Fee:             f.MakerFee,
			ReservedRelease: release,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shard) applyCancel(m *market, in *events.Input) ([]events.Output, error) {
	order, ok := m.b.Order(in.CancelOrder.OrderID)
	if !ok {
		return []events.Output{{Kind: events.KindCancelReject, CancelReject: &events.CancelReject{
			OrderID: in.CancelOrder.OrderID,
			Reason:  events.ReasonValidationError,
		}}}, nil
	}
	accountID, side, remaining := order.AccountID, order.Side, order.Quantity
	price := order.Price
	if !order.HasPrice {
		price = m.cfg.MarkPrice
	}
	notional, err := fixedpoint.Notional(price, remaining)
	if err != nil {
		return nil, err
	}
	release, err := fixedpoint.Fee(notional, m.cfg.InitialMarginBps)
	if err != nil {
		return nil, err
	}

	dt := book.NewDeltaTracker()
	if err := m.b.Remove(order.OrderID, dt); err != nil {
		return nil, err
	}
	m.b.RefreshBest(side)
	_ = order.Transition(common.StateCancelled)

	_ = s.ledger.OnCancel(accountID, release)

	outputs := []events.Output{{Kind: events.KindCancelAck, CancelAck: &events.CancelAck{OrderID: in.CancelOrder.OrderID}}}
	if len(dt.Touched()) > 0 {
		d := m.b.Drain(side, dt)
		outputs = append(outputs, events.Output{Kind: events.KindBookDelta, BookDelta: &events.BookDelta{
			MarketID: in.MarketID,
			Side:     d.Side,
			Changes:  d.Changes,
		}})
	}
	return outputs, nil
}

func (s *Shard) applyAuctionTick(m *market, in *events.Input) ([]events.Output, error) {
	mcfg := matcher.Config{MakerBps: m.cfg.MakerBps, TakerBps: m.cfg.TakerBps}
	res, err := matcher.ClearAuction(m.b, mcfg, m.cfg.MarkPrice, 0)
	if err != nil {
		return nil, err
	}

	var outputs []events.Output
	for _, f := range res.Fills {
		fill := f
		outputs = append(outputs, events.Output{Kind: events.KindFill, Fill: &fill})

		// Both sides entered through the same CheckOpen reservation at
		// order-entry time (applyNewOrder), so both releases are recomputed
		// from the clearing fill the same way settleMakers does for a
		// continuous match — a uniform-price auction has no maker/taker
		// price distinction to derive it from otherwise.
		notional, err := fixedpoint.Notional(fill.Price, fill.Quantity)
		if err != nil {
			return nil, err
		}
		release, err := fixedpoint.Fee(notional, m.cfg.InitialMarginBps)
		if err != nil {
			return nil, err
		}

		if err := s.ledger.OnFill(risk.FillEvent{
			AccountID:       fill.TakerAccountID,
			MarketID:        in.MarketID,
			Side:            common.Buy,
			Price:           fill.Price,
			Quantity:        fill.Quantity,
			Fee:             fill.TakerFee,
			ReservedRelease: release,
		}); err != nil {
			return nil, err
		}
		if err := s.ledger.OnFill(risk.FillEvent{
			AccountID:       fill.MakerAccountID,
			MarketID:        in.MarketID,
			Side:            common.Sell,
			Price:           fill.Price,
			Quantity:        fill.Quantity,
			Fee:             fill.MakerFee,
			ReservedRelease: release,
		}); err != nil {
			return nil, err
		}
	}
	for _, d := range res.Deltas {
		delta := d
		outputs = append(outputs, events.Output{Kind: events.KindBookDelta, BookDelta: &events.BookDelta{
			MarketID: in.MarketID,
			Side:     delta.Side,
			Changes:  delta.Changes,
		}})
	}
	return outputs, nil
}

func effectivePrice(no *events.NewOrder, cfg common.MarketConfig) fixedpoint.Fixed {
	if no.HasPrice {
		return no.Price
	}
	return cfg.MarkPrice
}
