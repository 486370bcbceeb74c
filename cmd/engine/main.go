// Command engine is the production launcher: it loads internal/config,
// boots one internal/shard.Shard per configured shard behind
// internal/router.Router, wires the selected internal/bus.Bus binding, and
// serves internal/metrics on an HTTP endpoint until signaled to stop.
//
// Grounded on the teacher's cmd/main.go / cmd/server/server.go launcher
// shape (signal.NotifyContext + tomb.Tomb supervision), generalized from a
// single TCP listener to an N-shard fleet with no network listener of its
// own (spec.md §1: "no networking stack of its own").
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	tomb "gopkg.in/tomb.v2"

	"github.com/saiputravu/clobcore/internal/bus"
	"github.com/saiputravu/clobcore/internal/common"
	"github.com/saiputravu/clobcore/internal/config"
	"github.com/saiputravu/clobcore/internal/events"
	"github.com/saiputravu/clobcore/internal/metrics"
	"github.com/saiputravu/clobcore/internal/risk"
	"github.com/saiputravu/clobcore/internal/router"
	"github.com/saiputravu/clobcore/internal/shard"
	"github.com/saiputravu/clobcore/internal/snapshot"
	"github.com/saiputravu/clobcore/internal/wal"
	"github.com/saiputravu/clobcore/internal/wire"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "engine",
		Short: "Run the clobcore matching engine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "config.yaml", "path to the engine's YAML config file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("engine: fatal startup error")
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("engine: load config: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewRegistry(reg)
	httpSrv := &http.Server{Addr: cfg.Metrics.Addr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("engine: serving metrics")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("engine: metrics server exited")
		}
	}()

	if err := os.MkdirAll(cfg.WAL.Dir, 0o755); err != nil {
		return fmt.Errorf("engine: create wal dir: %w", err)
	}
	if err := os.MkdirAll(cfg.Snapshot.Dir, 0o755); err != nil {
		return fmt.Errorf("engine: create snapshot dir: %w", err)
	}

	busConn, err := dialBus(cfg.Bus)
	if err != nil {
		return fmt.Errorf("engine: dial bus: %w", err)
	}

	var snapState *snapshot.Snapshot
	snapPath := filepath.Join(cfg.Snapshot.Dir, "snapshot.bin")
	if loaded, err := snapshot.Load(snapPath); err == nil {
		snapState = loaded
		log.Info().Uint64("engine_seq", loaded.EngineSeqAtSnapshot).Msg("engine: resuming from snapshot")
	}

	shards := make([]*shard.Shard, cfg.Shard.Count)
	mailboxes := make([]router.Mailbox, cfg.Shard.Count)
	coord := newSnapshotCoordinator(snapPath, m)

	for i := 0; i < cfg.Shard.Count; i++ {
		walPath := filepath.Join(cfg.WAL.Dir, fmt.Sprintf("engine-shard-%d.wal", i))
		w, err := wal.Open(walPath, cfg.WAL.SyncPolicy())
		if err != nil {
			return fmt.Errorf("engine: open wal for shard %d: %w", i, err)
		}
		defer w.Close()

		s := shard.New(i, cfg.Shard.MailboxCap, risk.NewIsolatedLedger(), w, busConn, cfg.Bus.Subject,
			shard.SnapshotPolicy{EveryNEvents: cfg.Snapshot.EveryNEvents})

		if snapState != nil {
			for _, ss := range snapState.Shards {
				if ss.ShardIndex != i {
					continue
				}
				s.RestoreLedger(ss.Accounts)
				for _, ms := range ss.Markets {
					s.Restore(shard.MarketState{MarketID: ms.MarketID, Config: ms.Config, Orders: ms.Orders})
				}
			}
		}

		idx := i
		s.OnOutputs(func(_ common.EngineSeq, outputs []events.Output) {
			recordOutputMetrics(m, idx, outputs)
		})
		s.OnSnapshotDue(func(seq common.EngineSeq) { coord.due(ctx, idx, seq, shards) })

		shards[i] = s
		mailboxes[i] = s
	}

	for _, seed := range cfg.Markets {
		mc := seed.ToMarketConfig()
		target := uint32(mc.MarketID) % uint32(cfg.Shard.Count)
		shards[target].UpsertMarket(mc)
	}

	rtr := router.New(mailboxes, cfg.Shard.BlockOnFull)

	inputSub, err := busConn.Subscribe(cfg.Bus.InputSubject, func(payload []byte) {
		in, err := wire.DecodeInput(payload)
		if err != nil {
			log.Error().Err(err).Msg("engine: dropping undecodable input from bus")
			return
		}
		if _, err := rtr.Route(ctx, in); err != nil {
			log.Error().Err(err).Msg("engine: route failed")
		}
	})
	if err != nil {
		return fmt.Errorf("engine: subscribe inputs: %w", err)
	}
	defer inputSub.Unsubscribe()

	t, tctx := tomb.WithContext(ctx)
	for _, s := range shards {
		s := s
		t.Go(func() error { return s.Run(t) })
	}
	t.Go(func() error { return pollMailboxDepth(tctx, shards, m) })

	<-ctx.Done()
	log.Info().Msg("engine: shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 2*time.Second)
	if _, bErr := rtr.Broadcast(shutdownCtx, &events.Input{Kind: events.KindShutdown}); bErr != nil {
		log.Error().Err(bErr).Msg("engine: shutdown broadcast failed, killing shards anyway")
	}
	cancelShutdown()

	t.Kill(nil)
	err = t.Wait()

	metricsShutdownCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelMetrics()
	_ = httpSrv.Shutdown(metricsShutdownCtx)
	_ = busConn.Close()
	return err
}

func dialBus(cfg config.BusConfig) (bus.Bus, error) {
	switch cfg.Kind {
	case "nats":
		return bus.DialNATS(bus.NATSConfig{URL: cfg.URL})
	default:
		return bus.NewMemory(), nil
	}
}

func pollMailboxDepth(ctx context.Context, shards []*shard.Shard, m *metrics.Registry) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, s := range shards {
				m.MailboxDepth.WithLabelValues(fmt.Sprint(s.Index)).Set(float64(s.MailboxLen()))
			}
		}
	}
}

func recordOutputMetrics(m *metrics.Registry, shardIdx int, outputs []events.Output) {
	for _, o := range outputs {
		switch o.Kind {
		case events.KindFill:
			m.FillsTotal.WithLabelValues(fmt.Sprint(o.Fill.MarketID)).Inc()
		case events.KindOrderReject:
			m.RejectsTotal.WithLabelValues(fmt.Sprint(shardIdx), fmt.Sprint(o.OrderReject.Reason)).Inc()
		case events.KindCancelReject:
			m.RejectsTotal.WithLabelValues(fmt.Sprint(shardIdx), fmt.Sprint(o.CancelReject.Reason)).Inc()
		}
	}
}
