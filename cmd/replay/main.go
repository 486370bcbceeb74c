// Command replay is a thin CLI around internal/replay.Run (spec.md §4.10):
// given a snapshot file and the per-shard WAL files written after it, it
// re-derives engine state and verifies every recomputed output matches what
// the WAL already recorded.
//
// Grounded on SPEC_FULL.md §4.10's call-out ("cmd/replay is a thin CLI
// using github.com/spf13/cobra, grounded: VictorVVedtion-perp-dex depends
// on cobra for its CLI").
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saiputravu/clobcore/internal/replay"
	"github.com/saiputravu/clobcore/internal/snapshot"
)

func main() {
	var (
		snapshotPath string
		walPaths     []string
	)

	root := &cobra.Command{
		Use:   "replay",
		Short: "Replay one or more shard WALs past their last snapshot and verify determinism",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(snapshotPath, walPaths)
		},
	}
	root.Flags().StringVar(&snapshotPath, "snapshot", "", "path to a snapshot.bin (optional — omit to replay from the start of each WAL)")
	root.Flags().StringSliceVar(&walPaths, "wal", nil, "path to a shard's WAL file; repeat --wal once per shard")
	_ = root.MarkFlagRequired("wal")

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("replay: fatal error")
	}
}

func run(snapshotPath string, walPaths []string) error {
	var snap *snapshot.Snapshot
	if snapshotPath != "" {
		s, err := snapshot.Load(snapshotPath)
		if err != nil {
			return fmt.Errorf("replay: load snapshot: %w", err)
		}
		snap = s
	}

	byIndex := make(map[int]*snapshot.ShardState)
	if snap != nil {
		for i := range snap.Shards {
			byIndex[snap.Shards[i].ShardIndex] = &snap.Shards[i]
		}
	}

	exitCode := 0
	for i, path := range walPaths {
		sw := replay.ShardWAL{ShardIndex: i, WALPath: path}
		if snap != nil {
			sw.State = byIndex[i]
			sw.EngineSeqAtSnapshot = snap.EngineSeqAtSnapshot
		}

		report, err := replay.Run(sw)
		if err != nil {
			log.Error().Err(err).Int("shard", i).Str("wal", path).Msg("replay: aborted")
			exitCode = 1
			continue
		}

		if report.OK() {
			log.Info().Int("shard", i).Int("records", report.RecordsReplayed).Msg("replay: deterministic, no mismatch")
			continue
		}

		exitCode = 1
		for _, mm := range report.Mismatches {
			log.Error().Int("shard", i).Uint64("engine_seq", uint64(mm.EngineSeq)).Msg(mm.Error())
		}
	}

	if exitCode != 0 {
		os.Exit(exitCode)
	}
	return nil
}
