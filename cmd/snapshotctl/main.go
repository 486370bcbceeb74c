// Command snapshotctl is a thin CLI around internal/snapshot for operating
// on a running engine's data/snapshot.bin offline: verifying its checksum
// and printing a per-shard summary (market count, account count, engine_seq
// it was taken at) without loading the full matching engine.
//
// Grounded the same way cmd/replay is (SPEC_FULL.md §4.10): a thin cobra
// wrapper, since VictorVVedtion-perp-dex in the retrieval pack depends on
// cobra for its own CLI surface.
package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/saiputravu/clobcore/internal/snapshot"
)

func main() {
	root := &cobra.Command{Use: "snapshotctl"}

	inspect := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Print a summary of a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(args[0])
		},
	}

	verify := &cobra.Command{
		Use:   "verify <path>",
		Short: "Validate a snapshot file's magic, version and checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := snapshot.Load(args[0])
			if err != nil {
				return fmt.Errorf("snapshotctl: invalid snapshot: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}

	root.AddCommand(inspect, verify)
	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("snapshotctl: fatal error")
	}
}

func runInspect(path string) error {
	snap, err := snapshot.Load(path)
	if err != nil {
		return fmt.Errorf("snapshotctl: load %s: %w", path, err)
	}

	fmt.Printf("engine_seq_at_snapshot: %d\n", snap.EngineSeqAtSnapshot)
	fmt.Printf("shards: %d\n", len(snap.Shards))
	for _, ss := range snap.Shards {
		orders := 0
		for _, mkt := range ss.Markets {
			orders += len(mkt.Orders)
		}
		fmt.Printf("  shard %d: markets=%d resting_orders=%d accounts=%d\n",
			ss.ShardIndex, len(ss.Markets), orders, len(ss.Accounts))
	}
	return nil
}
