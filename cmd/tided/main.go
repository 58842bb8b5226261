// Command tided runs a rollup node over an in-memory DA layer. It exists
// for local development; production deployments wire a real DA adapter
// and genesis in their own launcher.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/holiman/uint256"

	"github.com/tiderollup/tide/bank"
	"github.com/tiderollup/tide/chain"
	"github.com/tiderollup/tide/core/types"
	"github.com/tiderollup/tide/da"
	"github.com/tiderollup/tide/log"
	"github.com/tiderollup/tide/node"
	"github.com/tiderollup/tide/registry"
	"github.com/tiderollup/tide/softconf"
	"github.com/tiderollup/tide/stf"
	"github.com/tiderollup/tide/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("tided", flag.ContinueOnError)
	datadir := fs.String("datadir", "", "pebble data directory (empty: in-memory)")
	sequencerHex := fs.String("sequencer", "", "registered sequencer address (hex)")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := log.New(level)
	log.SetDefault(logger)

	var kv storage.KVStore
	if *datadir == "" {
		kv = storage.NewMemoryKV()
	} else {
		pdb, err := storage.OpenPebble(*datadir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "opening datadir: %v\n", err)
			return 1
		}
		defer pdb.Close()
		kv = pdb
	}

	store, err := storage.Open(kv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening state store: %v\n", err)
		return 1
	}
	tracker, err := chain.NewTracker(kv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "opening chain tracker: %v\n", err)
		return 1
	}

	reg := registry.New()
	table, err := stf.NewTable(bank.New(), reg)
	if err != nil {
		// Dispatch table misconfiguration is fatal by design.
		fmt.Fprintf(os.Stderr, "module table: %v\n", err)
		return 1
	}
	bp := stf.NewBlueprint(store, table, reg, logger)

	sequencer := types.HexToAddress(*sequencerHex)
	kernel := softconf.NewKernel(sequencer, 1, 0, softconf.DefaultMaxBlocksPerSlot, logger)
	cfg := node.DefaultConfig()
	cfg.Logger = logger
	runner := node.NewRunner(cfg, da.NewMockDA(sequencer), bp, tracker, kernel)

	if _, ok := store.Latest(); !ok {
		regGen, err := registry.EncodeGenesis(&registry.GenesisConfig{
			MinBond: uint256.NewInt(1),
			Sequencers: []registry.GenesisSequencer{
				{Addr: sequencer, Bond: uint256.NewInt(1_000_000)},
			},
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "genesis: %v\n", err)
			return 1
		}
		genesis := &stf.Genesis{Modules: map[uint32][]byte{
			registry.ModuleID: regGen,
		}}
		if err := runner.InitGenesis(genesis); err != nil {
			fmt.Fprintf(os.Stderr, "genesis: %v\n", err)
			return 1
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		// Unrecoverable: corrupted store, conflicting finalized
		// records, or a broken determinism invariant.
		fmt.Fprintf(os.Stderr, "runner: %v\n", err)
		return 1
	}
	return 0
}
