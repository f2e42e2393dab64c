// Klingnet Ord indexer daemon.
//
// Usage:
//
//	klingnetd [options]       Index against a Bitcoin Core node
//	klingnetd --export=FILE   Dump the current index and exit
//	klingnetd --help          Show help
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Klingon-tech/klingnet-chain/config"
	"github.com/Klingon-tech/klingnet-chain/internal/export"
	"github.com/Klingon-tech/klingnet-chain/internal/fetch"
	"github.com/Klingon-tech/klingnet-chain/internal/index"
	klog "github.com/Klingon-tech/klingnet-chain/internal/log"
	"github.com/Klingon-tech/klingnet-chain/internal/query"
	"github.com/Klingon-tech/klingnet-chain/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-chain/internal/savepoint"
	"github.com/Klingon-tech/klingnet-chain/internal/storage"
	"github.com/rs/zerolog"
)

// fetchLookahead is how many blocks the fetcher (C7) keeps buffered
// ahead of the driver (C8), overlapping RPC round trips with block
// application.
const fetchLookahead = 8

// statsLogInterval is how often (in blocks) the indexing loop logs a
// statistics snapshot (§3) at info level, so an operator watching logs
// sees progress without a line per block.
const statsLogInterval = 1000

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, flags, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	chainParams := config.ParamsFor(cfg.Network)

	// ── 2. Init logger ───────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/klingnet-ord.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("daemon")

	logger.Info().
		Str("network", string(cfg.Network)).
		Bool("index_sats", cfg.IndexSats).
		Bool("index_runes", cfg.IndexRunes).
		Msg("Starting Klingnet Ord")

	// ── 3. Open storage ───────────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.IndexDir())
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.IndexDir()).Msg("Failed to open index database")
	}
	defer db.Close()

	// ── 4. Bitcoin Core RPC client (C7) ──────────────────────────────────
	client, err := newRPCClient(cfg.RPC)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to configure Bitcoin Core RPC client")
	}

	// ── 5. Savepoint manager (C9's Restorer, C8's Savepointer) ───────────
	savepoints, err := savepoint.New(db, cfg.SavepointsDir(), config.DefaultSavepointInterval, config.DefaultMaxSavepoints)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open savepoint manager")
	}
	logger.Info().Int("count", savepoints.Count()).Msg("Savepoint manager ready")

	params := index.Params{
		FirstInscriptionHeight: chainParams.FirstInscriptionHeight,
		MinimumRuneHeight:      chainParams.MinimumRuneHeight,
		IndexSats:              cfg.IndexSats,
		IndexRunes:             cfg.IndexRunes,
		SavepointInterval:      config.DefaultSavepointInterval,
		ChainTipDistance:       config.DefaultChainTipDistance,
		MaxSavepoints:          config.DefaultMaxSavepoints,
	}

	// ── 6. Export mode: dump the index and exit, no indexing loop ───────
	if flags.Export != "" {
		if err := runExport(db, client, chainParams.Bech32HRP, params, flags); err != nil {
			logger.Fatal().Err(err).Msg("Export failed")
		}
		return
	}

	// ── 7. Context + signal handling ─────────────────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// ── 8. Indexing loop: C8, retrying through C9 on continuity breaks ──
	if err := runIndexer(ctx, db, client, savepoints, params, cfg.HeightLimit, logger); err != nil {
		logger.Fatal().Err(err).Msg("Indexing stopped")
	}

	logger.Info().Msg("Goodbye!")
}

// newRPCClient builds a Bitcoin Core RPC client from either user/password
// or cookie-file authentication (§6), preferring the cookie file when
// both happen to be set since that's what a default `bitcoind` serves.
func newRPCClient(rpc config.RPCConfig) (*rpcclient.Client, error) {
	user, pass := rpc.User, rpc.Password
	if rpc.Cookie != "" {
		data, err := os.ReadFile(rpc.Cookie)
		if err != nil {
			return nil, fmt.Errorf("reading rpc cookie file: %w", err)
		}
		parts := strings.SplitN(strings.TrimSpace(string(data)), ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("rpc cookie file %s is not in user:password format", rpc.Cookie)
		}
		user, pass = parts[0], parts[1]
	}
	return rpcclient.NewWithAuth(rpc.URL, user, pass, 0), nil
}

// runExport builds a read-only query surface over whatever has already
// been indexed and writes the §6 export format to flags.Export (or
// stdout if it's "-").
func runExport(db storage.DB, client *rpcclient.Client, hrp string, params index.Params, flags *config.Flags) error {
	driver := index.New(db, nil, client, params)
	store := query.New(driver, client)
	writer := export.New(store, client, hrp)

	out := os.Stdout
	if flags.Export != "-" {
		f, err := os.Create(flags.Export)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()
		out = f
	}
	return writer.Export(out, flags.ExportAddresses, func() bool { return false })
}

// runIndexer drives the driver (C8) through ProcessNext one block at a
// time, rebuilding the fetcher/driver pair from a fresh height whenever
// a reorg (C9) rolls the database back — per index.Driver.Recover's own
// doc comment, the driver should be treated as freshly constructed
// after a restore, so this rebuilds rather than reusing the old one.
func runIndexer(ctx context.Context, db storage.DB, client *rpcclient.Client, savepoints *savepoint.Manager, params index.Params, heightLimit *uint64, logger zerolog.Logger) error {
	bootstrap := index.New(db, nil, client, params)
	tip, ok, err := bootstrap.TipHeight()
	if err != nil {
		return fmt.Errorf("reading tip height: %w", err)
	}
	fromHeight := uint64(0)
	if ok {
		fromHeight = tip + 1
	}

	for {
		if heightLimit != nil && fromHeight >= *heightLimit {
			logger.Info().Uint64("height_limit", *heightLimit).Msg("Height limit reached")
			return nil
		}

		fetcher := fetch.New(client, fetchLookahead)
		fetcher.Start(ctx, fromHeight)
		driver := index.New(db, fetcher, client, params)
		driver.SetSavepointer(savepoints)
		store := query.New(driver, client)

		mismatch, err := indexUntilMismatch(ctx, driver, store, heightLimit, logger)
		fetcher.Stop()

		if err != nil {
			return err
		}
		if mismatch == nil {
			return nil // ctx cancelled or height limit reached cleanly
		}

		logger.Warn().Uint64("height", mismatch.Height).Msg("Continuity mismatch, probing for reorg")
		decision, err := driver.DetectReorg(mismatch)
		if err != nil {
			return fmt.Errorf("reorg detection: %w", err)
		}
		newTip, err := driver.Recover(decision, savepoints)
		if err != nil {
			return fmt.Errorf("reorg recovery: %w", err)
		}
		fromHeight = newTip + 1
	}
}

// indexUntilMismatch calls ProcessNext until ctx is done, the height
// limit is reached, or a continuity mismatch surfaces (returned rather
// than treated as fatal, so the caller can hand it to the reorg
// controller). Any other error is fatal.
func indexUntilMismatch(ctx context.Context, driver *index.Driver, store *query.Store, heightLimit *uint64, logger zerolog.Logger) (*index.ContinuityError, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		default:
		}

		err := driver.ProcessNext(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, nil
			}
			var mismatch *index.ContinuityError
			if errors.As(err, &mismatch) {
				return mismatch, nil
			}
			return nil, err
		}

		tip, ok, err := driver.TipHeight()
		if err != nil {
			return nil, err
		}
		if ok && tip%statsLogInterval == 0 {
			logStats(store, tip, logger)
		}
		if ok && heightLimit != nil && tip+1 >= *heightLimit {
			return nil, nil
		}
	}
}

// logStats reports the §3 counters at info level so an operator
// tailing logs sees progress and the running blessed/cursed/lost tally.
func logStats(store *query.Store, tip uint64, logger zerolog.Logger) {
	stats := store.Statistics()
	logger.Info().
		Uint64("height", tip).
		Uint64("blessed", stats.BlessedCount).
		Uint64("cursed", stats.CursedCount).
		Uint64("unbound", stats.UnboundCount).
		Uint64("lost_sats", stats.LostSatsTotal).
		Uint64("commits", stats.CommitCount).
		Msg("indexing progress")
}
