// Command earn-authority runs one claim batch as the earn authority, against
// the deployed program or a stopped node's ledger, and optionally sweeps
// orphaned earners.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gagliardetto/solana-go/rpc"
	flag "github.com/spf13/pflag"

	"github.com/m0-foundation/solana-m/claimer"
	"github.com/m0-foundation/solana-m/config"
	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/history"
	"github.com/m0-foundation/solana-m/logger"
	"github.com/m0-foundation/solana-m/retry"
	"github.com/m0-foundation/solana-m/solprogram"
	"github.com/m0-foundation/solana-m/store"
	"github.com/m0-foundation/solana-m/token"
)

const (
	modeChain = "chain"
	modeNode  = "node"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "path to the TOML config file (or set EARN_CONFIG env var)")
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	modeFlag := flag.String("mode", modeChain, "ledger to settle: chain (deployed program) or node (local ledger, node must be stopped)")
	completeFlag := flag.Bool("complete", false, "complete the cycle after a clean batch (overrides Claimer.CompleteAfter)")
	sweepFlag := flag.Bool("sweep-orphans", false, "also remove earners whose manager is inactive")
	flag.Parse()

	log := logger.New(*verboseFlag)

	if env := os.Getenv("EARN_CONFIG"); env != "" && *configFlag == "" {
		*configFlag = env
	}
	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}
	if *completeFlag {
		cfg.Claimer.CompleteAfter = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, err := history.Open(cfg.HistoryDSN, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	var (
		ledger    claimer.Ledger
		orphans   claimer.OrphanLedger
		balances  claimer.BalanceSource
		authority = cfg.Authority.EarnAuthority
		onChain   bool
	)
	switch *modeFlag {
	case modeChain:
		client, earnClient, err := newEarnClient(cfg, log)
		if err != nil {
			return err
		}
		ledger, orphans, onChain = earnClient, earnClient, true
		balances = token.NewBalances(client)
		authority = earnClient.Authority().String()
	case modeNode:
		engine, tok, closeFn, err := openNode(cfg, repo, log)
		if err != nil {
			return err
		}
		defer closeFn()
		ledger, orphans, balances = engine, engine, tok
	default:
		return fmt.Errorf("unknown --mode %q", *modeFlag)
	}

	authorityKey, err := config.Key(authority)
	if err != nil || authorityKey.IsZero() {
		return errors.New("the earn authority key is not configured")
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Claimer.MaxAttempts

	runner, err := claimer.NewRunner(claimer.Config{
		Ledger:        ledger,
		Balances:      balances,
		Authority:     authorityKey,
		Concurrency:   cfg.Claimer.Concurrency,
		RatePerSecond: cfg.Claimer.RatePerSecond,
		CompleteAfter: cfg.Claimer.CompleteAfter,
		Retry:         retryCfg,
		Logger:        log,
	})
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	// The node engine feeds history through its sink; on chain the claims
	// are recorded here.
	if onChain {
		runCtx := history.WithRunID(ctx, report.RunID)
		for _, c := range report.Claims {
			if err := repo.RecordClaim(runCtx, c); err != nil {
				log.Warn("failed to record claim", slog.String("token_account", c.TokenAccount.String()), slog.String("error", err.Error()))
			}
		}
	}

	if *sweepFlag {
		removed, err := claimer.SweepOrphans(ctx, orphans, log)
		if err != nil {
			return err
		}
		log.Info("orphan sweep finished", slog.Int("removed", len(removed)))
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	if report.Failed > 0 {
		return fmt.Errorf("%d claims failed", report.Failed)
	}
	return nil
}

func newEarnClient(cfg *config.Config, log *slog.Logger) (*rpc.Client, *solprogram.EarnClient, error) {
	key, err := cfg.Keypair()
	if err != nil {
		return nil, nil, err
	}
	client := rpc.New(cfg.RPCURL)
	program, err := solprogram.NewClientWithRPC(client, cfg.ProgramID, cfg.Network)
	if err != nil {
		return nil, nil, err
	}
	earnClient, err := solprogram.NewEarnClient(solprogram.EarnClientConfig{
		Client:    program,
		Sender:    solprogram.NewSender(client, solprogram.SenderConfig{Network: cfg.Network, Logger: log}),
		Authority: key,
		Logger:    log,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, earnClient, nil
}

func openNode(cfg *config.Config, repo *history.Repository, log *slog.Logger) (*earn.Engine, *token.SPL, func(), error) {
	tok, err := nodeToken(cfg, log)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := store.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return nil, nil, nil, err
	}
	engine, err := earn.NewEngine(db, earn.Config{
		Token:  tok,
		Logger: log,
		Sinks:  []earn.ClaimSink{repo},
	})
	if err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return engine, tok, func() { db.Close() }, nil
}

func nodeToken(cfg *config.Config, log *slog.Logger) (*token.SPL, error) {
	if cfg.TokenBackend != config.TokenBackendSPL {
		return nil, errors.New("node mode requires TokenBackend = \"spl\"; the memory ledger is not persisted")
	}
	mint, err := cfg.MintKey()
	if err != nil {
		return nil, err
	}
	key, err := cfg.Keypair()
	if err != nil {
		return nil, err
	}
	client := rpc.New(cfg.RPCURL)
	return token.NewSPL(client, solprogram.NewSender(client, solprogram.SenderConfig{Network: cfg.Network, Logger: log}), token.SPLConfig{
		Mint:          mint,
		MintAuthority: key,
		Logger:        log,
	})
}
