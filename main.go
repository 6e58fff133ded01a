package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/holiman/uint256"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/m0-foundation/solana-m/api"
	"github.com/m0-foundation/solana-m/config"
	"github.com/m0-foundation/solana-m/earn"
	"github.com/m0-foundation/solana-m/history"
	"github.com/m0-foundation/solana-m/logger"
	"github.com/m0-foundation/solana-m/merkle"
	"github.com/m0-foundation/solana-m/metrics"
	"github.com/m0-foundation/solana-m/oracle"
	"github.com/m0-foundation/solana-m/solprogram"
	"github.com/m0-foundation/solana-m/store"
	"github.com/m0-foundation/solana-m/token"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
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
	initFlag := flag.Bool("init", false, "initialize an empty ledger from the [Authority] section")
	initialIndexFlag := flag.String("initial-index", "1000000000000", "index used by --init, scaled by 1e12")
	cooldownFlag := flag.Uint64("claim-cooldown", 0, "claim cooldown in seconds used by --init")
	flag.Parse()

	log := logger.New(*verboseFlag)
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	if env := os.Getenv("EARN_CONFIG"); env != "" && *configFlag == "" {
		*configFlag = env
	}
	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := store.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return err
	}
	defer db.Close()

	checks := make(map[string]api.HealthCheck)
	solanaRPC := rpc.New(cfg.RPCURL)
	tok, err := newToken(solanaRPC, cfg, log)
	if err != nil {
		return err
	}
	if cfg.TokenBackend == config.TokenBackendSPL {
		checks["solana"] = func(ctx context.Context) error {
			_, err := solanaRPC.GetHealth(ctx)
			return err
		}
	}

	repo, err := history.Open(cfg.HistoryDSN, log)
	if err != nil {
		return err
	}
	defer repo.Close()

	engine, err := earn.NewEngine(db, earn.Config{
		Token:  tok,
		Logger: log,
		Sinks:  []earn.ClaimSink{repo},
	})
	if err != nil {
		return err
	}

	if *initFlag {
		if err := initialize(ctx, engine, cfg, *initialIndexFlag, *cooldownFlag, log); err != nil {
			return err
		}
	}

	lists, err := loadLists(cfg.Lists)
	if err != nil {
		return err
	}

	portal, err := config.Key(cfg.Authority.Portal)
	if err != nil {
		return fmt.Errorf("invalid portal: %w", err)
	}

	var (
		relayer *oracle.Relayer
		bridge  api.Bridge
	)
	if cfg.Oracle.Enabled() {
		source, err := oracle.NewEVMSource(ctx, oracle.EVMConfig{
			RPCURL:           cfg.Oracle.EVMRPCURL,
			MTokenAddress:    cfg.Oracle.MTokenAddress,
			RegistrarAddress: cfg.Oracle.RegistrarAddress,
		})
		if err != nil {
			return err
		}
		checks["evm"] = source.HealthCheck
		relayer, err = oracle.NewRelayer(oracle.RelayerConfig{
			Source:       source,
			Ledger:       engine,
			Portal:       portal,
			PollInterval: cfg.Oracle.PollInterval,
			Logger:       log,
		})
		if err != nil {
			return err
		}
	}

	var bridgeSigner solana.PublicKey
	if cfg.Oracle.BridgeIngress {
		if bridgeSigner, err = cfg.BridgeSignerKey(); err != nil {
			return fmt.Errorf("invalid bridge signer: %w", err)
		}
		bridge = portalBridge{engine: engine, portal: portal}
		if relayer != nil {
			bridge = relayer
		}
		log.Info("bridge ingress enabled", slog.String("signer", bridgeSigner.String()))
	}

	server, err := api.NewServer(api.Config{
		Ledger:       engine,
		History:      repo,
		Bridge:       bridge,
		BridgeSigner: bridgeSigner,
		Lists:        lists,
		HealthChecks: checks,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	log.Info("earn node starting",
		slog.String("version", version),
		slog.String("token_backend", cfg.TokenBackend),
		slog.String("data_dir", cfg.DataDir),
		slog.Bool("oracle", cfg.Oracle.Enabled()),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(ctx, cfg.ListenAddress)
	})
	if relayer != nil {
		g.Go(func() error {
			if err := relayer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func newToken(client *rpc.Client, cfg *config.Config, log *slog.Logger) (earn.Token, error) {
	mint, err := cfg.MintKey()
	if err != nil {
		return nil, fmt.Errorf("invalid mint: %w", err)
	}
	if cfg.TokenBackend == config.TokenBackendMemory {
		log.Warn("using the in-memory token ledger; balances are not persisted")
		return token.NewMemory(mint, 0), nil
	}

	authority, err := cfg.Keypair()
	if err != nil {
		return nil, err
	}
	sender := solprogram.NewSender(client, solprogram.SenderConfig{
		Network: cfg.Network,
		Logger:  log,
	})
	return token.NewSPL(client, sender, token.SPLConfig{
		Mint:          mint,
		MintAuthority: authority,
		Logger:        log,
	})
}

func initialize(ctx context.Context, engine *earn.Engine, cfg *config.Config, initialIndex string, cooldown uint64, log *slog.Logger) error {
	if _, err := engine.Global(ctx); !errors.Is(err, earn.ErrNotInitialized) {
		if err == nil {
			log.Info("ledger already initialized")
		}
		return err
	}

	keys := make(map[string]solana.PublicKey, 3)
	for name, value := range map[string]string{
		"Admin":         cfg.Authority.Admin,
		"EarnAuthority": cfg.Authority.EarnAuthority,
		"Portal":        cfg.Authority.Portal,
	} {
		key, err := config.Key(value)
		if err != nil || key.IsZero() {
			return fmt.Errorf("Authority.%s is required to initialize", name)
		}
		keys[name] = key
	}
	mint, err := cfg.MintKey()
	if err != nil {
		return err
	}
	index, err := uint256.FromDecimal(initialIndex)
	if err != nil {
		return fmt.Errorf("invalid initial index %q: %w", initialIndex, err)
	}

	_, err = engine.Initialize(ctx, keys["Admin"], earn.InitializeParams{
		EarnAuthority: keys["EarnAuthority"],
		Portal:        keys["Portal"],
		Mint:          mint,
		InitialIndex:  index,
		ClaimCooldown: cooldown,
	})
	return err
}

func loadLists(cfg config.ListsConfig) (map[string]*merkle.Tree, error) {
	lists := make(map[string]*merkle.Tree)
	for name, path := range map[string]string{
		"earners":  cfg.EarnersFile,
		"managers": cfg.ManagersFile,
	} {
		if path == "" {
			continue
		}
		values, err := merkle.LoadList(path)
		if err != nil {
			return nil, err
		}
		tree, err := merkle.NewTree(values)
		if err != nil {
			return nil, fmt.Errorf("failed to build %s tree: %w", name, err)
		}
		lists[name] = tree
	}
	return lists, nil
}

// portalBridge forwards bridge payloads as the portal when no EVM source is
// polled.
type portalBridge struct {
	engine *earn.Engine
	portal solana.PublicKey
}

func (b portalBridge) Propagate(ctx context.Context, update earn.IndexUpdate) (*earn.PropagationResult, error) {
	return b.engine.PropagateIndex(ctx, b.portal, update)
}
