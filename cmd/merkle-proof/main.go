// Command merkle-proof prints the inclusion or non-inclusion proof of an
// address against an earner or earn-manager list, and can wrap it in an
// unsigned registrar transaction.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	flag "github.com/spf13/pflag"

	"github.com/m0-foundation/solana-m/api"
	"github.com/m0-foundation/solana-m/config"
	"github.com/m0-foundation/solana-m/logger"
	"github.com/m0-foundation/solana-m/merkle"
	"github.com/m0-foundation/solana-m/oracle"
	"github.com/m0-foundation/solana-m/retry"
	"github.com/m0-foundation/solana-m/solprogram"
)

type output struct {
	api.ProofView
	Transaction string `json:"transaction,omitempty"`
	RootMatches *bool  `json:"root_matches,omitempty"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.String("config", "", "path to the TOML config file (or set EARN_CONFIG env var)")
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	listFlag := flag.String("list", "earners", "list to prove against: earners or managers")
	fileFlag := flag.String("file", "", "list file, one base58 or 0x hex value per line (default: [Lists] of the config)")
	evmFlag := flag.Bool("evm", false, "read the list from the registrar contract instead of a file")
	addressFlag := flag.String("address", "", "address to prove (required)")
	checkRootFlag := flag.Bool("check-root", false, "compare the computed root with the on-chain global account")
	txFlag := flag.String("tx", "", "build an unsigned transaction: add (add_registrar_earner) or remove (remove_registrar_earner)")
	tokenAccountFlag := flag.String("token-account", "", "earner token account for --tx")
	payerFlag := flag.String("payer", "", "fee payer and signer for --tx (default: --address)")
	timeoutFlag := flag.Duration("timeout", 30*time.Second, "timeout for RPC calls")
	flag.Parse()

	log := logger.New(*verboseFlag)

	if *addressFlag == "" {
		return errors.New("--address is required")
	}
	address, err := merkle.ParseValue(*addressFlag)
	if err != nil {
		return fmt.Errorf("invalid --address: %w", err)
	}

	if env := os.Getenv("EARN_CONFIG"); env != "" && *configFlag == "" {
		*configFlag = env
	}
	cfg, err := config.Load(*configFlag)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeoutFlag)
	defer cancel()

	var values [][32]byte
	if *evmFlag {
		values, err = evmList(ctx, cfg, *listFlag)
	} else {
		values, err = fileList(cfg, *listFlag, *fileFlag)
	}
	if err != nil {
		return err
	}
	log.Debug("list loaded", "list", *listFlag, "values", len(values))

	tree, err := merkle.NewTree(values)
	if err != nil {
		return err
	}
	view, err := api.BuildProof(*listFlag, tree, address)
	if err != nil {
		return err
	}
	out := output{ProofView: view}

	var program *solprogram.Client
	if *checkRootFlag || *txFlag != "" {
		program, err = solprogram.NewClient(cfg.RPCURL, cfg.ProgramID, cfg.Network)
		if err != nil {
			return err
		}
	}

	if *checkRootFlag {
		g, err := program.GetGlobal(ctx)
		if err != nil {
			return err
		}
		onChain := g.EarnerRoot
		if *listFlag != "earners" {
			onChain = g.ManagerRoot
		}
		matches := onChain == tree.Root()
		out.RootMatches = &matches
		if !matches {
			log.Warn("computed root differs from the on-chain root",
				"computed", tree.Root().String(),
				"on_chain", onChain.String(),
			)
		}
	}

	if *txFlag != "" {
		tx, err := buildTransaction(ctx, program, *txFlag, view, address, *tokenAccountFlag, *payerFlag)
		if err != nil {
			return err
		}
		out.Transaction = tx
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func fileList(cfg *config.Config, list, file string) ([][32]byte, error) {
	if file == "" {
		switch list {
		case "earners":
			file = cfg.Lists.EarnersFile
		case "managers":
			file = cfg.Lists.ManagersFile
		}
	}
	if file == "" {
		return nil, fmt.Errorf("no list file for %q: pass --file or set [Lists]", list)
	}
	return merkle.LoadList(file)
}

func evmList(ctx context.Context, cfg *config.Config, list string) ([][32]byte, error) {
	if !cfg.Oracle.Enabled() {
		return nil, errors.New("--evm needs [Oracle] EVMRPCURL, MTokenAddress and RegistrarAddress")
	}
	key, err := oracle.ListKey(list)
	if err != nil {
		return nil, err
	}
	source, err := oracle.NewEVMSource(ctx, oracle.EVMConfig{
		RPCURL:           cfg.Oracle.EVMRPCURL,
		MTokenAddress:    cfg.Oracle.MTokenAddress,
		RegistrarAddress: cfg.Oracle.RegistrarAddress,
	})
	if err != nil {
		return nil, err
	}
	var values [][32]byte
	err = retry.Do(ctx, retry.DefaultConfig(), func() error {
		values, err = source.List(ctx, key)
		return err
	})
	return values, err
}

func buildTransaction(ctx context.Context, program *solprogram.Client, kind string, view api.ProofView, address solana.PublicKey, tokenAccount, payer string) (string, error) {
	if view.List != "earners" {
		return "", errors.New("--tx only applies to the earners list")
	}
	if tokenAccount == "" {
		return "", errors.New("--token-account is required with --tx")
	}
	ta, err := solana.PublicKeyFromBase58(tokenAccount)
	if err != nil {
		return "", fmt.Errorf("invalid --token-account: %w", err)
	}
	signer := address
	if payer != "" {
		if signer, err = solana.PublicKeyFromBase58(payer); err != nil {
			return "", fmt.Errorf("invalid --payer: %w", err)
		}
	}

	var ix solana.Instruction
	switch kind {
	case "add":
		if !view.Included {
			return "", fmt.Errorf("%s is not in the earners list", address)
		}
		ix, err = program.BuildAddRegistrarEarnerInstruction(signer, address, ta, view.Proof)
	case "remove":
		if view.Included {
			return "", fmt.Errorf("%s is still in the earners list", address)
		}
		absence, decodeErr := view.NonInclusion.Decode()
		if decodeErr != nil {
			return "", decodeErr
		}
		ix, err = program.BuildRemoveRegistrarEarnerInstruction(signer, ta, absence)
	default:
		return "", fmt.Errorf("unknown --tx %q: use add or remove", kind)
	}
	if err != nil {
		return "", fmt.Errorf("failed to build instruction: %w", err)
	}
	return program.CreateTransaction(ctx, []solana.Instruction{ix}, signer)
}
