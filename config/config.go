// Package config loads the earn node and tool configuration from a TOML
// file, a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"

	"github.com/m0-foundation/solana-m/solprogram"
)

const (
	TokenBackendMemory = "memory"
	TokenBackendSPL    = "spl"
)

const (
	DefaultNetwork       = "devnet"
	DefaultDataDir       = "./earn-data"
	DefaultListenAddress = ":8080"
	DefaultPollInterval  = time.Minute
	DefaultConcurrency   = 4
	DefaultMaxAttempts   = 5
	DefaultHistoryFile   = "history.db"
)

type Config struct {
	Network       string `toml:"Network"`
	RPCURL        string `toml:"RPCURL"`
	ProgramID     string `toml:"ProgramID"`
	Mint          string `toml:"Mint"`
	DataDir       string `toml:"DataDir"`
	HistoryDSN    string `toml:"HistoryDSN"`
	ListenAddress string `toml:"ListenAddress"`
	// TokenBackend selects the token capability: "memory" or "spl".
	TokenBackend string `toml:"TokenBackend"`

	Authority AuthorityConfig `toml:"Authority"`
	Oracle    OracleConfig    `toml:"Oracle"`
	Claimer   ClaimerConfig   `toml:"Claimer"`
	Lists     ListsConfig     `toml:"Lists"`
}

type AuthorityConfig struct {
	Admin         string `toml:"Admin"`
	EarnAuthority string `toml:"EarnAuthority"`
	Portal        string `toml:"Portal"`
	// KeypairPath is a solana-keygen JSON file. It signs mints for the SPL
	// backend and claims for the earn-authority tool.
	KeypairPath string `toml:"KeypairPath"`
}

type OracleConfig struct {
	EVMRPCURL        string        `toml:"EVMRPCURL"`
	MTokenAddress    string        `toml:"MTokenAddress"`
	RegistrarAddress string        `toml:"RegistrarAddress"`
	PollInterval     time.Duration `toml:"PollInterval"`
	// BridgeIngress enables POST /v1/bridge/index. Payloads must carry an
	// ed25519 signature by BridgeSigner, which defaults to Authority.Portal.
	BridgeIngress bool   `toml:"BridgeIngress"`
	BridgeSigner  string `toml:"BridgeSigner"`
}

// Enabled reports whether an EVM source is configured.
func (o OracleConfig) Enabled() bool {
	return o.EVMRPCURL != ""
}

type ClaimerConfig struct {
	Concurrency   int     `toml:"Concurrency"`
	RatePerSecond float64 `toml:"RatePerSecond"`
	CompleteAfter bool    `toml:"CompleteAfter"`
	MaxAttempts   int     `toml:"MaxAttempts"`
}

type ListsConfig struct {
	EarnersFile  string `toml:"EarnersFile"`
	ManagersFile string `toml:"ManagersFile"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (optional), a .env file in the working directory when
// present, and the environment, in increasing order of precedence. The
// result is validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{}
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config %s has unknown key %q", path, undecoded[0].String())
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	for env, field := range map[string]*string{
		"SOLANA_RPC_URL":      &c.RPCURL,
		"EARN_PROGRAM_ID":     &c.ProgramID,
		"EARN_MINT":           &c.Mint,
		"EVM_RPC_URL":         &c.Oracle.EVMRPCURL,
		"EARN_DATA_DIR":       &c.DataDir,
		"EARN_HISTORY_DSN":    &c.HistoryDSN,
		"EARN_LISTEN_ADDRESS": &c.ListenAddress,
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*field = v
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Network == "" {
		c.Network = DefaultNetwork
	}
	if c.RPCURL == "" {
		c.RPCURL = defaultRPCURL(c.Network)
	}
	if c.ProgramID == "" {
		c.ProgramID = solprogram.EarnProgramID
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.HistoryDSN == "" {
		c.HistoryDSN = filepath.Join(c.DataDir, DefaultHistoryFile)
	}
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.TokenBackend == "" {
		c.TokenBackend = TokenBackendMemory
	}
	if c.Oracle.PollInterval <= 0 {
		c.Oracle.PollInterval = DefaultPollInterval
	}
	if c.Claimer.Concurrency <= 0 {
		c.Claimer.Concurrency = DefaultConcurrency
	}
	if c.Claimer.MaxAttempts <= 0 {
		c.Claimer.MaxAttempts = DefaultMaxAttempts
	}
}

func defaultRPCURL(network string) string {
	switch network {
	case "mainnet", "mainnet-beta":
		return rpc.MainNetBeta_RPC
	case "testnet":
		return rpc.TestNet_RPC
	case "localhost", "localnet":
		return rpc.LocalNet_RPC
	default:
		return rpc.DevNet_RPC
	}
}

// Validate checks that every configured key parses and that the selected
// backends have what they need.
func (c *Config) Validate() error {
	var errs []error
	for name, value := range map[string]string{
		"ProgramID":               c.ProgramID,
		"Mint":                    c.Mint,
		"Authority.Admin":         c.Authority.Admin,
		"Authority.EarnAuthority": c.Authority.EarnAuthority,
		"Authority.Portal":        c.Authority.Portal,
		"Oracle.BridgeSigner":     c.Oracle.BridgeSigner,
	} {
		if value == "" {
			continue
		}
		if _, err := solana.PublicKeyFromBase58(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid public key %q: %w", name, value, err))
		}
	}

	switch c.TokenBackend {
	case TokenBackendMemory:
	case TokenBackendSPL:
		if c.Mint == "" {
			errs = append(errs, errors.New("Mint is required for the spl token backend"))
		}
		if c.Authority.KeypairPath == "" {
			errs = append(errs, errors.New("Authority.KeypairPath is required for the spl token backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("TokenBackend: unknown backend %q", c.TokenBackend))
	}

	if c.Oracle.Enabled() && (c.Oracle.MTokenAddress == "" || c.Oracle.RegistrarAddress == "") {
		errs = append(errs, errors.New("Oracle: MTokenAddress and RegistrarAddress are required with EVMRPCURL"))
	}
	if c.Oracle.BridgeIngress && c.Oracle.BridgeSigner == "" && c.Authority.Portal == "" {
		errs = append(errs, errors.New("Oracle.BridgeIngress needs Oracle.BridgeSigner or Authority.Portal"))
	}
	if c.Claimer.RatePerSecond < 0 {
		errs = append(errs, errors.New("Claimer.RatePerSecond must not be negative"))
	}
	return errors.Join(errs...)
}

// BridgeSignerKey returns the key that authenticates bridge payloads.
func (c *Config) BridgeSignerKey() (solana.PublicKey, error) {
	if c.Oracle.BridgeSigner != "" {
		return Key(c.Oracle.BridgeSigner)
	}
	return Key(c.Authority.Portal)
}

// Key parses an optional base58 field. An empty value yields the zero key.
func Key(value string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, nil
	}
	return solana.PublicKeyFromBase58(value)
}

// MintKey returns the configured mint, falling back to the devnet M mint.
func (c *Config) MintKey() (solana.PublicKey, error) {
	if c.Mint == "" {
		return solana.PublicKeyFromBase58(solprogram.MMintDevnet)
	}
	return solana.PublicKeyFromBase58(c.Mint)
}

// Keypair reads Authority.KeypairPath.
func (c *Config) Keypair() (solana.PrivateKey, error) {
	if c.Authority.KeypairPath == "" {
		return nil, errors.New("Authority.KeypairPath is not configured")
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(c.Authority.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read keypair %s: %w", c.Authority.KeypairPath, err)
	}
	return key, nil
}
