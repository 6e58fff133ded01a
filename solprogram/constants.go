package solprogram

import (
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/m0-foundation/solana-m/earn"
)

// Program IDs
const (
	// Earn program (declare_id of the deployed program)
	EarnProgramID = "Ea18o3BKAQD8p3DTZ1mabgJiRM7XkoYtmh9TWgxFv6gh"

	// M mint (Devnet)
	MMintDevnet = "J4a2cb2G6QbSsAxNiaEQKrshnt6ijnrCnjzDcDdcAbbK"
)

// PDA Seeds
var (
	SeedGlobal      = earn.SeedGlobal
	SeedEarner      = earn.SeedEarner
	SeedEarnManager = earn.SeedEarnManager
)

// System Program IDs
var (
	SystemProgramID    = solana.SystemProgramID
	Token2022ProgramID = solana.Token2022ProgramID
)

// Explorer URLs
const (
	ExplorerURLDevnet  = "https://explorer.solana.com/tx/%s?cluster=devnet"
	ExplorerURLMainnet = "https://explorer.solana.com/tx/%s"
)

// Confirmation polling
const (
	DefaultConfirmTimeout = 60 * time.Second
	DefaultPollInterval   = 2 * time.Second
)
