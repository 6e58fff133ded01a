package earn

const (
	// IndexScale is the fixed-point scale of the index: IndexScale means 1.0.
	IndexScale uint64 = 1_000_000_000_000

	// MaxClaimCooldown is one week in seconds.
	MaxClaimCooldown uint64 = 604_800

	// OneHundredPercentBps is the fee ceiling in basis points.
	OneHundredPercentBps uint16 = 10_000
)

// PDA seeds shared with the deployed program.
var (
	SeedGlobal      = []byte("global")
	SeedEarner      = []byte("earner")
	SeedEarnManager = []byte("earn-manager")
)

// Account names hashed into record discriminators.
const (
	GlobalAccountName      = "Global"
	EarnerAccountName      = "Earner"
	EarnManagerAccountName = "EarnManager"
)
