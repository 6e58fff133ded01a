package earn

import (
	"context"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/m0-foundation/solana-m/metrics"
)

// IndexFloat converts a scaled index to its real value, for display only.
func IndexFloat(index *uint256.Int) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(index.ToBig()),
		new(big.Float).SetUint64(IndexScale),
	).Float64()
	return f
}

func observeGlobal(g *Global) {
	metrics.CurrentIndex.Set(IndexFloat(&g.Index))
	metrics.CycleYield.WithLabelValues("max_yield").Set(float64(g.MaxYield))
	metrics.CycleYield.WithLabelValues("distributed").Set(float64(g.Distributed))
}

// emit delivers a committed claim to every sink. Sink failures are logged and
// never undo the claim.
func (e *Engine) emit(ctx context.Context, claim RewardsClaim) {
	metrics.ClaimsTotal.WithLabelValues("claimed").Inc()
	metrics.RewardsMintedTotal.Add(float64(claim.Amount))
	metrics.FeesMintedTotal.Add(float64(claim.Fee))

	e.logger.Debug("rewards claimed",
		"token_account", claim.TokenAccount,
		"recipient", claim.Recipient,
		"amount", claim.Amount,
		"fee", claim.Fee,
		"index", claim.Index.String())

	for _, sink := range e.sinks {
		if err := sink.RecordClaim(ctx, claim); err != nil {
			e.logger.Warn("failed to record claim",
				"token_account", claim.TokenAccount,
				"index", claim.Index.String(),
				"error", err)
		}
	}
}
