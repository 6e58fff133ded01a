package earn

import "github.com/holiman/uint256"

var bpsDenominator = uint256.NewInt(uint64(OneHundredPercentBps))

// ComputeRewards returns floor(balance*index/lastIndex) - balance. It is zero
// when index does not exceed lastIndex.
func ComputeRewards(balance uint64, index, lastIndex *uint256.Int) (uint64, error) {
	if lastIndex.IsZero() {
		return 0, ErrMathOverflow
	}
	if !index.Gt(lastIndex) || balance == 0 {
		return 0, nil
	}

	bal := uint256.NewInt(balance)
	grown, overflow := new(uint256.Int).MulDivOverflow(bal, index, lastIndex)
	if overflow {
		return 0, ErrMathOverflow
	}
	rewards := new(uint256.Int).Sub(grown, bal)
	if !rewards.IsUint64() {
		return 0, ErrMathOverflow
	}
	return rewards.Uint64(), nil
}

// ComputeFee returns floor(rewards*feeBps/10000), capped at rewards.
func ComputeFee(rewards uint64, feeBps uint16) uint64 {
	if feeBps >= OneHundredPercentBps {
		return rewards
	}
	fee, _ := new(uint256.Int).MulDivOverflow(uint256.NewInt(rewards), uint256.NewInt(uint64(feeBps)), bpsDenominator)
	return fee.Uint64()
}

// ComputeMaxYield is the ceiling of a cycle opened by moving the index from
// oldIndex to newIndex: the growth of base plus the unpaid remainder of the
// previous cycle compounded at the new rate.
func ComputeMaxYield(base, prevMaxYield, prevDistributed uint64, oldIndex, newIndex *uint256.Int) (uint64, error) {
	periodMax, err := ComputeRewards(base, newIndex, oldIndex)
	if err != nil {
		return 0, err
	}

	var leftover uint64
	if prevMaxYield > prevDistributed {
		unpaid := uint256.NewInt(prevMaxYield - prevDistributed)
		grown, overflow := new(uint256.Int).MulDivOverflow(unpaid, newIndex, oldIndex)
		if overflow || !grown.IsUint64() {
			return 0, ErrMathOverflow
		}
		leftover = grown.Uint64()
	}

	total, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(periodMax), uint256.NewInt(leftover))
	if overflow || !total.IsUint64() {
		return 0, ErrMathOverflow
	}
	return total.Uint64(), nil
}

// fitsU128 reports whether v survives the 128-bit persisted layout.
func fitsU128(v *uint256.Int) bool {
	return v.BitLen() <= 128
}
