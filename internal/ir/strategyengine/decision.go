// Package strategyengine implements the rate-policy decision and its
// on-chain execution: given a batch's current position in the sorted-troves
// list and the branch's redemption economics, decide whether the batch's
// interest rate should move, and if so submit setNewRate.
package strategyengine

import (
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/liquity/ir-manager/internal/ir/constants"
	"github.com/liquity/ir-manager/internal/ir/fixedpoint"
	"github.com/liquity/ir-manager/internal/ir/types"
)

// Action is the outcome of Decide.
type Action int

const (
	ActionNone Action = iota
	ActionIncrease
	ActionDecrease
)

func (a Action) String() string {
	switch a {
	case ActionIncrease:
		return "increase"
	case ActionDecrease:
		return "decrease"
	default:
		return "none"
	}
}

// basisPoint is 1/10000 in e18 fixed point, the slot width Decide
// interpolates past the trove it stops on.
var basisPoint = big.NewInt(100_000_000_000_000)

// Inputs is everything Decide needs, gathered by Execute from C1 in one
// fetch step.
type Inputs struct {
	DMin               *big.Int // target minimum fraction, e18
	RedemptionRate     *big.Int // f, e18
	UnbackedPortion    *big.Int
	TotalUnbacked      *big.Int
	TotalDebt          *big.Int
	RCurr              *big.Int // batch's current annual rate, e18
	RAvg               *big.Int // batch's weighted-average rate, e18
	SecondsSinceUpdate int64    // t
	UpfrontFeePeriod   int64    // T
	Troves             []types.CombinedTroveData
	BatchManager       common.Address
}

// Decision is Decide's result.
type Decision struct {
	Action    Action
	RCurr     *big.Int
	RNew      *big.Int
	D         *big.Int // debt-in-front
	TargetAmt *big.Int
}

// Decide evaluates the increase/decrease conditions against in and returns
// the action to take, computing r_new whenever either condition holds. All
// arithmetic is unsigned 18-decimal fixed point; overflow or a zero
// totalUnbacked divisor surfaces as an Arithmetic error.
func Decide(in Inputs) (*Decision, error) {
	dMin, err := fixedpoint.FromBig(in.DMin)
	if err != nil {
		return nil, err
	}
	f, err := fixedpoint.FromBig(in.RedemptionRate)
	if err != nil {
		return nil, err
	}
	unbackedPortion, err := fixedpoint.FromBig(in.UnbackedPortion)
	if err != nil {
		return nil, err
	}
	totalUnbacked, err := fixedpoint.FromBig(in.TotalUnbacked)
	if err != nil {
		return nil, err
	}
	totalDebt, err := fixedpoint.FromBig(in.TotalDebt)
	if err != nil {
		return nil, err
	}

	unbackedRatio, err := fixedpoint.DivFixed(unbackedPortion, totalUnbacked)
	if err != nil {
		return nil, err
	}
	maxRedeemable, err := fixedpoint.MulFixed(unbackedRatio, totalDebt)
	if err != nil {
		return nil, err
	}

	minRedemptionFeeDenominator := fixedpoint.FromPct(constants.MinRedemptionFeeDenominatorPct)
	q, err := fixedpoint.DivFixed(f, minRedemptionFeeDenominator)
	if err != nil {
		return nil, err
	}
	numerator, err := fixedpoint.MulFixed(dMin, q)
	if err != nil {
		return nil, err
	}
	onePlusQ, err := fixedpoint.Add(fixedpoint.Scale, q)
	if err != nil {
		return nil, err
	}
	targetPct, err := fixedpoint.DivFixed(numerator, onePlusQ)
	if err != nil {
		return nil, err
	}
	targetAmt, err := fixedpoint.MulFixed(targetPct, maxRedeemable)
	if err != nil {
		return nil, err
	}
	targetAmtBig := targetAmt.ToBig()

	d, rNew := debtInFrontAndNewRate(in.Troves, in.BatchManager, targetAmtBig, in.RCurr)

	dUint, err := fixedpoint.FromBig(d)
	if err != nil {
		return nil, err
	}

	mDown := fixedpoint.FromPct(constants.ToleranceMarginDownPct)
	mUp := fixedpoint.FromPct(constants.ToleranceMarginUpPct)

	oneMinusMDown := new(uint256.Int).Sub(fixedpoint.Scale, mDown)
	increaseThreshold, err := fixedpoint.MulFixed(oneMinusMDown, targetAmt)
	if err != nil {
		return nil, err
	}

	onePlusMUp := new(uint256.Int).Add(fixedpoint.Scale, mUp)
	decreaseThreshold, err := fixedpoint.MulFixed(onePlusMUp, targetAmt)
	if err != nil {
		return nil, err
	}

	decision := &Decision{RCurr: in.RCurr, RNew: rNew, D: d, TargetAmt: targetAmtBig}

	if dUint.Lt(increaseThreshold) {
		decision.Action = ActionIncrease
		return decision, nil
	}

	if dUint.Gt(decreaseThreshold) && decreaseTimingHolds(in, rNew) {
		decision.Action = ActionDecrease
		return decision, nil
	}

	decision.Action = ActionNone
	return decision, nil
}

// decreaseTimingHolds evaluates the decrease condition's second clause:
// t >= T, or (1 - t/T) * (r_curr - r_new) > r_avg. r_curr - r_new can be
// negative, so this term is evaluated in signed big.Int rather than
// uint256.
func decreaseTimingHolds(in Inputs, rNew *big.Int) bool {
	if in.UpfrontFeePeriod <= 0 || in.SecondsSinceUpdate >= in.UpfrontFeePeriod {
		return true
	}

	// (1 - t/T) scaled by T: (T - t) / T.
	tRemaining := big.NewInt(in.UpfrontFeePeriod - in.SecondsSinceUpdate)
	period := big.NewInt(in.UpfrontFeePeriod)

	diff := new(big.Int).Sub(in.RCurr, rNew)
	lhs := new(big.Int).Mul(diff, tRemaining)
	rhs := new(big.Int).Mul(in.RAvg, period)
	return lhs.Cmp(rhs) > 0
}

// debtInFrontAndNewRate walks the branch's sorted-troves list once,
// computing both the batch's current debt-in-front and the rate that would
// place the batch so the cumulative debt of troves in front of it equals
// targetAmt. Ties in rate are broken by ascending trove-id.
func debtInFrontAndNewRate(troves []types.CombinedTroveData, batchManager common.Address, targetAmt *big.Int, rCurr *big.Int) (d *big.Int, rNew *big.Int) {
	ordered := make([]types.CombinedTroveData, len(troves))
	copy(ordered, troves)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].AnnualInterestRate.Cmp(ordered[j].AnnualInterestRate) != 0 {
			return ordered[i].AnnualInterestRate.Cmp(ordered[j].AnnualInterestRate) < 0
		}
		return ordered[i].TroveID.Cmp(ordered[j].TroveID) < 0
	})

	d = new(big.Int)
	allCum := new(big.Int)
	exclCum := new(big.Int)
	headFound := false
	rNewFound := false
	var lastExclRate *big.Int

	for _, tr := range ordered {
		isBatch := tr.InterestBatchManager == batchManager

		if !headFound {
			if isBatch {
				d.Set(allCum)
				headFound = true
			} else {
				allCum.Add(allCum, tr.Debt)
			}
		}

		if !isBatch {
			lastExclRate = tr.AnnualInterestRate
			if !rNewFound {
				projected := new(big.Int).Add(exclCum, tr.Debt)
				if projected.Cmp(targetAmt) > 0 {
					rNew = new(big.Int).Add(tr.AnnualInterestRate, basisPoint)
					rNewFound = true
				} else {
					exclCum.Set(projected)
				}
			}
		}
	}

	if !headFound {
		d.Set(allCum)
	}
	if !rNewFound {
		if lastExclRate != nil {
			rNew = new(big.Int).Add(lastExclRate, basisPoint)
		} else {
			rNew = new(big.Int).Set(rCurr)
		}
	}
	return d, rNew
}
