package strategyengine

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/liquity/ir-manager/internal/ir/types"
)

var testBatchManager = common.HexToAddress("0xBA7C4000000000000000000000000000000001")

// dec converts a decimal string to its e18 fixed-point representation,
// exact for the finite decimals used throughout these scenarios.
func dec(s string) *big.Int {
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		panic("bad decimal literal: " + s)
	}
	scaled := new(big.Int).Mul(r.Num(), big.NewInt(1_000_000_000_000_000_000))
	return scaled.Div(scaled, r.Denom())
}

// baseInputs builds the shared economics of scenarios 1-3: D_min=0.05,
// f=0.01, a max-redeemable of 1,000,000 (unbacked ratio pinned at 1 so
// max-redeemable equals total debt), giving TargetAmt ~= 33,333.33.
// headDebt is the debt-in-front placed on a single non-batch trove ahead
// of the batch's own trove.
func baseInputs(headDebt *big.Int, t int64) Inputs {
	nonBatchTrove := types.CombinedTroveData{
		TroveID:              big.NewInt(1),
		Debt:                 headDebt,
		AnnualInterestRate:   dec("0.0489"),
		InterestBatchManager: common.Address{},
	}
	batchTrove := types.CombinedTroveData{
		TroveID:              big.NewInt(2),
		Debt:                 dec("10000"),
		AnnualInterestRate:   dec("0.05"),
		InterestBatchManager: testBatchManager,
	}
	return Inputs{
		DMin:               dec("0.05"),
		RedemptionRate:     dec("0.01"),
		UnbackedPortion:    dec("1"),
		TotalUnbacked:      dec("1"),
		TotalDebt:          dec("1000000"),
		RCurr:              dec("0.05"),
		RAvg:               dec("0.004"),
		SecondsSinceUpdate: t,
		UpfrontFeePeriod:   7 * 24 * 60 * 60,
		Troves:             []types.CombinedTroveData{nonBatchTrove, batchTrove},
		BatchManager:       testBatchManager,
	}
}

func TestDecide_NoOpTick(t *testing.T) {
	in := baseInputs(dec("48000"), 24*60*60) // t = 1 day
	d, err := Decide(in)
	require.NoError(t, err)
	require.Equal(t, ActionNone, d.Action)
	require.Equal(t, dec("48000"), d.D)
	// TargetAmt ~= 33,333.333e18
	require.True(t, d.TargetAmt.Cmp(dec("33333")) > 0)
	require.True(t, d.TargetAmt.Cmp(dec("33334")) < 0)
}

func TestDecide_DecreaseFiresByTime(t *testing.T) {
	in := baseInputs(dec("48000"), 8*24*60*60) // t = 8 days > T = 7 days
	d, err := Decide(in)
	require.NoError(t, err)
	require.Equal(t, ActionDecrease, d.Action)
	require.Equal(t, dec("0.049"), d.RNew)
}

func TestDecide_IncreaseFires(t *testing.T) {
	in := baseInputs(dec("20000"), 24*60*60) // d = 20,000 < (1-0.25)*33,333 = 25,000
	d, err := Decide(in)
	require.NoError(t, err)
	require.Equal(t, ActionIncrease, d.Action)
	require.Equal(t, dec("0.049"), d.RNew)
	require.Equal(t, dec("20000"), d.D)
}

func TestDecide_TotalUnbackedZero_ReturnsArithmeticError(t *testing.T) {
	in := baseInputs(dec("48000"), 24*60*60)
	in.TotalUnbacked = big.NewInt(0)
	_, err := Decide(in)
	require.Error(t, err)
}

func TestDecide_NoTrovesAtAll_FallsBackToCurrentRate(t *testing.T) {
	in := baseInputs(dec("0"), 24*60*60)
	in.Troves = nil
	d, err := Decide(in)
	require.NoError(t, err)
	require.Equal(t, in.RCurr, d.RNew)
	require.Equal(t, big.NewInt(0), d.D)
}

// roundTripInputs shares the same D_min=0.05, f=0.01, TotalDebt=1,000,000
// economics as baseInputs (TargetAmt ~= 33,333.33), but replaces the
// single head trove with five non-batch troves whose cumulative debt
// (60,000) exceeds TargetAmt, so debtInFrontAndNewRate finds a genuine
// mid-list crossing (at the 0.03-rate trove) instead of falling through
// to its last-resort fallback. batchRate positions the batch trove either
// below all five (debt-in-front = 0, forcing Increase) or above all five
// (debt-in-front = 60,000, forcing Decrease); either way the crossing
// trove — and so RNew — is identical, since debtInFrontAndNewRate's
// target-rate search only ever walks the non-batch troves.
func roundTripInputs(batchRate *big.Int, t int64) Inputs {
	nonBatch := []types.CombinedTroveData{
		{TroveID: big.NewInt(1), Debt: dec("10000"), AnnualInterestRate: dec("0.01")},
		{TroveID: big.NewInt(2), Debt: dec("10000"), AnnualInterestRate: dec("0.02")},
		{TroveID: big.NewInt(3), Debt: dec("15000"), AnnualInterestRate: dec("0.03")},
		{TroveID: big.NewInt(4), Debt: dec("15000"), AnnualInterestRate: dec("0.04")},
		{TroveID: big.NewInt(5), Debt: dec("10000"), AnnualInterestRate: dec("0.06")},
	}
	batchTrove := types.CombinedTroveData{
		TroveID:              big.NewInt(6),
		Debt:                 dec("5000"),
		AnnualInterestRate:   batchRate,
		InterestBatchManager: testBatchManager,
	}
	return Inputs{
		DMin:               dec("0.05"),
		RedemptionRate:     dec("0.01"),
		UnbackedPortion:    dec("1"),
		TotalUnbacked:      dec("1"),
		TotalDebt:          dec("1000000"),
		RCurr:              batchRate,
		RAvg:               dec("0.004"),
		SecondsSinceUpdate: t,
		UpfrontFeePeriod:   7 * 24 * 60 * 60,
		Troves:             append(nonBatch, batchTrove),
		BatchManager:       testBatchManager,
	}
}

func TestDecide_RoundTripLaw(t *testing.T) {
	// Decide = Increase implies new rate > old; Decide = Decrease implies new < old
	// (see SPEC_FULL.md §9(i): this is the worked-example direction, not the
	// literal §8 Law prose, which contradicts spec.md's own numbers).
	//
	// 0.005 sits below every non-batch rate, so debt-in-front is 0 and Increase fires.
	inc := roundTripInputs(dec("0.005"), 24*60*60)
	incDecision, err := Decide(inc)
	require.NoError(t, err)
	require.Equal(t, ActionIncrease, incDecision.Action)
	require.Equal(t, dec("0.0301"), incDecision.RNew)
	require.True(t, incDecision.RNew.Cmp(incDecision.RCurr) > 0)

	// 0.07 sits above every non-batch rate, so debt-in-front is their full
	// 60,000 sum and Decrease fires (t=8d exceeds the 7d upfront-fee period).
	decr := roundTripInputs(dec("0.07"), 8*24*60*60)
	decDecision, err := Decide(decr)
	require.NoError(t, err)
	require.Equal(t, ActionDecrease, decDecision.Action)
	require.Equal(t, dec("0.0301"), decDecision.RNew)
	require.True(t, decDecision.RNew.Cmp(decDecision.RCurr) < 0)

	// Both scenarios target the same rate position: RNew is a property of
	// the branch's trove list and TargetAmt alone, not of the action.
	require.Equal(t, incDecision.RNew, decDecision.RNew)
}

func TestDebtInFrontAndNewRate_TieBreakByAscendingTroveID(t *testing.T) {
	sameRate := dec("0.03")
	troves := []types.CombinedTroveData{
		{TroveID: big.NewInt(5), Debt: dec("1000"), AnnualInterestRate: sameRate, InterestBatchManager: common.Address{}},
		{TroveID: big.NewInt(3), Debt: dec("2000"), AnnualInterestRate: sameRate, InterestBatchManager: common.Address{}},
		{TroveID: big.NewInt(4), Debt: dec("500"), AnnualInterestRate: dec("0.04"), InterestBatchManager: testBatchManager},
	}
	d, rNew := debtInFrontAndNewRate(troves, testBatchManager, dec("100000"), dec("0.04"))
	// Both same-rate troves (ids 3 then 5) precede the batch's head trove.
	require.Equal(t, dec("3000"), d)
	require.NotNil(t, rNew)
}
