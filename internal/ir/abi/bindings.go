// Package abi holds the go-ethereum ABI bindings for every Liquity V2
// contract interface and the ckETH helper contract this agent calls. Each
// binding parses an embedded ABI JSON file and exposes typed Pack/Unpack
// helpers instead of raw selector/hex manipulation; callers supply the
// contract address when they make the call.
package abi

import (
	_ "embed"
	"fmt"
	"math/big"
	"strings"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/liquity/ir-manager/internal/ir/types"
)

//go:embed json/batch_manager.json
var batchManagerABIJSON string

//go:embed json/trove_manager.json
var troveManagerABIJSON string

//go:embed json/multi_trove_getter.json
var multiTroveGetterABIJSON string

//go:embed json/collateral_registry.json
var collateralRegistryABIJSON string

//go:embed json/hint_helpers.json
var hintHelpersABIJSON string

//go:embed json/sorted_troves.json
var sortedTrovesABIJSON string

//go:embed json/cketh_helper.json
var ckETHHelperABIJSON string

func parse(jsonStr string) gethabi.ABI {
	parsed, err := gethabi.JSON(strings.NewReader(jsonStr))
	if err != nil {
		panic(fmt.Sprintf("abi: failed to parse embedded ABI: %v", err))
	}
	return parsed
}

var (
	BatchManagerABI       = parse(batchManagerABIJSON)
	TroveManagerABI       = parse(troveManagerABIJSON)
	MultiTroveGetterABI   = parse(multiTroveGetterABIJSON)
	CollateralRegistryABI = parse(collateralRegistryABIJSON)
	HintHelpersABI        = parse(hintHelpersABIJSON)
	SortedTrovesABI       = parse(sortedTrovesABIJSON)
	CkETHHelperABI        = parse(ckETHHelperABIJSON)
)

// PackSetNewRate encodes BatchManager.setNewRate's calldata.
func PackSetNewRate(newRate, upperHint, lowerHint, maxUpfrontFee *big.Int) ([]byte, error) {
	data, err := BatchManagerABI.Pack("setNewRate", newRate, upperHint, lowerHint, maxUpfrontFee)
	if err != nil {
		return nil, fmt.Errorf("pack setNewRate: %w", err)
	}
	return data, nil
}

// PackGetRedemptionRateWithDecay encodes the no-arg call.
func PackGetRedemptionRateWithDecay() ([]byte, error) {
	return CollateralRegistryABI.Pack("getRedemptionRateWithDecay")
}

// PackGetEntireSystemDebt encodes the no-arg call.
func PackGetEntireSystemDebt() ([]byte, error) {
	return CollateralRegistryABI.Pack("getEntireSystemDebt")
}

// PackGetUnbackedPortionPriceAndRedeemability encodes the no-arg call.
func PackGetUnbackedPortionPriceAndRedeemability() ([]byte, error) {
	return CollateralRegistryABI.Pack("getUnbackedPortionPriceAndRedeemability")
}

// PackGetMultipleSortedTroves encodes
// MultiTroveGetter.getMultipleSortedTroves's calldata.
func PackGetMultipleSortedTroves(collIndex *big.Int, startIdx *big.Int, count *big.Int) ([]byte, error) {
	return MultiTroveGetterABI.Pack("getMultipleSortedTroves", collIndex, startIdx, count)
}

// PackGetDebtPerInterestRateAscending encodes
// MultiTroveGetter.getDebtPerInterestRateAscending's calldata.
func PackGetDebtPerInterestRateAscending(collIndex, startID, maxIterations *big.Int) ([]byte, error) {
	return MultiTroveGetterABI.Pack("getDebtPerInterestRateAscending", collIndex, startID, maxIterations)
}

// PackGetLatestBatchData encodes TroveManager.getLatestBatchData's calldata.
func PackGetLatestBatchData(batchAddress common.Address) ([]byte, error) {
	return TroveManagerABI.Pack("getLatestBatchData", batchAddress)
}

// PackGetTroveAnnualInterestRate encodes
// TroveManager.getTroveAnnualInterestRate's calldata.
func PackGetTroveAnnualInterestRate(troveID *big.Int) ([]byte, error) {
	return TroveManagerABI.Pack("getTroveAnnualInterestRate", troveID)
}

// PackGetAnnualInterestRate encodes BatchManager.getAnnualInterestRate's
// (no-arg) calldata.
func PackGetAnnualInterestRate() ([]byte, error) {
	return BatchManagerABI.Pack("getAnnualInterestRate")
}

// PackGetApproxHint encodes HintHelpers.getApproxHint's calldata.
func PackGetApproxHint(collIndex, interestRate, numTrials, seed *big.Int) ([]byte, error) {
	return HintHelpersABI.Pack("getApproxHint", collIndex, interestRate, numTrials, seed)
}

// PackFindInsertPosition encodes SortedTroves.findInsertPosition's calldata.
func PackFindInsertPosition(annualInterestRate, prevID, nextID *big.Int) ([]byte, error) {
	return SortedTrovesABI.Pack("findInsertPosition", annualInterestRate, prevID, nextID)
}

// PackDeposit encodes the ckETH helper's deposit(bytes32) calldata.
func PackDeposit(principal [32]byte) ([]byte, error) {
	return CkETHHelperABI.Pack("deposit", principal)
}

// UnpackUint256 unpacks a single-uint256-return call result.
func UnpackUint256(a gethabi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := a.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, out[0])
	}
	return v, nil
}

// UnpackMultipleSortedTroves unpacks getMultipleSortedTroves's result.
func UnpackMultipleSortedTroves(data []byte) ([]types.CombinedTroveData, error) {
	out, err := MultiTroveGetterABI.Unpack("getMultipleSortedTroves", data)
	if err != nil {
		return nil, fmt.Errorf("unpack getMultipleSortedTroves: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unpack getMultipleSortedTroves: empty result")
	}
	troves, ok := out[0].([]struct {
		Id                   *big.Int       `abi:"id"`
		Debt                 *big.Int       `abi:"debt"`
		Coll                 *big.Int       `abi:"coll"`
		AnnualInterestRate   *big.Int       `abi:"annualInterestRate"`
		LastDebtUpdateTime   *big.Int       `abi:"lastDebtUpdateTime"`
		InterestBatchManager common.Address `abi:"interestBatchManager"`
	})
	if !ok {
		return nil, fmt.Errorf("unpack getMultipleSortedTroves: unexpected type %T", out[0])
	}
	result := make([]types.CombinedTroveData, len(troves))
	for i, t := range troves {
		result[i] = types.CombinedTroveData{
			TroveID:              t.Id,
			Debt:                 t.Debt,
			Coll:                 t.Coll,
			AnnualInterestRate:   t.AnnualInterestRate,
			LastDebtUpdateTime:   t.LastDebtUpdateTime,
			InterestBatchManager: t.InterestBatchManager,
		}
	}
	return result, nil
}

// UnpackDebtPerInterestRateAscending unpacks
// getDebtPerInterestRateAscending's result: the ascending-rate bucket list
// plus the trove id to resume iteration from on the next page.
func UnpackDebtPerInterestRateAscending(data []byte) ([]types.DebtPerInterestRate, *big.Int, error) {
	out, err := MultiTroveGetterABI.Unpack("getDebtPerInterestRateAscending", data)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack getDebtPerInterestRateAscending: %w", err)
	}
	if len(out) != 2 {
		return nil, nil, fmt.Errorf("unpack getDebtPerInterestRateAscending: expected 2 outputs, got %d", len(out))
	}
	buckets, ok := out[0].([]struct {
		InterestBatchManager common.Address `abi:"interestBatchManager"`
		InterestRate         *big.Int       `abi:"interestRate"`
		Debt                 *big.Int       `abi:"debt"`
	})
	if !ok {
		return nil, nil, fmt.Errorf("unpack getDebtPerInterestRateAscending: unexpected type %T", out[0])
	}
	currID, ok := out[1].(*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("unpack getDebtPerInterestRateAscending: unexpected currId type %T", out[1])
	}
	result := make([]types.DebtPerInterestRate, len(buckets))
	for i, b := range buckets {
		result[i] = types.DebtPerInterestRate{
			InterestBatchManager: b.InterestBatchManager,
			InterestRate:         b.InterestRate,
			Debt:                 b.Debt,
		}
	}
	return result, currID, nil
}

// UnpackLatestBatchData unpacks getLatestBatchData's result tuple.
func UnpackLatestBatchData(data []byte) (*types.LatestBatchData, error) {
	out, err := TroveManagerABI.Unpack("getLatestBatchData", data)
	if err != nil {
		return nil, fmt.Errorf("unpack getLatestBatchData: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unpack getLatestBatchData: empty result")
	}
	v, ok := out[0].(struct {
		TotalDebtShares           *big.Int `abi:"totalDebtShares"`
		TotalDebt                 *big.Int `abi:"totalDebt"`
		AnnualInterestRate        *big.Int `abi:"annualInterestRate"`
		AnnualManagementFee       *big.Int `abi:"annualManagementFee"`
		WeightedRecordedDebt      *big.Int `abi:"weightedRecordedDebt"`
		AccruedInterest           *big.Int `abi:"accruedInterest"`
		AccruedManagementFee      *big.Int `abi:"accruedManagementFee"`
		AccruedBatchManagementFee *big.Int `abi:"accruedBatchManagementFee"`
		LastDebtUpdateTime        *big.Int `abi:"lastDebtUpdateTime"`
	})
	if !ok {
		return nil, fmt.Errorf("unpack getLatestBatchData: unexpected type %T", out[0])
	}
	return &types.LatestBatchData{
		TotalDebtShares:           v.TotalDebtShares,
		TotalDebt:                 v.TotalDebt,
		AnnualInterestRate:        v.AnnualInterestRate,
		AnnualManagementFee:       v.AnnualManagementFee,
		WeightedRecordedDebt:      v.WeightedRecordedDebt,
		AccruedInterest:           v.AccruedInterest,
		AccruedManagementFee:      v.AccruedManagementFee,
		AccruedBatchManagementFee: v.AccruedBatchManagementFee,
		LastDebtUpdateTime:        v.LastDebtUpdateTime,
	}, nil
}

// UnpackApproxHint unpacks getApproxHint's (hintId, diff, latestRandomSeed).
func UnpackApproxHint(data []byte) (hintID, diff, latestSeed *big.Int, err error) {
	out, uerr := HintHelpersABI.Unpack("getApproxHint", data)
	if uerr != nil {
		return nil, nil, nil, fmt.Errorf("unpack getApproxHint: %w", uerr)
	}
	if len(out) != 3 {
		return nil, nil, nil, fmt.Errorf("unpack getApproxHint: expected 3 outputs, got %d", len(out))
	}
	return out[0].(*big.Int), out[1].(*big.Int), out[2].(*big.Int), nil
}

// UnpackFindInsertPosition unpacks findInsertPosition's (upper, lower).
func UnpackFindInsertPosition(data []byte) (upperHint, lowerHint *big.Int, err error) {
	out, uerr := SortedTrovesABI.Unpack("findInsertPosition", data)
	if uerr != nil {
		return nil, nil, fmt.Errorf("unpack findInsertPosition: %w", uerr)
	}
	if len(out) != 2 {
		return nil, nil, fmt.Errorf("unpack findInsertPosition: expected 2 outputs, got %d", len(out))
	}
	return out[0].(*big.Int), out[1].(*big.Int), nil
}

// UnpackUnbackedPortionPriceAndRedeemability unpacks the three-return call.
func UnpackUnbackedPortionPriceAndRedeemability(data []byte) (unbackedPortion, price *big.Int, redeemable bool, err error) {
	out, uerr := CollateralRegistryABI.Unpack("getUnbackedPortionPriceAndRedeemability", data)
	if uerr != nil {
		return nil, nil, false, fmt.Errorf("unpack getUnbackedPortionPriceAndRedeemability: %w", uerr)
	}
	if len(out) != 3 {
		return nil, nil, false, fmt.Errorf("unpack getUnbackedPortionPriceAndRedeemability: expected 3 outputs, got %d", len(out))
	}
	return out[0].(*big.Int), out[1].(*big.Int), out[2].(bool), nil
}
