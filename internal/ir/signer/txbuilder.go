package signer

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/liquity/ir-manager/internal/ir/constants"
	"github.com/liquity/ir-manager/internal/ir/ierrors"
)

// FeeHistorySource is the subset of the RPC pool the fee-estimation policy
// needs; kept narrow so this package does not import rpcpool directly.
type FeeHistorySource interface {
	FeeHistory(ctx context.Context, blockCount uint64, percentiles []float64) (baseFeePerGas []*big.Int, rewards [][]*big.Int, err error)
}

// FeeEstimate holds the two EIP-1559 fee caps the gas-fee policy computes.
type FeeEstimate struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// feeHistoryBlocks is how many recent blocks the 90th-percentile tip
// estimate is drawn over.
const feeHistoryBlocks = 9

// EstimateFees derives (max_fee_per_gas, max_priority_fee_per_gas) from
// eth_feeHistory: the tip is the 90th percentile of the most recent
// blocks' reward-at-90th-percentile column, floored at
// MinSuggestedPriorityFeeWei, and max_fee_per_gas is base_fee*2 + tip.
//
// This intentionally departs from the original's fee estimator, which
// computed a flattened median over 95th-percentile rewards and assigned
// the result to max_fee_per_gas and max_priority_fee_per_gas with their
// roles swapped.
func EstimateFees(ctx context.Context, src FeeHistorySource) (*FeeEstimate, error) {
	baseFeePerGas, rewards, err := src.FeeHistory(ctx, feeHistoryBlocks, []float64{50, 90})
	if err != nil {
		return nil, ierrors.RpcResponseError(err)
	}
	if len(baseFeePerGas) == 0 {
		return nil, ierrors.NonExistentValue("empty fee history")
	}

	tips := make([]*big.Int, 0, len(rewards))
	for _, blockRewards := range rewards {
		if len(blockRewards) < 2 {
			continue
		}
		tips = append(tips, blockRewards[1]) // the 90th-percentile column
	}
	if len(tips) == 0 {
		return nil, ierrors.NonExistentValue("no reward samples in fee history")
	}

	tip := percentile(tips, 90)
	if tip.Cmp(big.NewInt(constants.MinSuggestedPriorityFeeWei)) < 0 {
		tip = big.NewInt(constants.MinSuggestedPriorityFeeWei)
	}

	latestBaseFee := baseFeePerGas[len(baseFeePerGas)-1]
	maxFee := new(big.Int).Mul(latestBaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)

	return &FeeEstimate{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

// Bump increases both fee caps by at least FeeBumpMinPct, used to replace a
// stuck transaction at the same nonce.
func (f *FeeEstimate) Bump() *FeeEstimate {
	bump := func(v *big.Int) *big.Int {
		// v * 1125 / 1000 == v increased by 12.5%.
		scaled := new(big.Int).Mul(v, big.NewInt(1125))
		return scaled.Div(scaled, big.NewInt(1000))
	}
	return &FeeEstimate{
		MaxFeePerGas:         bump(f.MaxFeePerGas),
		MaxPriorityFeePerGas: bump(f.MaxPriorityFeePerGas),
	}
}

// percentile returns the p-th percentile of values: sorted ascending,
// indexed by ceil(p/100*n)-1, per SPEC_FULL.md §9(f). For the deployed
// feeHistoryBlocks=9 this selects index 8 — the maximum of the sampled
// blocks' 90th-percentile tips.
func percentile(values []*big.Int, p float64) *big.Int {
	sorted := make([]*big.Int, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Cmp(sorted[j]) < 0 })

	n := len(sorted)
	rank := int(math.Ceil(p/100*float64(n))) - 1
	if rank >= n {
		rank = n - 1
	}
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}

// Transaction is the fully-specified set of fields needed to assemble,
// sign, and submit an EIP-1559 transaction.
type Transaction struct {
	ChainID   *big.Int
	To        common.Address
	Value     *big.Int
	Data      []byte
	Nonce     uint64
	GasLimit  uint64
	Fees      *FeeEstimate
	SignerKey Path
}

// BuildAndSign assembles tx as a types.DynamicFeeTx, computes its EIP-1559
// signing hash, and returns the RLP-encoded signed transaction ready for
// eth_sendRawTransaction.
func BuildAndSign(ctx context.Context, s Signer, tx Transaction) (*types.Transaction, []byte, error) {
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   tx.ChainID,
		Nonce:     tx.Nonce,
		GasTipCap: tx.Fees.MaxPriorityFeePerGas,
		GasFeeCap: tx.Fees.MaxFeePerGas,
		Gas:       tx.GasLimit,
		To:        &tx.To,
		Value:     value,
		Data:      tx.Data,
	})

	ethSigner := types.LatestSignerForChainID(tx.ChainID)
	hash := ethSigner.Hash(unsigned)

	sig, err := s.Sign(ctx, tx.SignerKey, hash)
	if err != nil {
		return nil, nil, fmt.Errorf("sign transaction: %w", err)
	}

	signed, err := unsigned.WithSignature(ethSigner, sig)
	if err != nil {
		return nil, nil, fmt.Errorf("apply signature: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, nil, fmt.Errorf("encode signed transaction: %w", err)
	}

	return signed, raw, nil
}
