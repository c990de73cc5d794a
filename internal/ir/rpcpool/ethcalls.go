package rpcpool

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/liquity/ir-manager/internal/ir/abi"
)

// CallContract issues a consensus eth_call against to with the given
// calldata, at the given block tag ("latest" if blockTag is empty).
func (p *Pool) CallContract(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error) {
	if blockTag == "" {
		blockTag = "latest"
	}
	arg := map[string]interface{}{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	raw, err := p.Call(ctx, "eth_call", arg, blockTag)
	if err != nil {
		return nil, err
	}
	var result hexutil.Bytes
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode eth_call result: %w", err)
	}
	return result, nil
}

// NonceAt returns the next nonce for addr (eth_getTransactionCount at the
// "pending" block tag).
func (p *Pool) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	raw, err := p.Call(ctx, "eth_getTransactionCount", addr, "pending")
	if err != nil {
		return 0, err
	}
	var result hexutil.Uint64
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode eth_getTransactionCount result: %w", err)
	}
	return uint64(result), nil
}

// BalanceAt returns addr's balance at the "latest" block.
func (p *Pool) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	raw, err := p.Call(ctx, "eth_getBalance", addr, "latest")
	if err != nil {
		return nil, err
	}
	var result hexutil.Big
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode eth_getBalance result: %w", err)
	}
	return (*big.Int)(&result), nil
}

// SendRawTransaction broadcasts a signed, RLP-encoded transaction and
// returns its hash.
func (p *Pool) SendRawTransaction(ctx context.Context, signedTxRLP []byte) (common.Hash, error) {
	raw, err := p.Call(ctx, "eth_sendRawTransaction", hexutil.Bytes(signedTxRLP))
	if err != nil {
		return common.Hash{}, err
	}
	var result common.Hash
	if err := json.Unmarshal(raw, &result); err != nil {
		return common.Hash{}, fmt.Errorf("decode eth_sendRawTransaction result: %w", err)
	}
	return result, nil
}

// TransactionReceipt fetches a transaction's receipt, returning
// (nil, nil) if it is not yet mined.
func (p *Pool) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	raw, err := p.Call(ctx, "eth_getTransactionReceipt", hash)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	var receipt types.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("decode eth_getTransactionReceipt result: %w", err)
	}
	return &receipt, nil
}

// FeeHistoryResult mirrors eth_feeHistory's JSON shape, decoded via
// hexutil rather than ethclient.FeeHistory because the latter doesn't
// expose the raw per-block reward matrix this agent's fee policy needs.
type FeeHistoryResult struct {
	OldestBlock   *hexutil.Big     `json:"oldestBlock"`
	BaseFeePerGas []*hexutil.Big   `json:"baseFeePerGas"`
	GasUsedRatio  []float64        `json:"gasUsedRatio"`
	Reward        [][]*hexutil.Big `json:"reward"`
}

// FeeHistoryRaw fetches the reward distribution over the last blockCount
// blocks at the given percentiles.
func (p *Pool) FeeHistoryRaw(ctx context.Context, blockCount uint64, percentiles []float64) (*FeeHistoryResult, error) {
	raw, err := p.Call(ctx, "eth_feeHistory", hexutil.Uint64(blockCount), "latest", percentiles)
	if err != nil {
		return nil, err
	}
	var result FeeHistoryResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode eth_feeHistory result: %w", err)
	}
	return &result, nil
}

// FeeHistory is the signer.FeeHistorySource adapter: it fetches the raw
// fee history and flattens its hexutil.Big fields into plain *big.Int
// slices for the gas-fee policy.
func (p *Pool) FeeHistory(ctx context.Context, blockCount uint64, percentiles []float64) ([]*big.Int, [][]*big.Int, error) {
	result, err := p.FeeHistoryRaw(ctx, blockCount, percentiles)
	if err != nil {
		return nil, nil, err
	}
	baseFeePerGas := make([]*big.Int, len(result.BaseFeePerGas))
	for i, v := range result.BaseFeePerGas {
		baseFeePerGas[i] = (*big.Int)(v)
	}
	rewards := make([][]*big.Int, len(result.Reward))
	for i, row := range result.Reward {
		converted := make([]*big.Int, len(row))
		for j, v := range row {
			converted[j] = (*big.Int)(v)
		}
		rewards[i] = converted
	}
	return baseFeePerGas, rewards, nil
}

// EstimateGas issues eth_estimateGas for the given call. Transaction
// submission does not call it; it uses a fixed, buffered gas limit
// rather than a live multi-provider gas estimate.
func (p *Pool) EstimateGas(ctx context.Context, from, to common.Address, data []byte) (uint64, error) {
	arg := map[string]interface{}{
		"from": from,
		"to":   to,
		"data": hexutil.Bytes(data),
	}
	raw, err := p.Call(ctx, "eth_estimateGas", arg)
	if err != nil {
		return 0, err
	}
	var result hexutil.Uint64
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode eth_estimateGas result: %w", err)
	}
	return uint64(result), nil
}

// TotalUnbacked sums the unbacked debt portion reported by every collateral
// registry in registries, skipping any address present in excluding. A
// strategy excludes its own collateral registry to measure the unbacked
// debt competing against it rather than double-counting its own exposure.
func (p *Pool) TotalUnbacked(ctx context.Context, registries []common.Address, excluding ...common.Address) (*big.Int, error) {
	skip := make(map[common.Address]bool, len(excluding))
	for _, addr := range excluding {
		skip[addr] = true
	}

	data, err := abi.PackGetUnbackedPortionPriceAndRedeemability()
	if err != nil {
		return nil, fmt.Errorf("pack getUnbackedPortionPriceAndRedeemability: %w", err)
	}

	total := new(big.Int)
	for _, registry := range registries {
		if skip[registry] {
			continue
		}
		raw, err := p.CallContract(ctx, registry, data, "")
		if err != nil {
			return nil, err
		}
		unbackedPortion, _, _, err := abi.UnpackUnbackedPortionPriceAndRedeemability(raw)
		if err != nil {
			return nil, err
		}
		total.Add(total, unbackedPortion)
	}
	return total, nil
}

// BlockNumber returns the number of the latest block (eth_blockNumber).
func (p *Pool) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := p.Call(ctx, "eth_blockNumber")
	if err != nil {
		return 0, err
	}
	var result hexutil.Uint64
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode eth_blockNumber result: %w", err)
	}
	return uint64(result), nil
}
