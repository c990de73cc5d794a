// Package types collects the domain value types shared across the agent's
// components: strategy configuration inputs, swap responses, and the
// Liquity/ckETH on-chain value shapes the Strategy and Recharge engines
// decode ABI responses into.
package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// DerivationPath mirrors the host tECDSA derivation path in the original
// design; here it addresses a key within the signer boundary (local
// keystore slot or remote KMS key id), one element per strategy.
type DerivationPath [][]byte

// StrategyInput is the caller-supplied configuration for a new strategy,
// provided to MintStrategy.
type StrategyInput struct {
	Key                uint32
	TargetMin          *big.Int // D_min, e18
	Manager            string
	MultiTroveGetter   string
	SortedTroves       string
	CollateralIndex    *big.Int
	RPCEndpoints       []string
	UpfrontFeePeriod   *big.Int // seconds
	CollateralRegistry string
	HintHelper         string
}

// SwapResponse is returned by SwapCkETH.
type SwapResponse struct {
	RealRate        *big.Int // e8 ETH per XDR-equivalent unit
	DiscountedRate  *big.Int
	AcceptedCycles  *big.Int
	ReturningCycles *big.Int
	ReturningEther  *big.Int
}

// CombinedTroveData is the per-trove row returned by
// MultiTroveGetter.getMultipleSortedTroves.
type CombinedTroveData struct {
	TroveID           *big.Int
	Debt              *big.Int
	Coll              *big.Int
	AnnualInterestRate *big.Int
	InterestBatchManager common.Address
	LastDebtUpdateTime *big.Int
}

// LatestBatchData mirrors TroveManager.getLatestBatchData's return tuple.
type LatestBatchData struct {
	TotalDebtShares           *big.Int
	TotalDebt                 *big.Int
	AnnualInterestRate        *big.Int
	AnnualManagementFee       *big.Int
	WeightedRecordedDebt      *big.Int
	AccruedInterest           *big.Int
	AccruedManagementFee      *big.Int
	AccruedBatchManagementFee *big.Int
	LastDebtUpdateTime        *big.Int
}

// DebtPerInterestRate is a single ascending-rate bucket returned by
// MultiTroveGetter.getDebtPerInterestRateAscending. The debt-in-front
// computation works from CombinedTroveData rows, not from these buckets.
type DebtPerInterestRate struct {
	InterestBatchManager common.Address
	InterestRate          *big.Int
	Debt                   *big.Int
}

// StrategyQueryData is the read-only projection of a strategy returned by
// GetStrategies.
type StrategyQueryData struct {
	Key          uint32
	Manager      common.Address
	BatchManager common.Address
	EOA          common.Address
	LatestRate   *big.Int
	LastUpdate   time.Time
	LastOkExit   time.Time
	EOANonce     uint64
	IsLocked     bool
}

// ProviderReputation is a single row of the ranked provider list.
type ProviderReputation struct {
	Score    int64
	Endpoint string
}

// RuntimeStatus is the local analogue of get_canister_status: process
// health rather than host-platform accounting.
type RuntimeStatus struct {
	StartedAt       time.Time
	Uptime          time.Duration
	StrategyCount   int
	HaltState       string
	LastCleanupAt   time.Time
	ProviderCount   int
}
