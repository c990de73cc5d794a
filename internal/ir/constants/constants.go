// Package constants collects the system constants of the rate-management
// agent: lock/retry timeouts, tolerance margins, and recharge thresholds.
// They are named here rather than scattered as literals so tests can
// reference and, where useful, override them.
package constants

import "time"

const (
	// StrategyLockTimeout is the hard timeout after which a strategy's lock
	// is considered stale and may be re-acquired by a new execution.
	StrategyLockTimeout = 3600 * time.Second

	// StrategyTickPeriod is the cadence at which the scheduler evaluates
	// every strategy.
	StrategyTickPeriod = time.Hour

	// MintPeriod is the cadence of the ckETH minting loop.
	MintPeriod = 24 * time.Hour

	// HaltingCheckPeriod is the cadence of the halting supervisor's tick.
	HaltingCheckPeriod = 7 * 24 * time.Hour

	// HaltingWarningWindow is the grace period between entering
	// HaltingInProgress and transitioning to Halted.
	HaltingWarningWindow = 7 * 24 * time.Hour

	// CleanupPeriod is the cadence of the daily journal/reputation cleanup.
	CleanupPeriod = 24 * time.Hour

	// MaxRetryAttempts bounds the per-execution retry loop (nonce/fee
	// recovery, resubmission).
	MaxRetryAttempts = 3

	// RetryBackoffBase and RetryBackoffCap bound the exponential backoff
	// applied between retries.
	RetryBackoffBase = 2 * time.Second
	RetryBackoffCap  = 30 * time.Second

	// ReceiptWaitBudget and ReceiptPollInterval bound how long a submitted
	// transaction is awaited before being left in-flight for the next tick.
	ReceiptWaitBudget   = 5 * time.Minute
	ReceiptPollInterval = 15 * time.Second

	// ProviderCount is the default number of RPC providers consulted per
	// call; ProviderThreshold is the minimum number that must agree.
	ProviderCount          = 3
	ProviderThreshold      = 2
	ProviderMinThreshold   = 2
	ProviderScoreMin       = -100
	ProviderScoreMax       = 100
	InitialResponseBytes   = 8_000
	MaxResponseBytes       = 2 << 20 // 2 MiB
	JournalRetentionWindow = 1000
	JournalHardCap         = 300

	// MinSuggestedPriorityFeeWei is the floor applied to
	// max_priority_fee_per_gas, matching the original's
	// MIN_SUGGEST_MAX_PRIORITY_FEE_PER_GAS (1.5 gwei).
	MinSuggestedPriorityFeeWei = 1_500_000_000

	// SetNewRateGasLimit is a fixed, buffered gas limit used in place of a
	// live eth_estimateGas call, which does not reach multi-provider
	// consensus reliably in practice.
	SetNewRateGasLimit = 450_000

	// FeeBumpMinPct is the minimum percentage increase applied to both fee
	// caps when replacing a stuck transaction at the same nonce.
	FeeBumpMinPct = 12.5

	// ToleranceMarginUpPct and ToleranceMarginDownPct are M_u / M_d in the
	// increase/decrease conditions. Pinned at 25% per the worked examples.
	ToleranceMarginUpPct   = 0.25
	ToleranceMarginDownPct = 0.25

	// MinRedemptionFeeDenominatorPct is the 0.5% divisor used in TargetPct.
	MinRedemptionFeeDenominatorPct = 0.005

	// UpfrontFeeToleranceMultiplierPct is the 5% slack applied on top of the
	// predicted upfront fee when bounding maxUpfrontFee.
	UpfrontFeeToleranceMultiplierPct = 0.05

	// SecondsPerYear is used to annualize the upfront-fee period.
	SecondsPerYear = 31_536_000

	// MinCkETHBalance triggers a mint cycle when the ledger balance drops
	// below it.
	MinCkETHBalance = 100_000_000_000_000 // ~0.0001 ETH in wei

	// MintAmountWei is the amount transferred from a strategy EOA to the
	// ckETH helper contract during a mint cycle.
	MintAmountWei = 1_000_000_000_000_000 // 0.001 ETH

	// CyclesRechargeThreshold and MinSwapCycles bound the cycles<>ckETH
	// swap path.
	CyclesRechargeThreshold = 10_000_000_000_000 // 10 T
	MinSwapCycles           = 10_000_000_000_000 // 10 T
	SwapDiscountPct         = 0.03

	// HaltingMinSuccessRatio is the per-strategy 7-day success ratio
	// threshold below which halting begins.
	HaltingMinSuccessRatio = 0.5

	// HaltingMaxQuietWindow is the fleet-wide window within which at least
	// one committed rate adjustment must occur.
	HaltingMaxQuietWindow = 30 * 24 * time.Hour

	// FeeHistoryBlockCount is the number of recent blocks sampled for
	// eth_feeHistory.
	FeeHistoryBlockCount = 9

	// FeeHistoryTipPercentile is the percentile of per-block tips used for
	// max_priority_fee_per_gas.
	FeeHistoryTipPercentile = 90

	// MaxTrovesPerPage bounds a single getMultipleSortedTroves call.
	MaxTrovesPerPage = 75

	// MintGasLimit is the fixed gas limit used for the ckETH helper's
	// deposit submissions during a mint cycle.
	MintGasLimit = 100_000
)
