package strategyengine

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"github.com/liquity/ir-manager/internal/ir/abi"
	"github.com/liquity/ir-manager/internal/ir/constants"
	"github.com/liquity/ir-manager/internal/ir/fixedpoint"
	"github.com/liquity/ir-manager/internal/ir/ierrors"
	"github.com/liquity/ir-manager/internal/ir/journal"
	"github.com/liquity/ir-manager/internal/ir/signer"
	"github.com/liquity/ir-manager/internal/ir/store"
	"github.com/liquity/ir-manager/internal/metrics"
)

// ChainClient is the narrow slice of the RPC pool Execute needs: contract
// calls, nonce/receipt lookups, submission, and the fee-history source the
// signer package's gas-fee policy consumes.
type ChainClient interface {
	signer.FeeHistorySource
	CallContract(ctx context.Context, to common.Address, data []byte, blockTag string) ([]byte, error)
	NonceAt(ctx context.Context, addr common.Address) (uint64, error)
	SendRawTransaction(ctx context.Context, signedTxRLP []byte) (common.Hash, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TotalUnbacked(ctx context.Context, registries []common.Address, excluding ...common.Address) (*big.Int, error)
}

// Engine executes the per-strategy rate-policy protocol.
type Engine struct {
	chainID *big.Int
	chain   ChainClient
	signer  signer.Signer
	store   *store.Store
	journal journal.Manager
	metrics *metrics.Registry
	log     zerolog.Logger
}

// New builds a strategy engine wired to its collaborators. m may be nil,
// in which case per-tick metrics are skipped.
func New(chainID *big.Int, chain ChainClient, s signer.Signer, st *store.Store, j journal.Manager, m *metrics.Registry, log zerolog.Logger) *Engine {
	return &Engine{
		chainID: chainID,
		chain:   chain,
		signer:  s,
		store:   st,
		journal: j,
		metrics: m,
		log:     log.With().Str("component", "strategy-engine").Logger(),
	}
}

// SignerPath derives the key-boundary path for a strategy key. Exported so
// the manager can derive the same path for AssignKeys.
func SignerPath(key uint32) signer.Path {
	return signer.Path(fmt.Sprintf("strategy-%d", key))
}

// Execute runs the full lock/fetch/compute/submit protocol for a single
// strategy. registries is the fleet-wide set of collateral registries used
// to compute the branch's unbacked-debt denominator.
func (e *Engine) Execute(ctx context.Context, key uint32, registries []common.Address) error {
	log := e.log.With().Uint32("strategy", key).Logger()

	if e.store.Global().HaltState == store.HaltStateHalted {
		return ierrors.Halted()
	}

	now := time.Now()
	if err := e.store.TryLock(key, now, constants.StrategyLockTimeout); err != nil {
		return err
	}
	defer e.store.Unlock(key)

	coll := e.journal.OpenCollection(&key)

	strat, err := e.store.Get(key)
	if err != nil {
		e.fail(ctx, coll, key, err)
		return err
	}
	if (strat.Data.BatchManager == common.Address{}) {
		err := ierrors.Unauthorized("strategy has no batch manager assigned")
		e.fail(ctx, coll, key, err)
		return err
	}
	if (strat.Data.EOA == common.Address{}) {
		err := ierrors.Unauthorized("strategy has no signer key assigned")
		e.fail(ctx, coll, key, err)
		return err
	}

	decision, rawState, err := e.fetchAndDecide(ctx, strat, registries)
	if err != nil {
		e.fail(ctx, coll, key, err)
		return err
	}

	if decision.Action == ActionNone {
		if err := e.store.RecordExecution(key, now, true, false, nil, strat.Data.EOANonce); err != nil {
			return err
		}
		e.write(ctx, coll, &key, journal.KindExecutionResult, "no-op: within tolerance", journal.OutcomeOk, "")
		return nil
	}

	txHash, nonce, committed, err := e.submitRateChange(ctx, strat, decision, rawState)
	if err != nil {
		e.fail(ctx, coll, key, err)
		return err
	}

	if !committed {
		// Timed out waiting for a receipt; the transaction may still land.
		// Leave strategy state untouched for the next tick to observe.
		e.write(ctx, coll, &key, journal.KindInfo, fmt.Sprintf("setNewRate %s in flight, no receipt within budget", txHash.Hex()), journal.OutcomeOk, "")
		return nil
	}

	if err := e.store.RecordExecution(key, now, true, true, decision.RNew, nonce); err != nil {
		return err
	}
	note := fmt.Sprintf("r_curr=%s r_new=%s d=%s target=%s tx=%s", decision.RCurr, decision.RNew, decision.D, decision.TargetAmt, txHash.Hex())
	e.write(ctx, coll, &key, journal.KindRateAdjustment, note, journal.OutcomeOk, "")
	if e.metrics != nil {
		e.metrics.RateAdjustments.WithLabelValues(decision.Action.String()).Inc()
	}
	log.Info().Str("action", decision.Action.String()).Str("tx", txHash.Hex()).Msg("rate adjusted")
	return nil
}

func (e *Engine) fail(ctx context.Context, coll uuid.UUID, key uint32, err error) {
	detail := ""
	var merr *ierrors.ManagerError
	if errors.As(err, &merr) {
		detail = string(merr.Kind)
	}
	e.write(ctx, coll, &key, journal.KindExecutionResult, err.Error(), journal.OutcomeErr, detail)
	_ = e.store.RecordExecution(key, time.Now(), false, false, nil, 0)
}

func (e *Engine) write(ctx context.Context, coll uuid.UUID, key *uint32, kind journal.Kind, note string, outcome journal.Outcome, errKind string) {
	_ = e.journal.WriteEntry(ctx, coll, key, kind, note, outcome, errKind)
}

type rawBatchState struct {
	batchDebt *big.Int
}

// fetchAndDecide performs step 2 (fetch) and step 3 (compute) of the
// execution protocol. registries is the fleet-wide set of collateral
// registries; the strategy's own registry is excluded so the unbacked-debt
// denominator measures debt competing against this branch rather than the
// branch's own exposure.
func (e *Engine) fetchAndDecide(ctx context.Context, strat store.Strategy, registries []common.Address) (*Decision, *rawBatchState, error) {
	s := strat.Settings

	trovesData, err := abi.PackGetMultipleSortedTroves(s.CollateralIndex, big.NewInt(0), big.NewInt(constants.MaxTrovesPerPage))
	if err != nil {
		return nil, nil, fmt.Errorf("pack getMultipleSortedTroves: %w", err)
	}
	trovesRaw, err := e.chain.CallContract(ctx, s.MultiTroveGetter, trovesData, "")
	if err != nil {
		return nil, nil, err
	}
	troves, err := abi.UnpackMultipleSortedTroves(trovesRaw)
	if err != nil {
		return nil, nil, err
	}

	redemptionData, err := abi.PackGetRedemptionRateWithDecay()
	if err != nil {
		return nil, nil, fmt.Errorf("pack getRedemptionRateWithDecay: %w", err)
	}
	redemptionRaw, err := e.chain.CallContract(ctx, s.CollateralRegistry, redemptionData, "")
	if err != nil {
		return nil, nil, err
	}
	redemptionRate, err := abi.UnpackUint256(abi.CollateralRegistryABI, "getRedemptionRateWithDecay", redemptionRaw)
	if err != nil {
		return nil, nil, err
	}

	batchData, err := abi.PackGetLatestBatchData(strat.Data.BatchManager)
	if err != nil {
		return nil, nil, fmt.Errorf("pack getLatestBatchData: %w", err)
	}
	batchRaw, err := e.chain.CallContract(ctx, s.Manager, batchData, "")
	if err != nil {
		return nil, nil, err
	}
	batch, err := abi.UnpackLatestBatchData(batchRaw)
	if err != nil {
		return nil, nil, err
	}

	unbackedData, err := abi.PackGetUnbackedPortionPriceAndRedeemability()
	if err != nil {
		return nil, nil, fmt.Errorf("pack getUnbackedPortionPriceAndRedeemability: %w", err)
	}
	unbackedRaw, err := e.chain.CallContract(ctx, s.CollateralRegistry, unbackedData, "")
	if err != nil {
		return nil, nil, err
	}
	unbackedPortion, _, _, err := abi.UnpackUnbackedPortionPriceAndRedeemability(unbackedRaw)
	if err != nil {
		return nil, nil, err
	}

	totalDebtData, err := abi.PackGetEntireSystemDebt()
	if err != nil {
		return nil, nil, fmt.Errorf("pack getEntireSystemDebt: %w", err)
	}
	totalDebtRaw, err := e.chain.CallContract(ctx, s.CollateralRegistry, totalDebtData, "")
	if err != nil {
		return nil, nil, err
	}
	totalDebt, err := abi.UnpackUint256(abi.CollateralRegistryABI, "getEntireSystemDebt", totalDebtRaw)
	if err != nil {
		return nil, nil, err
	}

	totalUnbacked, err := e.chain.TotalUnbacked(ctx, registries, s.CollateralRegistry)
	if err != nil {
		return nil, nil, err
	}

	t := int64(0)
	if !strat.Data.LastUpdate.IsZero() {
		t = int64(time.Since(strat.Data.LastUpdate).Seconds())
	} else {
		t = s.UpfrontFeePeriod.Int64() + 1
	}

	decision, err := Decide(Inputs{
		DMin:               s.TargetMin,
		RedemptionRate:     redemptionRate,
		UnbackedPortion:    unbackedPortion,
		TotalUnbacked:      totalUnbacked,
		TotalDebt:          totalDebt,
		RCurr:              batch.AnnualInterestRate,
		RAvg:               batch.AnnualInterestRate,
		SecondsSinceUpdate: t,
		UpfrontFeePeriod:   s.UpfrontFeePeriod.Int64(),
		Troves:             troves,
		BatchManager:       strat.Data.BatchManager,
	})
	if err != nil {
		return nil, nil, err
	}

	return decision, &rawBatchState{batchDebt: batch.TotalDebt}, nil
}

// submitRateChange performs steps 4-7: hint lookup, transaction assembly,
// signing, submission, and bounded receipt wait.
func (e *Engine) submitRateChange(ctx context.Context, strat store.Strategy, decision *Decision, raw *rawBatchState) (common.Hash, uint64, bool, error) {
	s := strat.Settings

	upperHint, lowerHint, err := e.findInsertPosition(ctx, s.HintHelper, s.SortedTroves, s.CollateralIndex, decision.RNew)
	if err != nil {
		return common.Hash{}, 0, false, err
	}

	maxUpfrontFee, err := computeMaxUpfrontFee(decision.RNew, raw.batchDebt, s.UpfrontFeePeriod.Int64())
	if err != nil {
		return common.Hash{}, 0, false, err
	}

	calldata, err := abi.PackSetNewRate(decision.RNew, upperHint, lowerHint, maxUpfrontFee)
	if err != nil {
		return common.Hash{}, 0, false, fmt.Errorf("pack setNewRate: %w", err)
	}

	onChainNonce, err := e.chain.NonceAt(ctx, strat.Data.EOA)
	if err != nil {
		return common.Hash{}, 0, false, err
	}
	nonce := strat.Data.EOANonce
	if onChainNonce > nonce {
		nonce = onChainNonce
	}

	fees, err := signer.EstimateFees(ctx, e.chain)
	if err != nil {
		return common.Hash{}, 0, false, err
	}

	path := SignerPath(s.Key)

	var txHash common.Hash
	var lastErr error
	backoff := constants.RetryBackoffBase
	for attempt := 0; attempt < constants.MaxRetryAttempts; attempt++ {
		tx := signer.Transaction{
			ChainID:   e.chainID,
			To:        strat.Data.BatchManager,
			Data:      calldata,
			Nonce:     nonce,
			GasLimit:  constants.SetNewRateGasLimit,
			Fees:      fees,
			SignerKey: path,
		}
		_, rawTx, err := signer.BuildAndSign(ctx, e.signer, tx)
		if err != nil {
			return common.Hash{}, 0, false, fmt.Errorf("build and sign: %w", err)
		}

		txHash, lastErr = e.chain.SendRawTransaction(ctx, rawTx)
		if lastErr == nil {
			break
		}

		switch {
		case isNonceTooLow(lastErr):
			onChainNonce, rerr := e.chain.NonceAt(ctx, strat.Data.EOA)
			if rerr == nil && onChainNonce > nonce {
				nonce = onChainNonce
			}
		case isUnderpriced(lastErr):
			fees = fees.Bump()
		default:
			return common.Hash{}, 0, false, ierrors.RpcResponseError(lastErr)
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return common.Hash{}, 0, false, ctx.Err()
		}
		backoff = minDuration(backoff*2, constants.RetryBackoffCap)
	}
	if lastErr != nil {
		return common.Hash{}, 0, false, ierrors.RpcResponseError(lastErr)
	}

	receipt, committed, err := e.awaitReceipt(ctx, txHash)
	if err != nil {
		return common.Hash{}, 0, false, err
	}
	if !committed {
		return txHash, nonce, false, nil
	}
	if receipt.Status == 0 {
		_ = e.store.SetEOANonce(s.Key, nonce+1)
		return common.Hash{}, 0, false, ierrors.New(ierrors.KindRevert, "setNewRate reverted")
	}

	return txHash, nonce + 1, true, nil
}

func (e *Engine) findInsertPosition(ctx context.Context, hintHelper, sortedTroves common.Address, collIndex, rNew *big.Int) (upper, lower *big.Int, err error) {
	numTrials := big.NewInt(15)
	seed := big.NewInt(time.Now().UnixNano())

	hintData, err := abi.PackGetApproxHint(collIndex, rNew, numTrials, seed)
	if err != nil {
		return nil, nil, fmt.Errorf("pack getApproxHint: %w", err)
	}
	hintRaw, err := e.chain.CallContract(ctx, hintHelper, hintData, "")
	if err != nil {
		return nil, nil, err
	}
	hintID, _, _, err := abi.UnpackApproxHint(hintRaw)
	if err != nil {
		return nil, nil, err
	}

	posData, err := abi.PackFindInsertPosition(rNew, hintID, hintID)
	if err != nil {
		return nil, nil, fmt.Errorf("pack findInsertPosition: %w", err)
	}
	posRaw, err := e.chain.CallContract(ctx, sortedTroves, posData, "")
	if err != nil {
		return nil, nil, err
	}
	return abi.UnpackFindInsertPosition(posRaw)
}

func (e *Engine) awaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, bool, error) {
	deadline := time.Now().Add(constants.ReceiptWaitBudget)
	for {
		receipt, err := e.chain.TransactionReceipt(ctx, hash)
		if err != nil {
			return nil, false, err
		}
		if receipt != nil {
			return receipt, true, nil
		}
		if time.Now().After(deadline) {
			return nil, false, nil
		}
		select {
		case <-time.After(constants.ReceiptPollInterval):
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}
}

// computeMaxUpfrontFee computes r_new * debt * (period/year) * 1.05 in
// overflow-checked e18 fixed point.
func computeMaxUpfrontFee(rNew, debt *big.Int, periodSeconds int64) (*big.Int, error) {
	rNewU, err := fixedpoint.FromBig(rNew)
	if err != nil {
		return nil, err
	}
	debtU, err := fixedpoint.FromBig(debt)
	if err != nil {
		return nil, err
	}
	annualInterest, err := fixedpoint.MulFixed(rNewU, debtU)
	if err != nil {
		return nil, err
	}

	periodFraction, err := fixedpoint.DivFixed(uint256.NewInt(uint64(periodSeconds)), uint256.NewInt(constants.SecondsPerYear))
	if err != nil {
		return nil, err
	}
	fee, err := fixedpoint.MulFixed(annualInterest, periodFraction)
	if err != nil {
		return nil, err
	}

	tolerance, err := fixedpoint.Add(fixedpoint.Scale, fixedpoint.FromPct(constants.UpfrontFeeToleranceMultiplierPct))
	if err != nil {
		return nil, err
	}
	bounded, err := fixedpoint.MulFixed(fee, tolerance)
	if err != nil {
		return nil, err
	}
	return bounded.ToBig(), nil
}

func isNonceTooLow(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "nonce too low")
}

func isUnderpriced(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "underpriced") || strings.Contains(msg, "replacement transaction")
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
