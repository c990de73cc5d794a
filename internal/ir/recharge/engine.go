package recharge

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/liquity/ir-manager/internal/ir/abi"
	"github.com/liquity/ir-manager/internal/ir/constants"
	"github.com/liquity/ir-manager/internal/ir/ierrors"
	"github.com/liquity/ir-manager/internal/ir/journal"
	"github.com/liquity/ir-manager/internal/ir/signer"
	"github.com/liquity/ir-manager/internal/ir/store"
	"github.com/liquity/ir-manager/internal/ir/strategyengine"
	"github.com/liquity/ir-manager/internal/ir/types"
)

// ChainClient is the slice of the RPC pool the recharge engine needs.
type ChainClient interface {
	signer.FeeHistorySource
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
	NonceAt(ctx context.Context, addr common.Address) (uint64, error)
	SendRawTransaction(ctx context.Context, signedTxRLP []byte) (common.Hash, error)
}

// Engine runs the ckETH mint cycle and the cycles<->ckETH swap.
type Engine struct {
	chainID       *big.Int
	chain         ChainClient
	signer        signer.Signer
	store         *store.Store
	journal       journal.Manager
	ledger        LedgerClient
	exchangeRate  ExchangeRateClient
	ckETHHelper   common.Address
	principal     [32]byte
	log           zerolog.Logger
}

// Config bundles the recharge engine's fixed wiring.
type Config struct {
	ChainID      *big.Int
	Chain        ChainClient
	Signer       signer.Signer
	Store        *store.Store
	Journal      journal.Manager
	Ledger       LedgerClient
	ExchangeRate ExchangeRateClient
	CkETHHelper  common.Address
	Principal    [32]byte
}

// New builds a recharge engine wired to its collaborators.
func New(cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		chainID:      cfg.ChainID,
		chain:        cfg.Chain,
		signer:       cfg.Signer,
		store:        cfg.Store,
		journal:      cfg.Journal,
		ledger:       cfg.Ledger,
		exchangeRate: cfg.ExchangeRate,
		ckETHHelper:  cfg.CkETHHelper,
		principal:    cfg.Principal,
		log:          log.With().Str("component", "recharge-engine").Logger(),
	}
}

// MintCycle checks the ckETH ledger balance and, if it has dropped below
// the minimum, rotates through strategy EOAs starting at the persisted
// cursor until one can fund a deposit, advancing the cursor past whichever
// EOA succeeded.
func (e *Engine) MintCycle(ctx context.Context) error {
	if e.ledger == nil {
		return ierrors.Custom("ckETH ledger client is not configured")
	}
	coll := e.journal.OpenCollection(nil)

	balance, err := e.ledger.Balance(ctx)
	if err != nil {
		e.write(ctx, coll, journal.OutcomeErr, err.Error(), "")
		return err
	}
	if balance.Cmp(big.NewInt(constants.MinCkETHBalance)) >= 0 {
		return nil
	}

	keys := e.store.Keys()
	if len(keys) == 0 {
		return nil
	}

	start := int(e.store.Global().MintCursor) % len(keys)
	mintAmount := big.NewInt(constants.MintAmountWei)

	for i := 0; i < len(keys); i++ {
		idx := (start + i) % len(keys)
		key := keys[idx]

		strat, err := e.store.Get(key)
		if err != nil {
			continue
		}
		if (strat.Data.EOA == common.Address{}) {
			continue
		}

		eoaBalance, err := e.chain.BalanceAt(ctx, strat.Data.EOA)
		if err != nil || eoaBalance.Cmp(mintAmount) <= 0 {
			continue
		}

		txHash, nonce, err := e.depositFrom(ctx, key, strat.Data.EOA, strat.Data.EOANonce, mintAmount)
		if err != nil {
			e.log.Warn().Uint32("strategy", key).Err(err).Msg("mint deposit failed, rotating to next EOA")
			continue
		}

		e.store.MutateGlobal(func(g *store.Global) {
			g.MintCursor = uint32((idx + 1) % len(keys))
		})
		_ = e.store.SetEOANonce(key, nonce+1)
		e.write(ctx, coll, journal.OutcomeOk, fmt.Sprintf("minted via strategy %d, tx=%s", key, txHash.Hex()), "")
		return nil
	}

	e.write(ctx, coll, journal.OutcomeOk, "mint cycle: no strategy EOA had sufficient balance", "")
	return nil
}

func (e *Engine) depositFrom(ctx context.Context, key uint32, eoa common.Address, cachedNonce uint64, amount *big.Int) (common.Hash, uint64, error) {
	data, err := abi.PackDeposit(e.principal)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("pack deposit: %w", err)
	}

	onChainNonce, err := e.chain.NonceAt(ctx, eoa)
	if err != nil {
		return common.Hash{}, 0, err
	}
	nonce := cachedNonce
	if onChainNonce > nonce {
		nonce = onChainNonce
	}

	fees, err := signer.EstimateFees(ctx, e.chain)
	if err != nil {
		return common.Hash{}, 0, err
	}

	tx := signer.Transaction{
		ChainID:   e.chainID,
		To:        e.ckETHHelper,
		Value:     amount,
		Data:      data,
		Nonce:     nonce,
		GasLimit:  constants.MintGasLimit,
		Fees:      fees,
		SignerKey: strategyengine.SignerPath(key),
	}
	_, raw, err := signer.BuildAndSign(ctx, e.signer, tx)
	if err != nil {
		return common.Hash{}, 0, fmt.Errorf("build and sign: %w", err)
	}

	hash, err := e.chain.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, 0, ierrors.RpcResponseError(err)
	}
	return hash, nonce, nil
}

// SwapCkETH trades the caller's attached compute credits for ckETH at a
// discount, refusing unless the local credit balance is below the recharge
// threshold and the attached amount meets the minimum swap size.
func (e *Engine) SwapCkETH(ctx context.Context, recipient string, attachedCredits *big.Int) (types.SwapResponse, error) {
	if err := e.store.TrySwapLock(); err != nil {
		return types.SwapResponse{}, err
	}
	defer e.store.UnlockSwap()

	balance := e.store.Global().CyclesBalance
	if balance != nil && balance.Cmp(big.NewInt(constants.CyclesRechargeThreshold)) >= 0 {
		return types.SwapResponse{}, ierrors.New(ierrors.KindCyclesBalanceAboveRechargeThreshold, "cycles balance is above the recharge threshold")
	}
	if attachedCredits == nil || attachedCredits.Cmp(big.NewInt(constants.MinSwapCycles)) < 0 {
		return types.SwapResponse{}, ierrors.Custom("attached credits below minimum swap size")
	}

	realRate, err := e.exchangeRate.Rate(ctx)
	if err != nil {
		return types.SwapResponse{}, ierrors.RpcResponseError(err)
	}

	discountedRate := applyDiscount(realRate, constants.SwapDiscountPct)

	// etherAmount = attachedCredits * discountedRate / 1e8 (rate is e8-scaled).
	etherAmount := new(big.Int).Mul(attachedCredits, discountedRate)
	etherAmount.Div(etherAmount, big.NewInt(100_000_000))

	returningEther, err := e.ledger.Transfer(ctx, recipient, etherAmount)
	if err != nil {
		return types.SwapResponse{}, ierrors.Custom(fmt.Sprintf("ledger transfer failed: %v", err))
	}

	returningCycles := new(big.Int)
	if returningEther.Cmp(etherAmount) < 0 {
		shortfall := new(big.Int).Sub(etherAmount, returningEther)
		returningCycles.Mul(shortfall, big.NewInt(100_000_000))
		returningCycles.Div(returningCycles, discountedRate)
	}
	acceptedCycles := new(big.Int).Sub(attachedCredits, returningCycles)

	e.store.MutateGlobal(func(g *store.Global) {
		if g.CyclesBalance == nil {
			g.CyclesBalance = new(big.Int)
		}
		g.CyclesBalance.Add(g.CyclesBalance, acceptedCycles)
	})

	coll := e.journal.OpenCollection(nil)
	e.write(ctx, coll, journal.OutcomeOk, fmt.Sprintf("swap: accepted=%s ether=%s recipient=%s", acceptedCycles, returningEther, recipient), "")

	return types.SwapResponse{
		RealRate:        realRate,
		DiscountedRate:  discountedRate,
		AcceptedCycles:  acceptedCycles,
		ReturningCycles: returningCycles,
		ReturningEther:  returningEther,
	}, nil
}

func applyDiscount(rate *big.Int, discountPct float64) *big.Int {
	keepBasisPoints := int64((1 - discountPct) * 10_000)
	discounted := new(big.Int).Mul(rate, big.NewInt(keepBasisPoints))
	return discounted.Div(discounted, big.NewInt(10_000))
}

func (e *Engine) write(ctx context.Context, coll uuid.UUID, outcome journal.Outcome, note string, errKind string) {
	_ = e.journal.WriteEntry(ctx, coll, nil, journal.KindRecharge, note, outcome, errKind)
}
