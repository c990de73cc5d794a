package recharge

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/liquity/ir-manager/internal/ir/journal"
	"github.com/liquity/ir-manager/internal/ir/signer"
	"github.com/liquity/ir-manager/internal/ir/store"
	"github.com/liquity/ir-manager/internal/ir/strategyengine"
)

type fakeChain struct {
	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	sent     [][]byte
}

func (f *fakeChain) FeeHistory(ctx context.Context, blockCount uint64, percentiles []float64) ([]*big.Int, [][]*big.Int, error) {
	base := []*big.Int{big.NewInt(10_000_000_000)}
	rewards := [][]*big.Int{{big.NewInt(1_000_000_000), big.NewInt(2_000_000_000)}}
	return base, rewards, nil
}

func (f *fakeChain) BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error) {
	if b, ok := f.balances[addr]; ok {
		return b, nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	return f.nonces[addr], nil
}

func (f *fakeChain) SendRawTransaction(ctx context.Context, signedTxRLP []byte) (common.Hash, error) {
	f.sent = append(f.sent, signedTxRLP)
	return common.BytesToHash([]byte{1, 2, 3}), nil
}

type fakeLedger struct {
	balance    *big.Int
	transferTo map[string]*big.Int // recipient -> amount actually transferred
}

func (f *fakeLedger) Balance(ctx context.Context) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeLedger) Transfer(ctx context.Context, recipient string, amount *big.Int) (*big.Int, error) {
	if got, ok := f.transferTo[recipient]; ok {
		return got, nil
	}
	return amount, nil
}

type fakeExchangeRate struct {
	rate *big.Int
}

func (f *fakeExchangeRate) Rate(ctx context.Context) (*big.Int, error) {
	return f.rate, nil
}

func newTestEngine(t *testing.T, chain ChainClient, ledger LedgerClient, xrate ExchangeRateClient) (*Engine, *store.Store) {
	t.Helper()
	j := journal.NewMemoryManager()
	st := store.New("", j)
	sgnr := signer.NewLocal()
	_, err := sgnr.AddKey(strategyengine.SignerPath(7), nil)
	require.NoError(t, err)

	eng := New(Config{
		ChainID:      big.NewInt(1),
		Chain:        chain,
		Signer:       sgnr,
		Store:        st,
		Journal:      j,
		Ledger:       ledger,
		ExchangeRate: xrate,
		CkETHHelper:  common.HexToAddress("0xCE7Ab00000000000000000000000000000000"),
		Principal:    [32]byte{1},
	}, zerolog.Nop())
	return eng, st
}

// Scenario 6: caller sends 15 T cycles, the real rate is the xdr-implied
// ether rate of 0.0000001 ETH per cycle-unit (10 at e8 scale), and the
// discounted rate is real*0.97.
func TestSwapCkETH_WorkedExample(t *testing.T) {
	// The exchange-rate client returns the e8-scaled ether-per-cycle rate
	// directly (0.0000001 ETH = 10 wei-equivalent at e8 scale => 10).
	xrate := big.NewInt(10)
	ledger := &fakeLedger{}
	eng, st := newTestEngine(t, &fakeChain{}, ledger, &fakeExchangeRate{rate: xrate})

	attached := new(big.Int).Mul(big.NewInt(15), big.NewInt(1_000_000_000_000)) // 15 T cycles
	discounted := applyDiscount(xrate, 0.03)
	expectedEther := new(big.Int).Mul(attached, discounted)
	expectedEther.Div(expectedEther, big.NewInt(100_000_000))
	ledger.transferTo = map[string]*big.Int{"recipient-1": expectedEther}

	resp, err := eng.SwapCkETH(context.Background(), "recipient-1", attached)
	require.NoError(t, err)
	require.Equal(t, attached, resp.AcceptedCycles)
	require.Equal(t, big.NewInt(0), resp.ReturningCycles)
	require.Equal(t, expectedEther, resp.ReturningEther)
	require.Equal(t, discounted, resp.DiscountedRate)

	// Swap lock released on return.
	require.NoError(t, st.TrySwapLock())
	st.UnlockSwap()
}

func TestSwapCkETH_RefusedWhenCyclesBalanceAboveThreshold(t *testing.T) {
	eng, st := newTestEngine(t, &fakeChain{}, &fakeLedger{}, &fakeExchangeRate{rate: big.NewInt(10)})
	st.MutateGlobal(func(g *store.Global) {
		g.CyclesBalance = big.NewInt(20_000_000_000_000)
	})
	_, err := eng.SwapCkETH(context.Background(), "r", big.NewInt(15_000_000_000_000))
	require.Error(t, err)
}

func TestSwapCkETH_RefusedBelowMinimum(t *testing.T) {
	eng, _ := newTestEngine(t, &fakeChain{}, &fakeLedger{}, &fakeExchangeRate{rate: big.NewInt(10)})
	_, err := eng.SwapCkETH(context.Background(), "r", big.NewInt(1))
	require.Error(t, err)
}

func TestSwapCkETH_PartialFill_ReturnsUnusedCycles(t *testing.T) {
	xrate := big.NewInt(10)
	ledger := &fakeLedger{}
	eng, _ := newTestEngine(t, &fakeChain{}, ledger, &fakeExchangeRate{rate: xrate})

	attached := big.NewInt(15_000_000_000_000)
	discounted := applyDiscount(xrate, 0.03)
	fullEther := new(big.Int).Mul(attached, discounted)
	fullEther.Div(fullEther, big.NewInt(100_000_000))

	half := new(big.Int).Div(fullEther, big.NewInt(2))
	ledger.transferTo = map[string]*big.Int{"r": half}

	resp, err := eng.SwapCkETH(context.Background(), "r", attached)
	require.NoError(t, err)
	require.True(t, resp.ReturningCycles.Sign() > 0)
	require.True(t, resp.AcceptedCycles.Cmp(attached) < 0)
}

// Scenario: mint cycle rotates through strategy EOAs starting at the
// persisted cursor and advances it past whichever EOA funded the deposit.
func TestMintCycle_RotatesCursorOnSuccess(t *testing.T) {
	eoa := common.HexToAddress("0x1111111111111111111111111111111111111a")
	chain := &fakeChain{
		balances: map[common.Address]*big.Int{eoa: big.NewInt(10_000_000_000_000_000)},
		nonces:   map[common.Address]uint64{eoa: 5},
	}
	ledger := &fakeLedger{balance: big.NewInt(0)}
	eng, st := newTestEngine(t, chain, ledger, &fakeExchangeRate{})

	require.NoError(t, st.MintStrategy(store.StrategySettings{Key: 7}))
	require.NoError(t, st.SetEOA(7, eoa))

	require.NoError(t, eng.MintCycle(context.Background()))

	strat, err := st.Get(7)
	require.NoError(t, err)
	require.Equal(t, uint64(6), strat.Data.EOANonce)
	require.Equal(t, uint32(0), st.Global().MintCursor)
}

func TestMintCycle_NoOpWhenBalanceSufficient(t *testing.T) {
	ledger := &fakeLedger{balance: big.NewInt(1_000_000_000_000_000_000)}
	eng, _ := newTestEngine(t, &fakeChain{}, ledger, &fakeExchangeRate{})
	require.NoError(t, eng.MintCycle(context.Background()))
}
