package manager

import (
	"context"
	"io"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/liquity/ir-manager/internal/ir/journal"
	"github.com/liquity/ir-manager/internal/ir/rpcpool"
	"github.com/liquity/ir-manager/internal/ir/signer"
	"github.com/liquity/ir-manager/internal/ir/store"
	"github.com/liquity/ir-manager/internal/ir/types"
	periodrunner "github.com/liquity/ir-manager/x/period-runner"
)

func periodInfo() periodrunner.PeriodInfo {
	return periodrunner.PeriodInfo{}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	log := zerolog.New(io.Discard).Level(zerolog.Disabled)
	j := journal.NewMemoryManager()
	st := store.New("", j)
	return New(Config{
		ChainID: big.NewInt(1),
		Pool:    rpcpool.New(nil, log),
		Signer:  signer.NewLocal(),
		Store:   st,
		Journal: j,
	}, log)
}

func TestStartAssignKeysMintStrategy_HappyPath(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, 2))
	require.NoError(t, m.AssignKeys(ctx))

	strats, err := m.GetStrategies(ctx)
	require.NoError(t, err)
	require.Len(t, strats, 2)

	eoa, ok := m.GetStrategyAddress(ctx, 1)
	require.True(t, ok)
	require.NotEmpty(t, eoa)

	input := types.StrategyInput{
		Key:                1,
		Manager:            "0x0000000000000000000000000000000000000001",
		MultiTroveGetter:   "0x0000000000000000000000000000000000000002",
		SortedTroves:       "0x0000000000000000000000000000000000000003",
		CollateralIndex:    big.NewInt(0),
		UpfrontFeePeriod:   big.NewInt(604800),
		CollateralRegistry: "0x0000000000000000000000000000000000000004",
		HintHelper:         "0x0000000000000000000000000000000000000005",
	}
	gotEOA, err := m.MintStrategy(ctx, input)
	require.NoError(t, err)
	require.Equal(t, eoa, gotEOA)

	require.NoError(t, m.SetBatchManager(ctx, 1, "0x0000000000000000000000000000000000000006", big.NewInt(10)))
}

func TestGuardConfigMutation_FreezesAfterStartTimers(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, 1))
	require.NoError(t, m.StartTimers(ctx))
	defer m.Stop(ctx)

	err := m.Start(ctx, 1)
	require.Error(t, err)

	err = m.AssignKeys(ctx)
	require.Error(t, err)
}

func TestStartTimers_IsIdempotentAndStopTearsDown(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.StartTimers(ctx))
	require.NoError(t, m.StartTimers(ctx)) // second call is a no-op, not an error

	require.NoError(t, m.Stop(ctx))
	require.NoError(t, m.Stop(ctx)) // stopping twice is also a no-op
}

func TestOnStrategyTick_OneStrategyFailureDoesNotBlockOthers(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, 2))
	require.NoError(t, m.AssignKeys(ctx))
	// Neither strategy has a batch manager or EOA bound to real settings,
	// so Execute fails fast with Unauthorized for both - onStrategyTick
	// itself must still return nil (per-strategy errors are logged, not
	// propagated).
	require.NoError(t, m.onStrategyTick(ctx, periodInfo()))
}

func TestOnStrategyTick_SkipsWhenHalted(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.store.MutateGlobal(func(g *store.Global) {
		g.HaltState = store.HaltStateHalted
	})
	require.NoError(t, m.onStrategyTick(ctx, periodInfo()))
}

func TestGetRankedProvidersList_EmptyPool(t *testing.T) {
	m := newTestManager(t)
	list, err := m.GetRankedProvidersList(context.Background())
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestHaltStatus_ReflectsStoreState(t *testing.T) {
	m := newTestManager(t)
	require.Equal(t, store.HaltStateFunctional, m.HaltStatus(context.Background()))
	m.store.MutateGlobal(func(g *store.Global) {
		g.HaltState = store.HaltStateHaltingInProgress
	})
	require.Equal(t, store.HaltStateHaltingInProgress, m.HaltStatus(context.Background()))
}

func TestGetStrategyAddress_UnknownKey(t *testing.T) {
	m := newTestManager(t)
	_, ok := m.GetStrategyAddress(context.Background(), 99)
	require.False(t, ok)
}
