package halting

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/liquity/ir-manager/internal/ir/journal"
	"github.com/liquity/ir-manager/internal/ir/store"
)

func newTestSupervisor(t *testing.T, startedAt time.Time) (*Supervisor, *store.Store) {
	t.Helper()
	j := journal.NewMemoryManager()
	st := store.New("", j)
	return New(st, j, zerolog.Nop(), startedAt), st
}

func TestTick_StaysFunctionalWhenHealthy(t *testing.T) {
	now := time.Now()
	sup, st := newTestSupervisor(t, now)
	require.NoError(t, st.MintStrategy(store.StrategySettings{Key: 1}))
	require.NoError(t, st.RecordExecution(1, now, true, true, nil, 0))

	require.NoError(t, sup.Tick(context.Background()))
	require.Equal(t, store.HaltStateFunctional, st.Global().HaltState)
}

func TestTick_EntersHaltingInProgressOnLowSuccessRatio(t *testing.T) {
	now := time.Now()
	sup, st := newTestSupervisor(t, now)
	require.NoError(t, st.MintStrategy(store.StrategySettings{Key: 1}))
	for i := 0; i < 10; i++ {
		require.NoError(t, st.RecordExecution(1, now, false, false, nil, 0))
	}

	require.NoError(t, sup.Tick(context.Background()))
	require.Equal(t, store.HaltStateHaltingInProgress, st.Global().HaltState)
}

func TestTick_TransitionsToHaltedAfterWarningWindow(t *testing.T) {
	now := time.Now()
	sup, st := newTestSupervisor(t, now)
	require.NoError(t, st.MintStrategy(store.StrategySettings{Key: 1}))
	for i := 0; i < 10; i++ {
		require.NoError(t, st.RecordExecution(1, now, false, false, nil, 0))
	}

	st.MutateGlobal(func(g *store.Global) {
		g.HaltState = store.HaltStateHaltingInProgress
		g.HaltingSince = now.Add(-8 * 24 * time.Hour)
	})

	require.NoError(t, sup.Tick(context.Background()))
	require.Equal(t, store.HaltStateHalted, st.Global().HaltState)
}

func TestTick_RecoversBeforeWarningWindowElapses(t *testing.T) {
	now := time.Now()
	sup, st := newTestSupervisor(t, now)
	require.NoError(t, st.MintStrategy(store.StrategySettings{Key: 1}))
	require.NoError(t, st.RecordExecution(1, now, true, true, nil, 0))

	st.MutateGlobal(func(g *store.Global) {
		g.HaltState = store.HaltStateHaltingInProgress
		g.HaltingSince = now.Add(-1 * time.Hour)
	})

	require.NoError(t, sup.Tick(context.Background()))
	require.Equal(t, store.HaltStateFunctional, st.Global().HaltState)
}

func TestTick_BreachesOnQuietWindowAnchoredAtStart(t *testing.T) {
	startedAt := time.Now().Add(-31 * 24 * time.Hour)
	sup, st := newTestSupervisor(t, startedAt)
	require.NoError(t, st.MintStrategy(store.StrategySettings{Key: 1}))
	// Healthy strategy but the fleet has never committed a rate adjustment
	// and the 30-day quiet window has elapsed since process start.
	require.NoError(t, st.RecordExecution(1, time.Now(), true, false, nil, 0))

	require.NoError(t, sup.Tick(context.Background()))
	require.Equal(t, store.HaltStateHaltingInProgress, st.Global().HaltState)
}

func TestTick_NoBreachWithinQuietWindow(t *testing.T) {
	startedAt := time.Now().Add(-1 * time.Hour)
	sup, st := newTestSupervisor(t, startedAt)
	require.NoError(t, st.MintStrategy(store.StrategySettings{Key: 1}))
	require.NoError(t, st.RecordExecution(1, time.Now(), true, false, nil, 0))

	require.NoError(t, sup.Tick(context.Background()))
	require.Equal(t, store.HaltStateFunctional, st.Global().HaltState)
}
