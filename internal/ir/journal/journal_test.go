package journal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteAndGetLogs(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()
	key := uint32(7)

	coll := m.OpenCollection(&key)
	require.NoError(t, m.WriteEntry(ctx, coll, &key, KindRateAdjustment, "adjusted", OutcomeOk, ""))
	require.NoError(t, m.WriteEntry(ctx, coll, nil, KindRecharge, "minted", OutcomeOk, ""))

	logs, err := m.GetLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, KindRecharge, logs[0].Kind) // most recent first

	strategyLogs, err := m.GetStrategyLogs(ctx, 10, key)
	require.NoError(t, err)
	require.Len(t, strategyLogs, 1)
	require.Equal(t, KindRateAdjustment, strategyLogs[0].Kind)

	rechargeLogs, err := m.GetRechargeLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rechargeLogs, 1)
}

func TestCleanup_StripsProviderReputationChangeAndCaps(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()
	coll := m.OpenCollection(nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.WriteEntry(ctx, coll, nil, KindProviderReputationChange, "", OutcomeOk, ""))
	}
	require.NoError(t, m.WriteEntry(ctx, coll, nil, KindInfo, "keep me", OutcomeOk, ""))

	require.NoError(t, m.Cleanup(ctx))

	logs, err := m.GetLogs(ctx, 100)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, KindInfo, logs[0].Kind)
}

func TestSnapshotRestore(t *testing.T) {
	m := NewMemoryManager()
	ctx := context.Background()
	coll := m.OpenCollection(nil)
	require.NoError(t, m.WriteEntry(ctx, coll, nil, KindInfo, "hello", OutcomeOk, ""))

	snap := m.Snapshot()
	require.Len(t, snap, 1)

	m2 := NewMemoryManager()
	m2.Restore(snap)
	logs, err := m2.GetLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
}
