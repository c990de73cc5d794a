package store

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/liquity/ir-manager/internal/ir/ierrors"
)

func TestMintStrategy_RefusesDuplicateKey(t *testing.T) {
	s := New("", nil)
	require.NoError(t, s.MintStrategy(StrategySettings{Key: 1}))
	err := s.MintStrategy(StrategySettings{Key: 1})
	require.Error(t, err)
}

func TestGet_UnknownKeyIsNonExistentValue(t *testing.T) {
	s := New("", nil)
	_, err := s.Get(7)
	require.True(t, ierrors.IsKind(err, ierrors.KindNonExistentValue))
}

func TestTryLock_FreshLockSucceedsAndBlocksUntilTimeout(t *testing.T) {
	s := New("", nil)
	require.NoError(t, s.MintStrategy(StrategySettings{Key: 1}))

	now := time.Now()
	require.NoError(t, s.TryLock(1, now, time.Minute))

	// Re-locking before the timeout elapses: still held.
	err := s.TryLock(1, now.Add(30*time.Second), time.Minute)
	require.True(t, ierrors.IsKind(err, ierrors.KindLocked))

	// Exactly at the timeout boundary: elapsed == timeout, not < timeout, so
	// the lock is already considered stale and is reacquired.
	require.NoError(t, s.TryLock(1, now.Add(time.Minute), time.Minute))
}

func TestUnlock_AllowsImmediateReacquisition(t *testing.T) {
	s := New("", nil)
	require.NoError(t, s.MintStrategy(StrategySettings{Key: 1}))

	now := time.Now()
	require.NoError(t, s.TryLock(1, now, time.Minute))
	s.Unlock(1)
	require.NoError(t, s.TryLock(1, now.Add(time.Second), time.Minute))
}

func TestSetBatchManager_OneShot(t *testing.T) {
	s := New("", nil)
	require.NoError(t, s.MintStrategy(StrategySettings{Key: 1}))

	addr := common.HexToAddress("0x1")
	require.NoError(t, s.SetBatchManager(1, addr, big.NewInt(42)))

	strat, err := s.Get(1)
	require.NoError(t, err)
	require.Equal(t, addr, strat.Data.BatchManager)
	require.Equal(t, big.NewInt(42), strat.Data.LatestRate)

	err = s.SetBatchManager(1, common.HexToAddress("0x2"), big.NewInt(99))
	require.True(t, ierrors.IsKind(err, ierrors.KindUnauthorized))
}

func TestBindSettings_OneShot(t *testing.T) {
	s := New("", nil)
	require.NoError(t, s.MintStrategy(StrategySettings{Key: 1}))
	require.NoError(t, s.SetEOA(1, common.HexToAddress("0xaa")))

	eoa, err := s.BindSettings(StrategySettings{Key: 1, Manager: common.HexToAddress("0x1")})
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xaa"), eoa)

	_, err = s.BindSettings(StrategySettings{Key: 1, Manager: common.HexToAddress("0x2")})
	require.True(t, ierrors.IsKind(err, ierrors.KindUnauthorized))
}

func TestRecordExecution_LastOkExitAdvancesOnEveryOkTickRegardlessOfAction(t *testing.T) {
	s := New("", nil)
	require.NoError(t, s.MintStrategy(StrategySettings{Key: 1}))

	t0 := time.Now()
	require.NoError(t, s.RecordExecution(1, t0, true, false, nil, 5))
	strat, err := s.Get(1)
	require.NoError(t, err)
	require.Equal(t, t0, strat.Data.LastOkExit)
	require.True(t, strat.Data.LastUpdate.IsZero())
	require.Equal(t, uint64(0), strat.Data.EOANonce)

	t1 := t0.Add(time.Hour)
	require.NoError(t, s.RecordExecution(1, t1, true, true, big.NewInt(123), 6))
	strat, err = s.Get(1)
	require.NoError(t, err)
	require.Equal(t, t1, strat.Data.LastOkExit)
	require.Equal(t, t1, strat.Data.LastUpdate)
	require.Equal(t, big.NewInt(123), strat.Data.LatestRate)
	require.Equal(t, uint64(6), strat.Data.EOANonce)
	require.Equal(t, t1, s.Global().LastRateAdjustment)

	t2 := t1.Add(time.Hour)
	require.NoError(t, s.RecordExecution(1, t2, false, false, nil, 0))
	strat, err = s.Get(1)
	require.NoError(t, err)
	require.Equal(t, t1, strat.Data.LastOkExit) // unchanged: this tick failed
	require.Equal(t, []bool{true, true, false}, strat.Data.SuccessWindow)
}

func TestSuccessRatio_NoHistoryReturnsFalse(t *testing.T) {
	s := New("", nil)
	require.NoError(t, s.MintStrategy(StrategySettings{Key: 1}))

	_, ok := s.SuccessRatio(1)
	require.False(t, ok)

	require.NoError(t, s.RecordExecution(1, time.Now(), true, false, nil, 0))
	require.NoError(t, s.RecordExecution(1, time.Now(), false, false, nil, 0))
	ratio, ok := s.SuccessRatio(1)
	require.True(t, ok)
	require.Equal(t, 0.5, ratio)
}

func TestCheckpointLoad_RoundTripsStrategiesAndGlobal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")

	s := New(path, nil)
	require.NoError(t, s.MintStrategy(StrategySettings{
		Key:                3,
		TargetMin:          big.NewInt(10),
		Manager:            common.HexToAddress("0x1"),
		CollateralRegistry: common.HexToAddress("0x2"),
	}))
	require.NoError(t, s.SetEOA(3, common.HexToAddress("0xaa")))
	s.MutateGlobal(func(g *Global) {
		g.HaltState = HaltStateHalted
		g.CyclesBalance = big.NewInt(7)
	})
	require.NoError(t, s.Checkpoint())

	_, err := os.Stat(path)
	require.NoError(t, err)

	restored, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, HaltStateHalted, restored.Global().HaltState)
	require.Equal(t, big.NewInt(7), restored.Global().CyclesBalance)

	strat, err := restored.Get(3)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(10), strat.Settings.TargetMin)
	require.Equal(t, common.HexToAddress("0xaa"), strat.Data.EOA)
}

func TestLoad_MissingFileYieldsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(filepath.Join(dir, "does-not-exist.yaml"), nil)
	require.NoError(t, err)
	require.Empty(t, s.Keys())
	require.Equal(t, HaltStateFunctional, s.Global().HaltState)
}
