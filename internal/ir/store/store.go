// Package store provides the agent's durable state: a strategy table keyed
// by a 32-bit key and a global singleton record (mint cursor, halting
// state, swap lock, provider reputation snapshot, journal ring). There is
// no IC stable-structures equivalent in the example pack this agent learns
// from, so durability here is a yaml.v3-encoded snapshot file written on a
// periodic checkpoint and on graceful shutdown, in the spirit of the
// teacher's plain-file/viper-config I/O idiom rather than a database.
package store

import (
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/liquity/ir-manager/internal/ir/ierrors"
	"github.com/liquity/ir-manager/internal/ir/journal"
	"github.com/liquity/ir-manager/internal/ir/types"
)

// HaltState is the halting supervisor's lifecycle variant.
type HaltState string

const (
	HaltStateFunctional        HaltState = "functional"
	HaltStateHaltingInProgress HaltState = "halting_in_progress"
	HaltStateHalted            HaltState = "halted"
)

// StrategySettings is the caller-supplied, effectively-immutable
// configuration of a strategy, set once at mint time.
type StrategySettings struct {
	Key                uint32
	TargetMin          *big.Int
	Manager            common.Address
	MultiTroveGetter   common.Address
	SortedTroves       common.Address
	CollateralIndex    *big.Int
	RPCEndpoints       []string
	UpfrontFeePeriod   *big.Int
	CollateralRegistry common.Address
	HintHelper         common.Address
}

// StrategyData is a strategy's mutable, execution-derived state.
type StrategyData struct {
	BatchManager   common.Address
	EOA            common.Address
	EOANonce       uint64
	LatestRate     *big.Int
	LastUpdate     time.Time
	LastOkExit     time.Time
	IsLocked       bool
	LastLockedAt   time.Time
	SuccessWindow  []bool // rolling success/failure record over the last 7 days of ticks
}

// Strategy bundles settings and mutable data, mirroring the original's
// bidirectional Stable/Executable conversion without the IC-specific
// serialization machinery.
type Strategy struct {
	Settings StrategySettings
	Data     StrategyData
}

// Global is the singleton record shared across all strategies.
type Global struct {
	NextJournalSeq     uint64
	MintCursor         uint32 // round-robin index over strategy keys for ckETH minting
	SwapLocked         bool
	HaltState          HaltState
	HaltingSince       time.Time
	LastCleanupAt      time.Time
	LastRateAdjustment time.Time // most recent on-chain rate change across the whole fleet
	CyclesBalance      *big.Int  // local compute-credit balance, the swap path's recharge target
}

// Store is the in-memory, mutex-guarded state container with snapshot
// persistence, the Go analogue of the single-threaded host execution model
// this agent's original ran under.
type Store struct {
	mu         sync.RWMutex
	strategies map[uint32]*Strategy
	global     Global
	journal    journal.Manager
	path       string
}

// New builds an empty Store backed by journal and persisted at path.
func New(path string, j journal.Manager) *Store {
	return &Store{
		strategies: make(map[uint32]*Strategy),
		global:     Global{HaltState: HaltStateFunctional},
		journal:    j,
		path:       path,
	}
}

// MintStrategy inserts a new strategy, failing if key is already in use.
func (s *Store) MintStrategy(settings StrategySettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.strategies[settings.Key]; exists {
		return ierrors.New(ierrors.KindCustom, fmt.Sprintf("strategy %d already exists", settings.Key))
	}
	s.strategies[settings.Key] = &Strategy{Settings: settings}
	return nil
}

// Get returns a copy of the strategy's settings and data.
func (s *Store) Get(key uint32) (Strategy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strat, ok := s.strategies[key]
	if !ok {
		return Strategy{}, ierrors.NonExistentValue(fmt.Sprintf("strategy %d", key))
	}
	return *strat, nil
}

// Keys returns every minted strategy key, ascending.
func (s *Store) Keys() []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]uint32, 0, len(s.strategies))
	for k := range s.strategies {
		keys = append(keys, k)
	}
	sortUint32(keys)
	return keys
}

func sortUint32(keys []uint32) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

// SetBatchManager binds a strategy's batch manager address and its
// observed on-chain rate, one-shot: a strategy whose batch manager is
// already set refuses with Unauthorized, mirroring the batch-manager
// address's immutability after first set.
func (s *Store) SetBatchManager(key uint32, addr common.Address, currentRate *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	strat, ok := s.strategies[key]
	if !ok {
		return ierrors.NonExistentValue(fmt.Sprintf("strategy %d", key))
	}
	if (strat.Data.BatchManager != common.Address{}) {
		return ierrors.Unauthorized("batch manager already set for this strategy")
	}
	strat.Data.BatchManager = addr
	strat.Data.LatestRate = currentRate
	return nil
}

// BindSettings completes a placeholder strategy's one-shot configuration,
// the step between Start's bare-key pre-allocation and a usable strategy.
// Refuses with Unauthorized if settings were already bound.
func (s *Store) BindSettings(settings StrategySettings) (common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	strat, ok := s.strategies[settings.Key]
	if !ok {
		return common.Address{}, ierrors.NonExistentValue(fmt.Sprintf("strategy %d", settings.Key))
	}
	if (strat.Settings.Manager != common.Address{}) {
		return common.Address{}, ierrors.Unauthorized("strategy settings already bound")
	}
	settings.Key = strat.Settings.Key
	strat.Settings = settings
	return strat.Data.EOA, nil
}

// SetEOA assigns a strategy's externally-owned account, completing key
// assignment after the signer has derived it.
func (s *Store) SetEOA(key uint32, addr common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	strat, ok := s.strategies[key]
	if !ok {
		return ierrors.NonExistentValue(fmt.Sprintf("strategy %d", key))
	}
	strat.Data.EOA = addr
	return nil
}

// TryLock acquires a strategy's execution lock if it is free or stale
// (held longer than the lock timeout), returning Locked otherwise.
func (s *Store) TryLock(key uint32, now time.Time, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	strat, ok := s.strategies[key]
	if !ok {
		return ierrors.NonExistentValue(fmt.Sprintf("strategy %d", key))
	}
	if strat.Data.IsLocked && now.Sub(strat.Data.LastLockedAt) < timeout {
		return ierrors.Locked()
	}
	strat.Data.IsLocked = true
	strat.Data.LastLockedAt = now
	return nil
}

// Unlock releases a strategy's execution lock. Callers defer this
// immediately after TryLock succeeds, the Go analogue of the original's
// scope-exit Drop-based release.
func (s *Store) Unlock(key uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strat, ok := s.strategies[key]; ok {
		strat.Data.IsLocked = false
	}
}

// SetEOANonce advances a strategy's cached nonce independent of whether the
// transaction that consumed it committed a rate change, used after a
// reverted setNewRate still consumed a nonce on-chain.
func (s *Store) SetEOANonce(key uint32, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	strat, ok := s.strategies[key]
	if !ok {
		return ierrors.NonExistentValue(fmt.Sprintf("strategy %d", key))
	}
	strat.Data.EOANonce = nonce
	return nil
}

// TrySwapLock acquires the dedicated cycles<->ckETH swap lock, distinct
// from any strategy's execution lock, failing with Locked if already held.
func (s *Store) TrySwapLock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.global.SwapLocked {
		return ierrors.Locked()
	}
	s.global.SwapLocked = true
	return nil
}

// UnlockSwap releases the swap lock. Callers defer this immediately after
// TrySwapLock succeeds.
func (s *Store) UnlockSwap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global.SwapLocked = false
}

// RecordExecution updates a strategy's post-execution state. When rateChanged
// is true, LatestRate and LastUpdate are updated; LastOkExit always
// advances on success, mirroring the original updating last_ok_exit on
// every successful evaluation regardless of whether an action was taken.
func (s *Store) RecordExecution(key uint32, now time.Time, success bool, rateChanged bool, newRate *big.Int, nonce uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	strat, ok := s.strategies[key]
	if !ok {
		return ierrors.NonExistentValue(fmt.Sprintf("strategy %d", key))
	}
	if success {
		strat.Data.LastOkExit = now
		if rateChanged {
			strat.Data.LatestRate = newRate
			strat.Data.LastUpdate = now
			strat.Data.EOANonce = nonce
			s.global.LastRateAdjustment = now
		}
	}
	strat.Data.SuccessWindow = append(strat.Data.SuccessWindow, success)
	if len(strat.Data.SuccessWindow) > successWindowCap {
		strat.Data.SuccessWindow = strat.Data.SuccessWindow[len(strat.Data.SuccessWindow)-successWindowCap:]
	}
	return nil
}

// successWindowCap bounds the rolling per-strategy success record to
// roughly 7 days of hourly ticks, matching the halting supervisor's
// 7-day success-ratio window.
const successWindowCap = 7 * 24

// SuccessRatio returns a strategy's rolling success ratio over its
// retained window, or (0, false) if there is no history yet.
func (s *Store) SuccessRatio(key uint32) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	strat, ok := s.strategies[key]
	if !ok || len(strat.Data.SuccessWindow) == 0 {
		return 0, false
	}
	successes := 0
	for _, ok := range strat.Data.SuccessWindow {
		if ok {
			successes++
		}
	}
	return float64(successes) / float64(len(strat.Data.SuccessWindow)), true
}

// Global returns a copy of the global singleton record.
func (s *Store) Global() Global {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// MutateGlobal applies fn to the global record under the store's write
// lock.
func (s *Store) MutateGlobal(fn func(*Global)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.global)
}

// QueryData projects the read-only view of every minted strategy.
func (s *Store) QueryData() []types.StrategyQueryData {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.StrategyQueryData, 0, len(s.strategies))
	for _, key := range s.sortedKeysLocked() {
		strat := s.strategies[key]
		out = append(out, types.StrategyQueryData{
			Key:          strat.Settings.Key,
			Manager:      strat.Settings.Manager,
			BatchManager: strat.Data.BatchManager,
			EOA:          strat.Data.EOA,
			LatestRate:   strat.Data.LatestRate,
			LastUpdate:   strat.Data.LastUpdate,
			LastOkExit:   strat.Data.LastOkExit,
			EOANonce:     strat.Data.EOANonce,
			IsLocked:     strat.Data.IsLocked,
		})
	}
	return out
}

func (s *Store) sortedKeysLocked() []uint32 {
	keys := make([]uint32, 0, len(s.strategies))
	for k := range s.strategies {
		keys = append(keys, k)
	}
	sortUint32(keys)
	return keys
}

// snapshot is the on-disk schema written by Checkpoint and read by Load.
type snapshot struct {
	Version    int                  `yaml:"version"`
	Global     Global               `yaml:"global"`
	Strategies []Strategy           `yaml:"strategies"`
	Journal    []journal.Entry      `yaml:"journal"`
}

const snapshotVersion = 1

// Checkpoint writes the store's full state, including the journal ring,
// to its snapshot file. Called on the config-driven checkpoint period and
// on graceful shutdown.
func (s *Store) Checkpoint() error {
	s.mu.RLock()
	snap := snapshot{
		Version: snapshotVersion,
		Global:  s.global,
	}
	for _, key := range s.sortedKeysLocked() {
		snap.Strategies = append(snap.Strategies, *s.strategies[key])
	}
	s.mu.RUnlock()

	if s.journal != nil {
		snap.Journal = s.journal.Snapshot()
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot tmp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename snapshot tmp file: %w", err)
	}
	return nil
}

// Load restores a Store from its snapshot file. A missing file is not an
// error; it yields an empty Store, matching a first-run canister.
func Load(path string, j journal.Manager) (*Store, error) {
	s := New(path, j)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read snapshot file: %w", err)
	}

	var snap snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	s.global = snap.Global
	for i := range snap.Strategies {
		strat := snap.Strategies[i]
		s.strategies[strat.Settings.Key] = &strat
	}
	if j != nil && len(snap.Journal) > 0 {
		j.Restore(snap.Journal)
	}
	return s, nil
}
