// Package manager implements the rate-management agent's top-level
// orchestrator: the public operation surface (mint/configure/query) and
// the scheduler that drives the strategy, recharge, and halting engines on
// their respective cadences. Grounded on the teacher's
// x/publisher-manager package: the same mu/ctx/cancel/started lifecycle
// shape, generalized from one coordinator and one period runner to several
// engines and several independently-cadenced period runners.
package manager

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/liquity/ir-manager/internal/ir/constants"
	"github.com/liquity/ir-manager/internal/ir/halting"
	"github.com/liquity/ir-manager/internal/ir/ierrors"
	"github.com/liquity/ir-manager/internal/ir/journal"
	"github.com/liquity/ir-manager/internal/ir/recharge"
	"github.com/liquity/ir-manager/internal/ir/rpcpool"
	"github.com/liquity/ir-manager/internal/ir/signer"
	"github.com/liquity/ir-manager/internal/ir/store"
	"github.com/liquity/ir-manager/internal/ir/strategyengine"
	"github.com/liquity/ir-manager/internal/ir/types"
	"github.com/liquity/ir-manager/internal/metrics"
	periodrunner "github.com/liquity/ir-manager/x/period-runner"
)

// Config bundles every collaborator the manager wires together.
type Config struct {
	ChainID      *big.Int
	Pool         *rpcpool.Pool
	Signer       signer.Signer
	Store        *store.Store
	Journal      journal.Manager
	Ledger       recharge.LedgerClient
	ExchangeRate recharge.ExchangeRateClient
	CkETHHelper  common.Address
	Principal    [32]byte
	Registries   []common.Address
	StartedAt    time.Time
	Metrics      *metrics.Registry
}

// Manager is the agent's public operation surface and scheduler.
type Manager struct {
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	// timersStarted freezes every configuration-mutating operation once
	// the scheduler is running, per the entrypoint design's "StartTimers
	// freezes configuration" rule.
	timersStarted bool

	log zerolog.Logger

	chainID    *big.Int
	pool       *rpcpool.Pool
	signer     signer.Signer
	store      *store.Store
	journal    journal.Manager
	registries []common.Address
	startedAt  time.Time
	metrics    *metrics.Registry

	strategyEngine *strategyengine.Engine
	rechargeEngine *recharge.Engine
	halting        *halting.Supervisor

	strategyRunner periodrunner.PeriodRunner
	mintRunner     periodrunner.PeriodRunner
	haltRunner     periodrunner.PeriodRunner
	cleanupRunner  periodrunner.PeriodRunner
}

// New builds a manager wired to its collaborators but does not start
// anything; call Start to pre-allocate strategies and StartTimers to
// launch the scheduler.
func New(cfg Config, log zerolog.Logger) *Manager {
	log = log.With().Str("component", "manager").Logger()

	strategyEngine := strategyengine.New(cfg.ChainID, cfg.Pool, cfg.Signer, cfg.Store, cfg.Journal, cfg.Metrics, log)
	rechargeEngine := recharge.New(recharge.Config{
		ChainID:      cfg.ChainID,
		Chain:        cfg.Pool,
		Signer:       cfg.Signer,
		Store:        cfg.Store,
		Journal:      cfg.Journal,
		Ledger:       cfg.Ledger,
		ExchangeRate: cfg.ExchangeRate,
		CkETHHelper:  cfg.CkETHHelper,
		Principal:    cfg.Principal,
	}, log)
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	sup := halting.New(cfg.Store, cfg.Journal, log, startedAt)

	return &Manager{
		log:            log,
		chainID:        cfg.ChainID,
		pool:           cfg.Pool,
		signer:         cfg.Signer,
		store:          cfg.Store,
		journal:        cfg.Journal,
		registries:     cfg.Registries,
		startedAt:      startedAt,
		metrics:        cfg.Metrics,
		strategyEngine: strategyEngine,
		rechargeEngine: rechargeEngine,
		halting:        sup,
	}
}

// Start pre-allocates n strategy placeholders, permitting EOA key
// derivation before each strategy's settings are finalized by
// MintStrategy.
func (m *Manager) Start(ctx context.Context, n uint32) error {
	if err := m.guardConfigMutation(); err != nil {
		return err
	}
	for key := uint32(1); key <= n; key++ {
		if err := m.store.MintStrategy(store.StrategySettings{Key: key}); err != nil {
			return err
		}
	}
	m.log.Info().Uint32("count", n).Msg("pre-allocated strategy placeholders")
	return nil
}

// AssignKeys derives, for every placeholder that has none yet, an EOA
// public key and address through the signer boundary.
func (m *Manager) AssignKeys(ctx context.Context) error {
	if err := m.guardConfigMutation(); err != nil {
		return err
	}
	generator, canGenerate := m.signer.(signer.KeyGenerator)

	for _, key := range m.store.Keys() {
		strat, err := m.store.Get(key)
		if err != nil {
			return err
		}
		if (strat.Data.EOA != common.Address{}) {
			continue
		}
		path := strategyengine.SignerPath(key)
		if canGenerate {
			if _, err := generator.AddKey(path, nil); err != nil {
				return fmt.Errorf("assign key for strategy %d: %w", key, err)
			}
		}
		addr, err := m.signer.Address(ctx, path)
		if err != nil {
			return fmt.Errorf("derive address for strategy %d: %w", key, err)
		}
		if err := m.store.SetEOA(key, addr); err != nil {
			return err
		}
	}
	m.log.Info().Msg("assigned EOA keys to all strategy placeholders")
	return nil
}

// MintStrategy binds a placeholder's settings, completing its one-shot
// configuration, and returns its EOA address.
func (m *Manager) MintStrategy(ctx context.Context, input types.StrategyInput) (string, error) {
	if err := m.guardConfigMutation(); err != nil {
		return "", err
	}

	managerAddr := common.HexToAddress(input.Manager)
	multiTroveGetter := common.HexToAddress(input.MultiTroveGetter)
	sortedTroves := common.HexToAddress(input.SortedTroves)
	collateralRegistry := common.HexToAddress(input.CollateralRegistry)
	hintHelper := common.HexToAddress(input.HintHelper)

	settings := store.StrategySettings{
		Key:                input.Key,
		TargetMin:          input.TargetMin,
		Manager:            managerAddr,
		MultiTroveGetter:   multiTroveGetter,
		SortedTroves:       sortedTroves,
		CollateralIndex:    input.CollateralIndex,
		RPCEndpoints:       input.RPCEndpoints,
		UpfrontFeePeriod:   input.UpfrontFeePeriod,
		CollateralRegistry: collateralRegistry,
		HintHelper:         hintHelper,
	}

	eoa, err := m.store.BindSettings(settings)
	if err != nil {
		return "", err
	}
	m.log.Info().Uint32("strategy", input.Key).Str("eoa", eoa.Hex()).Msg("minted strategy")
	return eoa.Hex(), nil
}

// SetBatchManager binds a strategy's batch manager address and its
// currently observed on-chain rate. One-shot per strategy.
func (m *Manager) SetBatchManager(ctx context.Context, key uint32, addr string, currentRate *big.Int) error {
	if err := m.guardConfigMutation(); err != nil {
		return err
	}
	return m.store.SetBatchManager(key, common.HexToAddress(addr), currentRate)
}

// guardConfigMutation refuses configuration-mutating calls once the
// scheduler has started, per the entrypoint design's freeze rule.
func (m *Manager) guardConfigMutation() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.timersStarted {
		return ierrors.Unauthorized("configuration is frozen after StartTimers")
	}
	return nil
}

// StartTimers launches the scheduler: an hourly per-strategy evaluation
// tick, a daily ckETH mint tick, a weekly halting-supervisor tick, and a
// daily journal/reputation cleanup tick. Freezes every configuration-
// mutating operation.
func (m *Manager) StartTimers(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.ctx = runCtx
	m.cancel = cancel
	m.started = true
	m.timersStarted = true
	m.mu.Unlock()

	now := time.Now()
	m.strategyRunner = periodrunner.NewLocalPeriodRunner(periodrunner.PeriodRunnerConfig{
		PeriodDuration: constants.StrategyTickPeriod,
		GenesisTime:    now,
		Logger:         m.log,
	})
	m.strategyRunner.SetHandler(m.onStrategyTick)

	m.mintRunner = periodrunner.NewLocalPeriodRunner(periodrunner.PeriodRunnerConfig{
		PeriodDuration: constants.MintPeriod,
		GenesisTime:    now,
		Logger:         m.log,
	})
	m.mintRunner.SetHandler(func(ctx context.Context, _ periodrunner.PeriodInfo) error {
		err := m.rechargeEngine.MintCycle(ctx)
		if err == nil && m.metrics != nil {
			m.metrics.MintCycles.Inc()
		}
		return err
	})

	m.haltRunner = periodrunner.NewLocalPeriodRunner(periodrunner.PeriodRunnerConfig{
		PeriodDuration: constants.HaltingCheckPeriod,
		GenesisTime:    now,
		Logger:         m.log,
	})
	m.haltRunner.SetHandler(func(ctx context.Context, _ periodrunner.PeriodInfo) error {
		err := m.halting.Tick(ctx)
		if m.metrics != nil {
			m.metrics.HaltState.Set(metrics.HaltStateOrdinal(string(m.store.Global().HaltState)))
		}
		return err
	})

	m.cleanupRunner = periodrunner.NewLocalPeriodRunner(periodrunner.PeriodRunnerConfig{
		PeriodDuration: constants.CleanupPeriod,
		GenesisTime:    now,
		Logger:         m.log,
	})
	m.cleanupRunner.SetHandler(func(ctx context.Context, _ periodrunner.PeriodInfo) error {
		if err := m.journal.Cleanup(ctx); err != nil {
			return err
		}
		if err := m.pool.Reshuffle(); err != nil {
			return err
		}
		m.store.MutateGlobal(func(g *store.Global) {
			g.LastCleanupAt = time.Now()
		})
		return nil
	})

	for _, r := range []periodrunner.PeriodRunner{m.strategyRunner, m.mintRunner, m.haltRunner, m.cleanupRunner} {
		if err := r.Start(runCtx); err != nil {
			cancel()
			return fmt.Errorf("start period runner: %w", err)
		}
	}

	m.log.Info().Msg("scheduler started; configuration is now frozen")
	return nil
}

// Stop halts the scheduler, in teardown order opposite Start.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	cancel := m.cancel
	m.started = false
	m.mu.Unlock()

	cancel()

	for _, r := range []periodrunner.PeriodRunner{m.cleanupRunner, m.haltRunner, m.mintRunner, m.strategyRunner} {
		if r == nil {
			continue
		}
		if err := r.Stop(ctx); err != nil {
			return err
		}
	}
	return nil
}

// onStrategyTick evaluates every minted strategy concurrently, each
// serialized by its own per-strategy lock; one strategy's failure does not
// prevent the others from running.
func (m *Manager) onStrategyTick(ctx context.Context, _ periodrunner.PeriodInfo) error {
	if m.store.Global().HaltState == store.HaltStateHalted {
		return nil
	}

	start := time.Now()
	keys := m.store.Keys()
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := m.strategyEngine.Execute(gctx, key, m.registries); err != nil {
				m.log.Warn().Uint32("strategy", key).Err(err).Msg("strategy execution failed")
				if m.metrics != nil {
					m.metrics.ExecutionFailures.WithLabelValues(string(ierrors.KindOf(err))).Inc()
				}
			}
			return nil
		})
	}
	err := g.Wait()
	if m.metrics != nil {
		m.metrics.StrategyTickSeconds.Observe(time.Since(start).Seconds())
		m.metrics.StrategiesMinted.Set(float64(len(keys)))
		m.metrics.HaltState.Set(metrics.HaltStateOrdinal(string(m.store.Global().HaltState)))
		for _, p := range m.pool.RankedEndpoints() {
			m.metrics.ProviderScore.WithLabelValues(p.Endpoint).Set(float64(p.Score))
		}
	}
	return err
}

// SwapCkETH trades attached compute credits for ckETH at a discount.
func (m *Manager) SwapCkETH(ctx context.Context, recipient string, attachedCredits *big.Int) (types.SwapResponse, error) {
	if m.store.Global().HaltState == store.HaltStateHalted {
		return types.SwapResponse{}, ierrors.Halted()
	}
	resp, err := m.rechargeEngine.SwapCkETH(ctx, recipient, attachedCredits)
	if err == nil && m.metrics != nil && resp.AcceptedCycles != nil {
		m.metrics.SwapVolumeCycles.Add(float64(resp.AcceptedCycles.Int64()))
	}
	return resp, err
}

// GetStrategies returns the read-only projection of every minted strategy.
func (m *Manager) GetStrategies(ctx context.Context) ([]types.StrategyQueryData, error) {
	return m.store.QueryData(), nil
}

// GetStrategyAddress returns a strategy's EOA address, if assigned.
func (m *Manager) GetStrategyAddress(ctx context.Context, key uint32) (string, bool) {
	strat, err := m.store.Get(key)
	if err != nil || (strat.Data.EOA == common.Address{}) {
		return "", false
	}
	return strat.Data.EOA.Hex(), true
}

// GetLogs returns the most recent depth journal entries across the fleet.
func (m *Manager) GetLogs(ctx context.Context, depth uint64) ([]journal.Entry, error) {
	return m.journal.GetLogs(ctx, depth)
}

// GetRechargeLogs returns the most recent depth recharge-kind entries.
func (m *Manager) GetRechargeLogs(ctx context.Context, depth uint64) ([]journal.Entry, error) {
	return m.journal.GetRechargeLogs(ctx, depth)
}

// GetStrategyLogs returns the most recent depth entries for one strategy.
func (m *Manager) GetStrategyLogs(ctx context.Context, depth uint64, key uint32) ([]journal.Entry, error) {
	return m.journal.GetStrategyLogs(ctx, depth, key)
}

// HaltStatus returns the fleet's current halt state.
func (m *Manager) HaltStatus(ctx context.Context) store.HaltState {
	return m.store.Global().HaltState
}

// GetRankedProvidersList returns the RPC pool's providers ordered by
// reputation score.
func (m *Manager) GetRankedProvidersList(ctx context.Context) ([]types.ProviderReputation, error) {
	ranked := m.pool.RankedEndpoints()
	out := make([]types.ProviderReputation, 0, len(ranked))
	for _, p := range ranked {
		out = append(out, types.ProviderReputation{Score: p.Score, Endpoint: p.Endpoint})
	}
	return out, nil
}

// GetRuntimeStatus reports process health: the local analogue of
// get_canister_status.
func (m *Manager) GetRuntimeStatus(ctx context.Context) (types.RuntimeStatus, error) {
	global := m.store.Global()
	return types.RuntimeStatus{
		StartedAt:     m.startedAt,
		Uptime:        time.Since(m.startedAt),
		StrategyCount: len(m.store.Keys()),
		HaltState:     string(global.HaltState),
		LastCleanupAt: global.LastCleanupAt,
		ProviderCount: len(m.pool.RankedEndpoints()),
	}, nil
}
