package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/liquity/ir-manager/internal/config"
	"github.com/liquity/ir-manager/internal/ir/journal"
	"github.com/liquity/ir-manager/internal/ir/manager"
	"github.com/liquity/ir-manager/internal/ir/recharge"
	"github.com/liquity/ir-manager/internal/ir/rpcpool"
	"github.com/liquity/ir-manager/internal/ir/signer"
	"github.com/liquity/ir-manager/internal/ir/store"
	"github.com/liquity/ir-manager/internal/metrics"
	apisrv "github.com/liquity/ir-manager/server/api"
	apimw "github.com/liquity/ir-manager/server/api/middleware"
)

// App wires every collaborator the agent needs and owns their lifecycle.
type App struct {
	cfg *config.Config
	log zerolog.Logger

	pool    *rpcpool.Pool
	store   *store.Store
	journal journal.Manager
	metrics *metrics.Registry
	mgr     *manager.Manager

	apiServer     *apisrv.Server
	metricsServer *apisrv.Server

	cancel context.CancelFunc
}

// NewApp builds an App and every component it owns.
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg: cfg,
		log: log.With().Str("component", "app").Logger(),
	}

	if err := app.initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

func (a *App) initialize(ctx context.Context) error {
	a.journal = journal.NewMemoryManager()

	var err error
	a.store, err = store.Load(a.cfg.Store.Path, a.journal)
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}

	a.pool = rpcpool.New(a.cfg.Chain.RPCEndpoints, a.log)

	sig, err := a.initializeSigner()
	if err != nil {
		return err
	}

	if a.cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	mgrCfg, err := a.buildManagerConfig(sig)
	if err != nil {
		return err
	}

	a.mgr = manager.New(mgrCfg, a.log)

	if err := a.initializeAPIServer(); err != nil {
		return err
	}

	a.initializeMetricsServer()

	return nil
}

func (a *App) initializeSigner() (signer.Signer, error) {
	switch a.cfg.Signer.Kind {
	case "local":
		return signer.NewLocal(), nil
	default:
		return nil, fmt.Errorf("signer kind %q is not implemented; only \"local\" is wired in this build", a.cfg.Signer.Kind)
	}
}

func (a *App) buildManagerConfig(sig signer.Signer) (manager.Config, error) {
	var cketh common.Address
	if addr := strings.TrimSpace(a.cfg.Chain.CkETHHelper); addr != "" {
		cketh = common.HexToAddress(addr)
	}

	var registries []common.Address
	if addr := strings.TrimSpace(a.cfg.Chain.CollateralRegistry); addr != "" {
		registries = append(registries, common.HexToAddress(addr))
	}

	var principal [32]byte
	if raw := strings.TrimSpace(a.cfg.Recharge.Principal); raw != "" {
		decoded := common.FromHex(raw)
		copy(principal[:], decoded)
	}

	var ledger recharge.LedgerClient
	var exchangeRate recharge.ExchangeRateClient
	if endpoint := strings.TrimSpace(a.cfg.Recharge.LedgerEndpoint); endpoint != "" {
		ledger = recharge.NewHTTPLedgerClient(endpoint, a.log)
	}
	if endpoint := strings.TrimSpace(a.cfg.Recharge.ExchangeRateEndpoint); endpoint != "" {
		exchangeRate = recharge.NewHTTPExchangeRateClient(endpoint, a.log)
	}

	return manager.Config{
		ChainID:      new(big.Int).SetUint64(a.cfg.Chain.ChainID),
		Pool:         a.pool,
		Signer:       sig,
		Store:        a.store,
		Journal:      a.journal,
		Ledger:       ledger,
		ExchangeRate: exchangeRate,
		CkETHHelper:  cketh,
		Principal:    principal,
		Registries:   registries,
		StartedAt:    time.Now(),
		Metrics:      a.metrics,
	}, nil
}

func (a *App) initializeAPIServer() error {
	if !a.cfg.API.Enabled {
		return nil
	}

	s := apisrv.NewServer(apisrv.Config{
		ListenAddr:        a.cfg.API.ListenAddr,
		ReadHeaderTimeout: a.cfg.API.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.API.ReadTimeout,
		WriteTimeout:      a.cfg.API.WriteTimeout,
		IdleTimeout:       a.cfg.API.IdleTimeout,
		MaxHeaderBytes:    a.cfg.API.MaxHeaderBytes,
	}, a.log)
	s.Use(apimw.Recover(a.log))
	s.Use(apimw.RequestID())
	s.Use(apimw.Logger(a.log))
	if a.cfg.API.EnableCORS {
		s.EnableCORS()
	}

	apisrv.NewIRHandlers(a.mgr).RegisterMux(s.Router)

	a.apiServer = s
	return nil
}

func (a *App) initializeMetricsServer() {
	if !a.cfg.Metrics.Enabled || a.metrics == nil {
		return
	}

	s := apisrv.NewServer(apisrv.Config{
		ListenAddr:        fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}, a.log)
	s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(a.metrics.Gatherer(), promhttp.HandlerOpts{}))

	a.metricsServer = s
}

// Run starts every owned component and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.Start(runCtx); err != nil {
				a.log.Error().Err(err).Msg("API server error")
			}
		}()
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.Start(runCtx); err != nil {
				a.log.Error().Err(err).Msg("Metrics server error")
			}
		}()
	}

	go a.checkpointLoop(runCtx)

	return a.runWithGracefulShutdown(runCtx)
}

// checkpointLoop persists the store on the configured cadence so an
// unclean shutdown loses at most one checkpoint period of state.
func (a *App) checkpointLoop(ctx context.Context) {
	period := a.cfg.Store.CheckpointPeriod
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.store.Checkpoint(); err != nil {
				a.log.Error().Err(err).Msg("Store checkpoint failed")
			}
		}
	}
}

func (a *App) runWithGracefulShutdown(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a.log.Info().Msg("IR manager started successfully")

	select {
	case <-ctx.Done():
		a.log.Info().Msg("Context canceled, initiating shutdown")
	case sig := <-sigCh:
		a.log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	}

	if a.cancel != nil {
		a.cancel()
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.mgr.Stop(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("Manager shutdown error")
	}

	if err := a.store.Checkpoint(); err != nil {
		a.log.Error().Err(err).Msg("Final store checkpoint failed")
	}

	a.pool.Close()

	a.log.Info().Msg("Graceful shutdown complete")
	return nil
}
