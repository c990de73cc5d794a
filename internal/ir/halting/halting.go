// Package halting implements the agent's halting supervisor: a weekly tick
// that watches per-strategy execution health and fleet-wide rate-adjustment
// frequency, and progressively shuts down mutating operations when either
// degrades. Grounded on original_source/ir_manager/src/halt.rs's
// Functional/HaltingInProgress/Halted state machine and two-condition
// check, generalized from its all-strategies binary check to the richer
// per-strategy success-ratio design.
package halting

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/liquity/ir-manager/internal/ir/constants"
	"github.com/liquity/ir-manager/internal/ir/journal"
	"github.com/liquity/ir-manager/internal/ir/store"
)

// Supervisor evaluates and transitions the fleet's halt state.
type Supervisor struct {
	store     *store.Store
	journal   journal.Manager
	log       zerolog.Logger
	startedAt time.Time
}

// New builds a halting supervisor. startedAt anchors the fleet-wide quiet
// window before any rate adjustment has ever been committed.
func New(st *store.Store, j journal.Manager, log zerolog.Logger, startedAt time.Time) *Supervisor {
	return &Supervisor{store: st, journal: j, log: log.With().Str("component", "halting-supervisor").Logger(), startedAt: startedAt}
}

// Tick runs one evaluation of the halt state machine. It breaches if any
// strategy's rolling 7-day success ratio is below the minimum, or if the
// fleet has committed zero rate adjustments within the quiet window.
func (s *Supervisor) Tick(ctx context.Context) error {
	now := time.Now()
	global := s.store.Global()

	breached, reason := s.evaluate(now)

	switch global.HaltState {
	case store.HaltStateFunctional:
		if breached {
			s.store.MutateGlobal(func(g *store.Global) {
				g.HaltState = store.HaltStateHaltingInProgress
				g.HaltingSince = now
			})
			s.note(ctx, "halting in progress: "+reason)
			s.log.Warn().Str("reason", reason).Msg("entering halting-in-progress")
		}
	case store.HaltStateHaltingInProgress:
		if !breached {
			s.store.MutateGlobal(func(g *store.Global) {
				g.HaltState = store.HaltStateFunctional
				g.HaltingSince = time.Time{}
			})
			s.note(ctx, "recovered: metrics within bounds before halting deadline")
			return nil
		}
		if now.Sub(global.HaltingSince) >= constants.HaltingWarningWindow {
			s.store.MutateGlobal(func(g *store.Global) {
				g.HaltState = store.HaltStateHalted
			})
			s.note(ctx, "halted: "+reason)
			s.log.Error().Str("reason", reason).Msg("transitioned to halted")
		}
	case store.HaltStateHalted:
		// Terminal: no transition leaves Halted; the state is persisted by
		// Checkpoint and restored by Load.
	}
	return nil
}

// evaluate reports whether either halting condition currently holds.
func (s *Supervisor) evaluate(now time.Time) (bool, string) {
	for _, key := range s.store.Keys() {
		ratio, ok := s.store.SuccessRatio(key)
		if ok && ratio < constants.HaltingMinSuccessRatio {
			return true, "strategy success ratio below threshold"
		}
	}

	global := s.store.Global()
	since := global.LastRateAdjustment
	if since.IsZero() {
		since = s.startedAt
	}
	if now.Sub(since) >= constants.HaltingMaxQuietWindow {
		return true, "no fleet-wide rate adjustment within the quiet window"
	}
	return false, ""
}

func (s *Supervisor) note(ctx context.Context, msg string) {
	coll := s.journal.OpenCollection(nil)
	_ = s.journal.WriteEntry(ctx, coll, nil, journal.KindInfo, msg, journal.OutcomeOk, "")
}
