package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"yieldroute/pkg/ledger"
	"yieldroute/pkg/plan"
	"yieldroute/pkg/types"
)

// Resume re-executes the plan's retry-eligible failed legs. Each retry
// gets a fresh ledger record; the original failed record stays as
// written. The destination-balance check in the cross-chain path makes
// the retry safe: bridged funds already sitting on the destination are
// deposited without bridging again.
func (o *Orchestrator) Resume(ctx context.Context, p *plan.AllocationPlan, wallet *types.WalletContext) (*DepositOutcome, error) {
	if p == nil || len(p.Legs) == 0 {
		return nil, fmt.Errorf("plan has no legs to resume")
	}
	if wallet == nil || wallet.WalletID == "" {
		return nil, fmt.Errorf("wallet context is required")
	}

	eligible, err := o.recorder.ListRetryEligible()
	if err != nil {
		return nil, fmt.Errorf("failed to list retry-eligible records: %w", err)
	}

	var indices []int
	for _, rec := range eligible {
		if rec.PlanID != p.ID {
			continue
		}
		if rec.LegIndex < 0 || rec.LegIndex >= len(p.Legs) {
			o.log.Warn().
				Str("record_id", rec.ID).
				Int("leg_index", rec.LegIndex).
				Msg("Retry record points outside the plan, skipping")
			continue
		}
		indices = append(indices, rec.LegIndex)
	}
	if len(indices) == 0 {
		o.log.Info().Str("plan_id", p.ID).Msg("No retry-eligible legs for plan")
		return &DepositOutcome{PlanID: p.ID}, nil
	}

	outcome := &DepositOutcome{
		PlanID: p.ID,
		Legs:   make([]LegResult, len(indices)),
	}
	var outMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxConcurrentLegs)

	for pos, idx := range indices {
		pos, idx := pos, idx
		g.Go(func() error {
			rec, transfers := o.runLeg(gctx, p, idx, wallet)
			outMu.Lock()
			outcome.Legs[pos] = legResult(idx, rec)
			outcome.Transfers = append(outcome.Transfers, transfers...)
			outMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	outcome.TotalDepositedUSD = o.totalDepositedUSD(p, outcome)

	o.log.Info().
		Str("plan_id", p.ID).
		Int("retried", len(indices)).
		Msg("Resume finished")
	return outcome, nil
}

// PendingRecords reports records left PENDING by an interrupted run so
// an operator can reconcile them before retrying.
func (o *Orchestrator) PendingRecords() ([]*ledger.Record, error) {
	return o.recorder.ListPending()
}
