package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"yieldroute/pkg/ledger"
	"yieldroute/pkg/plan"
	"yieldroute/pkg/types"
)

// Options tunes orchestrator timing. The zero value uses defaults.
type Options struct {
	// ReceiptTimeout bounds every receipt wait.
	ReceiptTimeout time.Duration
	// SettlementDelay is the floor wait between a confirmed bridge
	// submission and the first destination arrival check.
	SettlementDelay time.Duration
	// SettlementTimeout bounds destination arrival polling.
	SettlementTimeout time.Duration
	// PollInterval spaces destination arrival checks.
	PollInterval time.Duration
	// MaxConcurrentLegs bounds parallel leg execution. Legs sharing a
	// (wallet, chain) pair serialize regardless.
	MaxConcurrentLegs int
}

func (o *Options) withDefaults() {
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 2 * time.Minute
	}
	if o.SettlementDelay <= 0 {
		o.SettlementDelay = 30 * time.Second
	}
	if o.SettlementTimeout <= 0 {
		o.SettlementTimeout = 10 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxConcurrentLegs <= 0 {
		o.MaxConcurrentLegs = 4
	}
}

// LegResult is the terminal outcome of one leg.
type LegResult struct {
	LegIndex      int                 `json:"leg_index"`
	Token         string              `json:"token"`
	Chain         types.Chain         `json:"chain"`
	Status        ledger.RecordStatus `json:"status"`
	TxHash        string              `json:"tx_hash,omitempty"`
	SharesBefore  types.Amount        `json:"shares_before"`
	SharesAfter   types.Amount        `json:"shares_after"`
	SharesDelta   types.Amount        `json:"shares_delta"`
	GasUsed       uint64              `json:"gas_used"`
	ErrCode       string              `json:"err_code,omitempty"`
	ErrMessage    string              `json:"err_message,omitempty"`
	RetryEligible bool                `json:"retry_eligible"`
}

// DepositOutcome reports every leg's terminal state so callers can
// distinguish "nothing happened" from partial success.
type DepositOutcome struct {
	PlanID            string                   `json:"plan_id"`
	Legs              []LegResult              `json:"legs"`
	Transfers         []*ledger.BridgeTransfer `json:"transfers,omitempty"`
	TotalDepositedUSD decimal.Decimal          `json:"total_deposited_usd"`
}

// Orchestrator executes allocation plans against external collaborators.
type Orchestrator struct {
	custody  CustodyProvider
	gateway  ChainGateway
	bridge   BridgeAdapter
	registry Registry
	recorder *ledger.Recorder
	opts     Options
	log      zerolog.Logger

	mu         sync.Mutex
	chainLocks map[string]*sync.Mutex
}

// New wires an orchestrator from its collaborators.
func New(custody CustodyProvider, gateway ChainGateway, bridge BridgeAdapter, registry Registry, recorder *ledger.Recorder, opts Options, log zerolog.Logger) *Orchestrator {
	opts.withDefaults()
	return &Orchestrator{
		custody:    custody,
		gateway:    gateway,
		bridge:     bridge,
		registry:   registry,
		recorder:   recorder,
		opts:       opts,
		log:        log.With().Str("component", "orchestrator").Logger(),
		chainLocks: make(map[string]*sync.Mutex),
	}
}

// ExecuteDeposit runs every leg of the plan to a terminal state and
// returns the aggregate outcome. Per-leg failures never propagate as an
// error; the returned error covers only pre-flight problems found
// before any leg started.
func (o *Orchestrator) ExecuteDeposit(ctx context.Context, p *plan.AllocationPlan, wallet *types.WalletContext) (*DepositOutcome, error) {
	if p == nil || len(p.Legs) == 0 {
		return nil, fmt.Errorf("plan has no legs to execute")
	}
	if wallet == nil || wallet.WalletID == "" {
		return nil, fmt.Errorf("wallet context is required")
	}

	outcome := &DepositOutcome{
		PlanID: p.ID,
		Legs:   make([]LegResult, len(p.Legs)),
	}
	var outMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.MaxConcurrentLegs)

	for i := range p.Legs {
		idx := i
		g.Go(func() error {
			rec, transfers := o.runLeg(gctx, p, idx, wallet)
			outMu.Lock()
			outcome.Legs[idx] = legResult(idx, rec)
			outcome.Transfers = append(outcome.Transfers, transfers...)
			outMu.Unlock()
			return nil // leg failures live in the outcome
		})
	}
	// Leg goroutines never return errors; Wait only orders completion.
	_ = g.Wait()

	outcome.TotalDepositedUSD = o.totalDepositedUSD(p, outcome)

	confirmed := 0
	for i := range outcome.Legs {
		if outcome.Legs[i].Status == ledger.StatusConfirmed {
			confirmed++
		}
	}
	o.log.Info().
		Str("plan_id", p.ID).
		Int("legs", len(p.Legs)).
		Int("confirmed", confirmed).
		Str("total_usd", outcome.TotalDepositedUSD.String()).
		Msg("Deposit execution finished")

	return outcome, nil
}

// runLeg drives one leg to a terminal ledger state. Every path ends in
// exactly one Confirm or Fail on the leg's record.
func (o *Orchestrator) runLeg(ctx context.Context, p *plan.AllocationPlan, idx int, wallet *types.WalletContext) (*ledger.Record, []*ledger.BridgeTransfer) {
	leg := &p.Legs[idx]

	// PENDING before any network call.
	rec, err := o.recorder.CreatePending(p.ID, idx, wallet.WalletID, leg.Token, leg.Chain, leg.Protocol, leg.Amount)
	if err != nil {
		o.log.Error().Err(err).Int("leg_index", idx).Msg("Failed to create ledger record, leg not executed")
		return nil, nil
	}

	var transfers []*ledger.BridgeTransfer
	var legErr *legError
	var confirmed *txResult

	if lerr := o.validateLeg(p, leg, wallet); lerr != nil {
		legErr = lerr
	} else if leg.Chain == p.Request.SourceChain {
		confirmed, legErr = o.depositOnChain(ctx, p, leg, wallet, leg.Chain)
	} else {
		confirmed, transfers, legErr = o.runCrossChainLeg(ctx, p, leg, rec, wallet)
	}

	if legErr != nil {
		if err := o.recorder.Fail(rec, legErr.txHash, legErr.code, legErr.msg, legErr.retryEligible); err != nil {
			o.log.Error().Err(err).Str("record_id", rec.ID).Msg("Failed to record leg failure")
		}
		return rec, transfers
	}

	if err := o.recorder.Confirm(rec, confirmed.txHash, confirmed.sharesBefore, confirmed.sharesAfter, confirmed.gasUsed); err != nil {
		o.log.Error().Err(err).Str("record_id", rec.ID).Msg("Failed to record leg confirmation")
	}
	return rec, transfers
}

// validateLeg runs the hard pre-flight checks. Failures here are fatal
// and no transaction is attempted.
func (o *Orchestrator) validateLeg(p *plan.AllocationPlan, leg *plan.AllocationLeg, wallet *types.WalletContext) *legError {
	if leg.Amount.IsZero() {
		return failLeg(ErrCodeValidation, "leg amount is zero")
	}
	if _, err := wallet.AddressOn(leg.Chain); err != nil {
		return failLeg(ErrCodeUnsupportedChain, err.Error())
	}
	if o.registry.EmergencyStopped(leg.Chain) {
		return failLeg(ErrCodeValidation, fmt.Sprintf("emergency stop active on chain %s", leg.Chain))
	}
	if _, err := o.registry.TokenAddress(leg.Chain, p.Request.SourceToken); err != nil {
		return failLeg(ErrCodeUnsupportedToken, err.Error())
	}
	if _, err := o.registry.Vault(leg.Chain, leg.Protocol, leg.Token); err != nil {
		return failLeg(ErrCodeUnsupportedToken, err.Error())
	}
	return nil
}

// txResult carries a successful deposit's observed effects.
type txResult struct {
	txHash       string
	gasUsed      uint64
	sharesBefore types.Amount
	sharesAfter  types.Amount
}

// depositOnChain deposits the leg's source-token amount into the
// protocol vault on the given chain and waits for the receipt. Shares
// are observed before submission and after confirmation under the
// chain lock, so the delta reflects what the protocol actually
// credited.
func (o *Orchestrator) depositOnChain(ctx context.Context, p *plan.AllocationPlan, leg *plan.AllocationLeg, wallet *types.WalletContext, chain types.Chain) (*txResult, *legError) {
	addr, err := wallet.AddressOn(chain)
	if err != nil {
		return nil, failLeg(ErrCodeUnsupportedChain, err.Error())
	}
	tokenAddr, err := o.registry.TokenAddress(chain, p.Request.SourceToken)
	if err != nil {
		return nil, failLeg(ErrCodeUnsupportedToken, err.Error())
	}
	vault, err := o.registry.Vault(chain, leg.Protocol, leg.Token)
	if err != nil {
		return nil, failLeg(ErrCodeUnsupportedToken, err.Error())
	}

	balance, err := retryRead(ctx, func(ctx context.Context) (*big.Int, error) {
		return o.gateway.GetBalance(ctx, chain, addr, tokenAddr)
	})
	if err != nil {
		return nil, failLeg(ErrCodeValidation, fmt.Sprintf("balance read failed: %v", err))
	}
	if balance.Cmp(leg.Amount.Int) < 0 {
		return nil, failLeg(ErrCodeInsufficientBalance,
			fmt.Sprintf("have %s %s on %s, need %s", balance, p.Request.SourceToken, chain, leg.Amount))
	}

	data, err := o.gateway.BuildDepositCall(chain, vault.Address, tokenAddr, leg.Amount, addr)
	if err != nil {
		return nil, failLeg(ErrCodeValidation, fmt.Sprintf("failed to encode deposit: %v", err))
	}

	// One in-flight transaction per (wallet, chain): the nonce is a
	// shared resource, so submissions on the same chain serialize.
	unlock := o.lockChain(wallet.WalletID, chain)
	defer unlock()

	sharesBefore, err := retryRead(ctx, func(ctx context.Context) (*big.Int, error) {
		return o.gateway.GetBalance(ctx, chain, addr, vault.ShareToken)
	})
	if err != nil {
		return nil, failLeg(ErrCodeValidation, fmt.Sprintf("shares read failed: %v", err))
	}

	txHash, err := o.custody.SignAndSubmit(ctx, wallet.WalletID, chain, vault.Address, data, types.Amount{})
	if err != nil {
		return nil, failLeg(ErrCodeValidation, fmt.Sprintf("deposit submission failed: %v", err))
	}

	receipt, err := o.gateway.WaitForReceipt(ctx, chain, txHash, o.opts.ReceiptTimeout)
	if err != nil {
		lerr := failLeg(ErrCodeTransactionTimeout, fmt.Sprintf("receipt wait for %s failed: %v", txHash, err))
		lerr.txHash = txHash
		return nil, lerr
	}
	if receipt.Status != 1 {
		lerr := failLeg(ErrCodeValidation, fmt.Sprintf("deposit transaction %s reverted", txHash))
		lerr.txHash = txHash
		return nil, lerr
	}

	sharesAfter, err := retryRead(ctx, func(ctx context.Context) (*big.Int, error) {
		return o.gateway.GetBalance(ctx, chain, addr, vault.ShareToken)
	})
	if err != nil {
		// The deposit confirmed; losing the shares-after read would
		// misstate the delta, so surface it as a failed read, not a
		// confirmed leg with invented numbers.
		lerr := failLeg(ErrCodeValidation, fmt.Sprintf("shares read after confirmation failed: %v", err))
		lerr.txHash = txHash
		return nil, lerr
	}

	return &txResult{
		txHash:       txHash,
		gasUsed:      receipt.GasUsed,
		sharesBefore: types.NewAmount(sharesBefore),
		sharesAfter:  types.NewAmount(sharesAfter),
	}, nil
}

// lockChain serializes submissions for a (wallet, chain) pair.
func (o *Orchestrator) lockChain(walletID string, chain types.Chain) func() {
	key := walletID + "|" + string(chain)
	o.mu.Lock()
	lock, ok := o.chainLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		o.chainLocks[key] = lock
	}
	o.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// totalDepositedUSD values confirmed legs only, at the plan's source
// token price.
func (o *Orchestrator) totalDepositedUSD(p *plan.AllocationPlan, outcome *DepositOutcome) decimal.Decimal {
	total := decimal.Zero
	for i := range outcome.Legs {
		lr := &outcome.Legs[i]
		if lr.Status != ledger.StatusConfirmed {
			continue
		}
		total = total.Add(p.Legs[lr.LegIndex].Amount.USDValue(p.SourceDecimals, p.SourcePriceUSD))
	}
	return total
}

func legResult(idx int, rec *ledger.Record) LegResult {
	if rec == nil {
		return LegResult{
			LegIndex:   idx,
			Status:     ledger.StatusFailed,
			ErrCode:    ErrCodeValidation,
			ErrMessage: "failed to create ledger record",
		}
	}
	return LegResult{
		LegIndex:      idx,
		Token:         rec.Token,
		Chain:         rec.Chain,
		Status:        rec.Status,
		TxHash:        rec.TxHash,
		SharesBefore:  rec.SharesBefore,
		SharesAfter:   rec.SharesAfter,
		SharesDelta:   rec.SharesDelta,
		GasUsed:       rec.GasUsed,
		ErrCode:       rec.ErrCode,
		ErrMessage:    rec.ErrMessage,
		RetryEligible: rec.RetryEligible,
	}
}
