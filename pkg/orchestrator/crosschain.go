package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"yieldroute/pkg/ledger"
	"yieldroute/pkg/plan"
	"yieldroute/pkg/types"
)

// runCrossChainLeg bridges the leg amount from the plan's source chain
// to the leg's chain and then deposits there. The bridge submission and
// the destination deposit are separate transactions with no atomicity
// between them; once the bridge confirms, a permanent transfer record
// is written so funds can always be located.
func (o *Orchestrator) runCrossChainLeg(ctx context.Context, p *plan.AllocationPlan, leg *plan.AllocationLeg, rec *ledger.Record, wallet *types.WalletContext) (*txResult, []*ledger.BridgeTransfer, *legError) {
	srcChain := p.Request.SourceChain
	dstChain := leg.Chain

	srcAddr, err := wallet.AddressOn(srcChain)
	if err != nil {
		return nil, nil, failLeg(ErrCodeUnsupportedChain, err.Error())
	}
	dstAddr, err := wallet.AddressOn(dstChain)
	if err != nil {
		return nil, nil, failLeg(ErrCodeUnsupportedChain, err.Error())
	}
	dstToken, err := o.registry.TokenAddress(dstChain, p.Request.SourceToken)
	if err != nil {
		return nil, nil, failLeg(ErrCodeUnsupportedToken, err.Error())
	}

	// If the destination wallet already holds enough of the token, a
	// previous run bridged it and died before depositing. Skip the
	// bridge and finish the deposit instead of bridging twice.
	dstBalance, err := retryRead(ctx, func(ctx context.Context) (*big.Int, error) {
		return o.gateway.GetBalance(ctx, dstChain, dstAddr, dstToken)
	})
	if err != nil {
		return nil, nil, failLeg(ErrCodeValidation, fmt.Sprintf("destination balance read failed: %v", err))
	}
	if dstBalance.Cmp(leg.Amount.Int) >= 0 {
		o.log.Info().
			Str("token", p.Request.SourceToken).
			Str("chain", string(dstChain)).
			Str("amount", leg.Amount.String()).
			Msg("Destination already funded, skipping bridge")
		res, lerr := o.depositOnChain(ctx, p, leg, wallet, dstChain)
		if lerr != nil {
			return nil, nil, asDestinationDepositFailure(lerr)
		}
		return res, nil, nil
	}

	transfer, lerr := o.bridgeLeg(ctx, p, leg, rec, wallet, srcChain, srcAddr)
	if lerr != nil {
		return nil, nil, lerr
	}
	transfers := []*ledger.BridgeTransfer{transfer}

	// The bridge is confirmed, so from here on the funds are committed
	// to the destination chain even if this process dies. Any failure
	// past this point is retry-eligible.
	if lerr := o.waitForArrival(ctx, dstChain, dstAddr, dstToken, dstBalance, leg.Amount, transfer.RelayMessageID); lerr != nil {
		return nil, transfers, asDestinationDepositFailure(lerr)
	}

	res, lerr := o.depositOnChain(ctx, p, leg, wallet, dstChain)
	if lerr != nil {
		return nil, transfers, asDestinationDepositFailure(lerr)
	}
	return res, transfers, nil
}

// bridgeLeg quotes, approves, submits, and records the bridge transfer.
// Fee and balance checks happen before any transaction so an unfunded
// wallet fails with zero transactions submitted.
func (o *Orchestrator) bridgeLeg(ctx context.Context, p *plan.AllocationPlan, leg *plan.AllocationLeg, rec *ledger.Record, wallet *types.WalletContext, srcChain types.Chain, srcAddr string) (*ledger.BridgeTransfer, *legError) {
	srcToken, err := o.registry.TokenAddress(srcChain, p.Request.SourceToken)
	if err != nil {
		return nil, failLeg(ErrCodeUnsupportedToken, err.Error())
	}
	router, err := o.registry.RouterAddress(srcChain)
	if err != nil {
		return nil, failLeg(ErrCodeUnsupportedChain, err.Error())
	}
	dstAddr, err := wallet.AddressOn(leg.Chain)
	if err != nil {
		return nil, failLeg(ErrCodeUnsupportedChain, err.Error())
	}

	fee, err := retryRead(ctx, func(ctx context.Context) (*big.Int, error) {
		return o.bridge.QuoteFee(ctx, srcChain, leg.Chain, p.Request.SourceToken, leg.Amount)
	})
	if err != nil {
		return nil, failLeg(ErrCodeValidation, fmt.Sprintf("fee quote failed: %v", err))
	}

	nativeBalance, err := retryRead(ctx, func(ctx context.Context) (*big.Int, error) {
		return o.gateway.GetBalance(ctx, srcChain, srcAddr, "")
	})
	if err != nil {
		return nil, failLeg(ErrCodeValidation, fmt.Sprintf("native balance read failed: %v", err))
	}
	if nativeBalance.Cmp(fee) < 0 {
		return nil, failLeg(ErrCodeInsufficientBridgeFee,
			fmt.Sprintf("bridge fee is %s, wallet holds %s native on %s", fee, nativeBalance, srcChain))
	}

	tokenBalance, err := retryRead(ctx, func(ctx context.Context) (*big.Int, error) {
		return o.gateway.GetBalance(ctx, srcChain, srcAddr, srcToken)
	})
	if err != nil {
		return nil, failLeg(ErrCodeValidation, fmt.Sprintf("balance read failed: %v", err))
	}
	if tokenBalance.Cmp(leg.Amount.Int) < 0 {
		return nil, failLeg(ErrCodeInsufficientBalance,
			fmt.Sprintf("have %s %s on %s, need %s", tokenBalance, p.Request.SourceToken, srcChain, leg.Amount))
	}

	unlock := o.lockChain(wallet.WalletID, srcChain)
	defer unlock()

	approveHash, noop, err := o.custody.Approve(ctx, wallet.WalletID, srcChain, srcToken, router, leg.Amount)
	if err != nil {
		return nil, failLeg(ErrCodeBridgeTransferFailed, fmt.Sprintf("router approval failed: %v", err))
	}
	if !noop {
		receipt, err := o.gateway.WaitForReceipt(ctx, srcChain, approveHash, o.opts.ReceiptTimeout)
		if err != nil {
			lerr := failLeg(ErrCodeTransactionTimeout, fmt.Sprintf("approval receipt wait for %s failed: %v", approveHash, err))
			lerr.txHash = approveHash
			return nil, lerr
		}
		if receipt.Status != 1 {
			lerr := failLeg(ErrCodeBridgeTransferFailed, fmt.Sprintf("approval transaction %s reverted", approveHash))
			lerr.txHash = approveHash
			return nil, lerr
		}
	}

	to, data, value, relayID, err := o.bridge.BuildTransfer(srcChain, leg.Chain, srcToken, dstAddr, leg.Amount, fee)
	if err != nil {
		return nil, failLeg(ErrCodeBridgeTransferFailed, fmt.Sprintf("failed to encode bridge transfer: %v", err))
	}

	txHash, err := o.custody.SignAndSubmit(ctx, wallet.WalletID, srcChain, to, data, value)
	if err != nil {
		return nil, failLeg(ErrCodeBridgeTransferFailed, fmt.Sprintf("bridge submission failed: %v", err))
	}

	receipt, err := o.gateway.WaitForReceipt(ctx, srcChain, txHash, o.opts.ReceiptTimeout)
	if err != nil {
		lerr := failLeg(ErrCodeTransactionTimeout, fmt.Sprintf("bridge receipt wait for %s failed: %v", txHash, err))
		lerr.txHash = txHash
		return nil, lerr
	}
	if receipt.Status != 1 {
		lerr := failLeg(ErrCodeBridgeTransferFailed, fmt.Sprintf("bridge transaction %s reverted", txHash))
		lerr.txHash = txHash
		return nil, lerr
	}

	// Funds have left the source chain. The transfer record is
	// permanent regardless of what happens on the destination.
	transfer, err := o.recorder.RecordBridgeTransfer(rec.ID, srcChain, leg.Chain, p.Request.SourceToken, leg.Amount, relayID, txHash)
	if err != nil {
		o.log.Error().Err(err).
			Str("record_id", rec.ID).
			Str("tx_hash", txHash).
			Str("relay_message_id", relayID).
			Msg("Failed to persist bridge transfer record")
		transfer = &ledger.BridgeTransfer{
			LegRecordID:    rec.ID,
			FromChain:      srcChain,
			ToChain:        leg.Chain,
			Token:          p.Request.SourceToken,
			Amount:         leg.Amount,
			RelayMessageID: relayID,
			TxHash:         txHash,
		}
	}

	o.log.Info().
		Str("from_chain", string(srcChain)).
		Str("to_chain", string(leg.Chain)).
		Str("amount", leg.Amount.String()).
		Str("tx_hash", txHash).
		Str("relay_message_id", relayID).
		Msg("Bridge transfer confirmed on source chain")

	return transfer, nil
}

// waitForArrival polls the destination wallet's token balance until the
// bridged amount shows up on top of the balance observed before the
// bridge, or the settlement window closes.
func (o *Orchestrator) waitForArrival(ctx context.Context, chain types.Chain, addr, token string, startBalance *big.Int, amount types.Amount, relayID string) *legError {
	target := new(big.Int).Add(startBalance, amount.Int)

	select {
	case <-time.After(o.opts.SettlementDelay):
	case <-ctx.Done():
		return failLeg(ErrCodeTransactionTimeout, fmt.Sprintf("settlement wait interrupted: %v", ctx.Err()))
	}

	deadline := time.Now().Add(o.opts.SettlementTimeout)
	for {
		balance, err := retryRead(ctx, func(ctx context.Context) (*big.Int, error) {
			return o.gateway.GetBalance(ctx, chain, addr, token)
		})
		if err == nil && balance.Cmp(target) >= 0 {
			return nil
		}
		if err != nil {
			o.log.Warn().Err(err).Str("chain", string(chain)).Msg("Arrival check failed, will retry")
		}
		if time.Now().After(deadline) {
			return failLeg(ErrCodeTransactionTimeout,
				fmt.Sprintf("bridged funds did not arrive on %s within %s (relay message %s)", chain, o.opts.SettlementTimeout, relayID))
		}
		select {
		case <-time.After(o.opts.PollInterval):
		case <-ctx.Done():
			return failLeg(ErrCodeTransactionTimeout, fmt.Sprintf("arrival polling interrupted: %v", ctx.Err()))
		}
	}
}

// asDestinationDepositFailure reclassifies a deposit failure that
// happened after a bridge moved funds: the money sits on the
// destination chain, so the leg is safe to retry.
func asDestinationDepositFailure(lerr *legError) *legError {
	out := failLeg(ErrCodeDestinationDepositFailed, lerr.msg)
	out.txHash = lerr.txHash
	out.retryEligible = true
	return out
}
