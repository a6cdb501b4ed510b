package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"yieldroute/pkg/orchestrator"
	"yieldroute/pkg/types"
)

const signaturePollInterval = 2 * time.Second

type solanaClient struct {
	client     *rpc.Client
	commitment rpc.CommitmentType
}

func newSolanaClient(ep SolanaEndpoint) (*solanaClient, error) {
	if ep.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured for Solana")
	}
	return &solanaClient{
		client:     rpc.New(ep.RPCURL),
		commitment: parseCommitment(ep.Commitment),
	}, nil
}

func parseCommitment(s string) rpc.CommitmentType {
	switch strings.ToLower(s) {
	case "finalized":
		return rpc.CommitmentFinalized
	case "confirmed":
		return rpc.CommitmentConfirmed
	case "processed":
		return rpc.CommitmentProcessed
	default:
		return rpc.CommitmentConfirmed
	}
}

// GetBalance returns lamports for an empty token, or the wallet's
// associated token account balance for an SPL mint. A missing token
// account reads as zero, not an error.
func (s *solanaClient) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	if token == "" {
		balance, err := s.client.GetBalance(ctx, owner, s.commitment)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return new(big.Int).SetUint64(balance.Value), nil
	}

	mint, err := solana.PublicKeyFromBase58(token)
	if err != nil {
		return nil, fmt.Errorf("invalid token mint address: %w", err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive associated token address: %w", err)
	}

	accountInfo, err := s.client.GetTokenAccountBalance(ctx, ata, s.commitment)
	if err != nil {
		if strings.Contains(err.Error(), "could not find account") || strings.Contains(err.Error(), "not found") {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("failed to get token balance: %w", err)
	}

	amount, ok := new(big.Int).SetString(accountInfo.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("failed to parse token balance %q", accountInfo.Value.Amount)
	}
	return amount, nil
}

// GetAllowance is not meaningful for Solana token accounts here; SPL
// deposits move tokens directly without a spender approval step.
func (s *solanaClient) GetAllowance(ctx context.Context, owner, spender, token string) (*big.Int, error) {
	return nil, fmt.Errorf("allowance queries are not supported on solana")
}

// WaitForReceipt polls signature status until the commitment level is
// reached, then pulls the transaction fee from its metadata.
func (s *solanaClient) WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*orchestrator.Receipt, error) {
	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction signature: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		statuses, err := s.client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			st := statuses.Value[0]
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				receipt := &orchestrator.Receipt{
					Status:      1,
					BlockNumber: st.Slot,
				}
				if st.Err != nil {
					receipt.Status = 0
				}
				if fee, err := s.transactionFee(ctx, sig); err == nil {
					receipt.GasUsed = fee
				}
				return receipt, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transaction %s not confirmed within %s", txHash, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(signaturePollInterval):
		}
	}
}

func (s *solanaClient) transactionFee(ctx context.Context, sig solana.Signature) (uint64, error) {
	txInfo, err := s.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding: solana.EncodingBase64,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get transaction: %w", err)
	}
	if txInfo.Meta == nil {
		return 0, fmt.Errorf("transaction metadata unavailable")
	}
	return txInfo.Meta.Fee, nil
}

// BuildDepositCall encodes an anchor deposit instruction: the 8-byte
// method discriminator followed by the amount as little-endian u64.
func (s *solanaClient) BuildDepositCall(vault, token string, amount types.Amount, receiver string) ([]byte, error) {
	if _, err := solana.PublicKeyFromBase58(vault); err != nil {
		return nil, fmt.Errorf("invalid vault address: %w", err)
	}
	if !amount.Int.IsUint64() {
		return nil, fmt.Errorf("amount %s exceeds u64 range", amount)
	}

	discriminator := sha256.Sum256([]byte("global:deposit"))
	data := make([]byte, 16)
	copy(data[:8], discriminator[:8])
	binary.LittleEndian.PutUint64(data[8:], amount.Int.Uint64())
	return data, nil
}

func (s *solanaClient) Close() {
	// The Solana RPC client doesn't require explicit cleanup
}
