package custody

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type solanaSigner struct {
	key        SolanaKey
	client     *rpc.Client
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
}

func newSolanaSigner(key SolanaKey) (*solanaSigner, error) {
	if key.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured for Solana")
	}
	if key.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured for Solana")
	}

	privateKey, err := solana.PrivateKeyFromBase58(key.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return &solanaSigner{
		key:        key,
		client:     rpc.New(key.RPCURL),
		privateKey: privateKey,
		publicKey:  privateKey.PublicKey(),
	}, nil
}

func (s *solanaSigner) Address() string {
	return s.publicKey.String()
}

// SignAndSubmit builds a single-instruction transaction to the given
// program with the wallet as the writable signer account.
func (s *solanaSigner) SignAndSubmit(ctx context.Context, to string, data []byte, value *big.Int) (string, error) {
	program, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("invalid program address: %w", err)
	}
	if value != nil && value.Sign() > 0 {
		return "", fmt.Errorf("attaching native value to program calls is not supported on solana")
	}

	recent, err := s.client.GetRecentBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("failed to get recent blockhash: %w", err)
	}

	instruction := solana.NewInstruction(
		program,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(s.publicKey, true, true),
		},
		data,
	)

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instruction},
		recent.Value.Blockhash,
		solana.TransactionPayer(s.publicKey),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transaction: %w", err)
	}

	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	opts := rpc.TransactionOpts{
		SkipPreflight:       s.key.SkipPreflight,
		PreflightCommitment: s.commitment(),
	}
	sig, err := s.client.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig.String(), nil
}

// Approve is always a no-op on Solana: program deposits move tokens
// directly without a spender approval step.
func (s *solanaSigner) Approve(ctx context.Context, token, spender string, amount *big.Int) (string, bool, error) {
	return "", true, nil
}

func (s *solanaSigner) commitment() rpc.CommitmentType {
	switch strings.ToLower(s.key.Commitment) {
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

func (s *solanaSigner) Close() {
	// The Solana RPC client doesn't require explicit cleanup
}
