// Package custody signs and submits transactions from locally held
// keys. It implements the orchestrator's CustodyProvider for one
// logical wallet spanning every configured chain.
package custody

import (
	"context"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"yieldroute/pkg/orchestrator"
	"yieldroute/pkg/types"
)

// EVMKey configures a signing key on one EVM chain.
type EVMKey struct {
	Chain      types.Chain
	RPCURL     string
	ChainID    int64
	PrivateKey string
	GasLimit   *uint64
	GasPrice   *int64
}

// SolanaKey configures the Solana signing key.
type SolanaKey struct {
	RPCURL        string
	PrivateKey    string
	Commitment    string
	SkipPreflight bool
}

type chainSigner interface {
	Address() string
	SignAndSubmit(ctx context.Context, to string, data []byte, value *big.Int) (string, error)
	Approve(ctx context.Context, token, spender string, amount *big.Int) (string, bool, error)
	Close()
}

// LocalSigner holds one key per chain for a single logical wallet.
type LocalSigner struct {
	walletID string
	signers  map[types.Chain]chainSigner
	log      zerolog.Logger
}

// NewLocalSigner connects a signer for every configured key. Approve
// uses the gateway for allowance reads so an already sufficient
// allowance costs no transaction.
func NewLocalSigner(walletID string, evmKeys []EVMKey, solKey *SolanaKey, gw orchestrator.ChainGateway, log zerolog.Logger) (*LocalSigner, error) {
	if walletID == "" {
		return nil, fmt.Errorf("wallet id is required")
	}

	s := &LocalSigner{
		walletID: walletID,
		signers:  make(map[types.Chain]chainSigner),
		log:      log.With().Str("component", "custody").Str("wallet_id", walletID).Logger(),
	}

	for _, key := range evmKeys {
		signer, err := newEVMSigner(key, gw)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to set up %s signer: %w", key.Chain, err)
		}
		s.signers[key.Chain] = signer
	}
	if solKey != nil {
		signer, err := newSolanaSigner(*solKey)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to set up solana signer: %w", err)
		}
		s.signers[types.ChainSolana] = signer
	}

	if len(s.signers) == 0 {
		return nil, fmt.Errorf("no signing keys configured")
	}
	return s, nil
}

// WalletContext returns the wallet identity with its per-chain
// addresses, derived from the configured keys.
func (s *LocalSigner) WalletContext() *types.WalletContext {
	addrs := make(map[types.Chain]string, len(s.signers))
	for chain, signer := range s.signers {
		addrs[chain] = signer.Address()
	}
	return &types.WalletContext{
		WalletID:  s.walletID,
		Addresses: addrs,
	}
}

func (s *LocalSigner) signer(walletID string, chain types.Chain) (chainSigner, error) {
	if walletID != s.walletID {
		return nil, fmt.Errorf("unknown wallet %s", walletID)
	}
	signer, ok := s.signers[chain]
	if !ok {
		return nil, fmt.Errorf("no signing key for chain %s", chain)
	}
	return signer, nil
}

// SignAndSubmit signs a transaction to the given contract and
// broadcasts it, returning the transaction hash.
func (s *LocalSigner) SignAndSubmit(ctx context.Context, walletID string, chain types.Chain, to string, data []byte, value types.Amount) (string, error) {
	signer, err := s.signer(walletID, chain)
	if err != nil {
		return "", err
	}

	v := big.NewInt(0)
	if value.Int != nil {
		v = value.Int
	}

	txHash, err := signer.SignAndSubmit(ctx, to, data, v)
	if err != nil {
		return "", err
	}

	s.log.Info().
		Str("chain", string(chain)).
		Str("to", to).
		Str("tx_hash", txHash).
		Msg("Transaction submitted")
	return txHash, nil
}

// Approve grants spender an allowance over token, skipping the
// transaction when the existing allowance already covers the amount.
func (s *LocalSigner) Approve(ctx context.Context, walletID string, chain types.Chain, token, spender string, amount types.Amount) (string, bool, error) {
	signer, err := s.signer(walletID, chain)
	if err != nil {
		return "", false, err
	}

	txHash, noop, err := signer.Approve(ctx, token, spender, amount.Int)
	if err != nil {
		return "", false, err
	}
	if noop {
		s.log.Debug().
			Str("chain", string(chain)).
			Str("token", token).
			Msg("Existing allowance sufficient, approval skipped")
		return "", true, nil
	}

	s.log.Info().
		Str("chain", string(chain)).
		Str("token", token).
		Str("spender", spender).
		Str("tx_hash", txHash).
		Msg("Approval submitted")
	return txHash, false, nil
}

// Close releases every signer's connection.
func (s *LocalSigner) Close() {
	for _, signer := range s.signers {
		signer.Close()
	}
}
