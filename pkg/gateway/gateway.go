// Package gateway provides read access to the supported chains and
// receipt waiting, behind a single manager keyed by chain.
package gateway

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/rs/zerolog"

	"yieldroute/pkg/orchestrator"
	"yieldroute/pkg/types"
)

// chainClient is the per-chain backend behind the manager.
type chainClient interface {
	GetBalance(ctx context.Context, address, token string) (*big.Int, error)
	GetAllowance(ctx context.Context, owner, spender, token string) (*big.Int, error)
	WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*orchestrator.Receipt, error)
	BuildDepositCall(vault, token string, amount types.Amount, receiver string) ([]byte, error)
	Close()
}

// Manager routes gateway calls to the right chain backend.
type Manager struct {
	clients map[types.Chain]chainClient
	log     zerolog.Logger
}

// EVMEndpoint configures one EVM chain backend.
type EVMEndpoint struct {
	Chain   types.Chain
	RPCURL  string
	ChainID int64
}

// SolanaEndpoint configures the Solana backend.
type SolanaEndpoint struct {
	RPCURL     string
	Commitment string
}

// NewManager connects a backend for every configured endpoint.
func NewManager(evm []EVMEndpoint, sol *SolanaEndpoint, log zerolog.Logger) (*Manager, error) {
	m := &Manager{
		clients: make(map[types.Chain]chainClient),
		log:     log.With().Str("component", "gateway").Logger(),
	}

	for _, ep := range evm {
		client, err := newEVMClient(ep)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to connect %s gateway: %w", ep.Chain, err)
		}
		m.clients[ep.Chain] = client
		m.log.Debug().Str("chain", string(ep.Chain)).Msg("EVM gateway connected")
	}
	if sol != nil {
		client, err := newSolanaClient(*sol)
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("failed to connect solana gateway: %w", err)
		}
		m.clients[types.ChainSolana] = client
		m.log.Debug().Msg("Solana gateway connected")
	}

	if len(m.clients) == 0 {
		return nil, fmt.Errorf("no chain endpoints configured")
	}
	return m, nil
}

func (m *Manager) client(chain types.Chain) (chainClient, error) {
	c, ok := m.clients[chain]
	if !ok {
		return nil, fmt.Errorf("no gateway configured for chain %s", chain)
	}
	return c, nil
}

// GetBalance returns the token balance of address, or the native
// balance when token is empty.
func (m *Manager) GetBalance(ctx context.Context, chain types.Chain, address, token string) (*big.Int, error) {
	c, err := m.client(chain)
	if err != nil {
		return nil, err
	}
	return c.GetBalance(ctx, address, token)
}

// GetAllowance returns the spender's allowance over owner's tokens.
func (m *Manager) GetAllowance(ctx context.Context, chain types.Chain, owner, spender, token string) (*big.Int, error) {
	c, err := m.client(chain)
	if err != nil {
		return nil, err
	}
	return c.GetAllowance(ctx, owner, spender, token)
}

// WaitForReceipt blocks until the transaction lands or timeout expires.
func (m *Manager) WaitForReceipt(ctx context.Context, chain types.Chain, txHash string, timeout time.Duration) (*orchestrator.Receipt, error) {
	c, err := m.client(chain)
	if err != nil {
		return nil, err
	}
	return c.WaitForReceipt(ctx, txHash, timeout)
}

// BuildDepositCall encodes the protocol deposit call for the chain.
func (m *Manager) BuildDepositCall(chain types.Chain, vault, token string, amount types.Amount, receiver string) ([]byte, error) {
	c, err := m.client(chain)
	if err != nil {
		return nil, err
	}
	return c.BuildDepositCall(vault, token, amount, receiver)
}

// Close releases every backend connection.
func (m *Manager) Close() {
	for _, c := range m.clients {
		c.Close()
	}
}
