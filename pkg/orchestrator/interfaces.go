// Package orchestrator executes an allocation plan leg by leg, deciding
// per leg whether to deposit directly or bridge funds first, and tracks
// outcome and ledger state under partial failure. There is no cross
// chain atomicity: execution is best-effort per leg, never
// all-or-nothing.
package orchestrator

import (
	"context"
	"math/big"
	"time"

	"yieldroute/pkg/types"
)

// Receipt is the result of waiting for a transaction on chain.
type Receipt struct {
	Status      uint64 // 1 = success
	BlockNumber uint64
	GasUsed     uint64
}

// CustodyProvider signs and submits transactions on behalf of a logical
// wallet. Key management is external to this core.
type CustodyProvider interface {
	// SignAndSubmit signs a transaction to the given contract and
	// broadcasts it, returning the transaction hash.
	SignAndSubmit(ctx context.Context, walletID string, chain types.Chain, to string, data []byte, value types.Amount) (string, error)
	// Approve grants spender an allowance over token. Returns noop=true
	// (and no hash) when the existing allowance already suffices.
	Approve(ctx context.Context, walletID string, chain types.Chain, token, spender string, amount types.Amount) (txHash string, noop bool, err error)
}

// ChainGateway reads chain state and waits for receipts. Token "" reads
// the chain's native balance.
type ChainGateway interface {
	GetBalance(ctx context.Context, chain types.Chain, address, token string) (*big.Int, error)
	GetAllowance(ctx context.Context, chain types.Chain, owner, spender, token string) (*big.Int, error)
	WaitForReceipt(ctx context.Context, chain types.Chain, txHash string, timeout time.Duration) (*Receipt, error)
	// BuildDepositCall encodes the protocol deposit call for the chain.
	// Shares mint to receiver.
	BuildDepositCall(chain types.Chain, vault, token string, amount types.Amount, receiver string) ([]byte, error)
}

// BridgeAdapter quotes fees and builds transfer payloads for the
// cross-chain relay. The relay's consensus and finality are opaque.
type BridgeAdapter interface {
	QuoteFee(ctx context.Context, fromChain, toChain types.Chain, token string, amount types.Amount) (*big.Int, error)
	// BuildTransfer encodes a transfer of token to recipient on toChain,
	// returning the contract address to call, the calldata, the native
	// value to attach (the relay fee) and the relay message id.
	BuildTransfer(fromChain, toChain types.Chain, token, recipient string, amount types.Amount, fee *big.Int) (to string, data []byte, value types.Amount, relayMessageID string, err error)
}

// VaultInfo is the deposit target for a (chain, protocol, token) triple:
// the vault contract receiving deposits and the share token it mints.
type VaultInfo struct {
	Address    string
	ShareToken string
}

// Registry resolves chain and token address mappings and emergency
// stops. A mapping miss is a configuration error, never retried.
type Registry interface {
	TokenAddress(chain types.Chain, token string) (string, error)
	Vault(chain types.Chain, protocol, token string) (VaultInfo, error)
	RouterAddress(chain types.Chain) (string, error)
	EmergencyStopped(chain types.Chain) bool
}
