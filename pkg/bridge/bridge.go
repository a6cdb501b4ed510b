// Package bridge builds transfer payloads for the cross-chain relay
// router. The router locks tokens on the source chain and the relay
// mints them to the recipient on the destination; its consensus and
// finality are outside this client.
package bridge

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"yieldroute/pkg/orchestrator"
	"yieldroute/pkg/types"
)

// sendToken targets an EVM recipient; sendTokenToAccount targets a
// 32-byte account on a non-EVM destination. Both are payable, the
// attached value pays the relay fee.
const routerABI = `[
	{"constant":false,"inputs":[{"name":"dstChainId","type":"uint64"},{"name":"token","type":"address"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"name":"sendToken","outputs":[],"payable":true,"type":"function"},
	{"constant":false,"inputs":[{"name":"dstChainId","type":"uint64"},{"name":"token","type":"address"},{"name":"recipient","type":"bytes32"},{"name":"amount","type":"uint256"}],"name":"sendTokenToAccount","outputs":[],"payable":true,"type":"function"}
]`

// Config sets the relay fee schedule and chain numbering.
type Config struct {
	// BaseFees is the flat relay fee per source chain, in the source
	// chain's native unit.
	BaseFees map[types.Chain]*big.Int
	// FeeMarginBps pads quotes so a fee drift between quote and submit
	// does not underpay the relay.
	FeeMarginBps int64
	// ChainIDs numbers destination chains the way the router does.
	ChainIDs map[types.Chain]uint64
}

// RouterBridge implements the orchestrator's BridgeAdapter against the
// relay router contracts.
type RouterBridge struct {
	cfg      Config
	registry orchestrator.Registry
	router   abi.ABI
	log      zerolog.Logger
}

// New builds a router bridge client. Router contract addresses come
// from the registry so the approval spender and the call target always
// agree.
func New(cfg Config, registry orchestrator.Registry, log zerolog.Logger) (*RouterBridge, error) {
	parsed, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse router ABI: %w", err)
	}
	return &RouterBridge{
		cfg:      cfg,
		registry: registry,
		router:   parsed,
		log:      log.With().Str("component", "bridge").Logger(),
	}, nil
}

// QuoteFee returns the native-unit relay fee for the route, padded by
// the configured margin.
func (b *RouterBridge) QuoteFee(ctx context.Context, fromChain, toChain types.Chain, token string, amount types.Amount) (*big.Int, error) {
	if fromChain == types.ChainSolana {
		return nil, fmt.Errorf("bridging from solana is not supported")
	}
	if _, ok := b.cfg.ChainIDs[toChain]; !ok {
		return nil, fmt.Errorf("no relay route to chain %s", toChain)
	}

	base, ok := b.cfg.BaseFees[fromChain]
	if !ok {
		return nil, fmt.Errorf("no relay fee configured for chain %s", fromChain)
	}

	fee := new(big.Int).Mul(base, big.NewInt(10_000+b.cfg.FeeMarginBps))
	fee.Div(fee, big.NewInt(10_000))
	return fee, nil
}

// BuildTransfer encodes the router call moving token to recipient on
// toChain. The returned value is the relay fee to attach natively.
func (b *RouterBridge) BuildTransfer(fromChain, toChain types.Chain, token, recipient string, amount types.Amount, fee *big.Int) (string, []byte, types.Amount, string, error) {
	if fromChain == types.ChainSolana {
		return "", nil, types.Amount{}, "", fmt.Errorf("bridging from solana is not supported")
	}

	dstChainID, ok := b.cfg.ChainIDs[toChain]
	if !ok {
		return "", nil, types.Amount{}, "", fmt.Errorf("no relay route to chain %s", toChain)
	}
	if !common.IsHexAddress(token) {
		return "", nil, types.Amount{}, "", fmt.Errorf("invalid token address: %s", token)
	}

	router, err := b.registry.RouterAddress(fromChain)
	if err != nil {
		return "", nil, types.Amount{}, "", err
	}

	var data []byte
	if toChain == types.ChainSolana {
		account, err := solana.PublicKeyFromBase58(recipient)
		if err != nil {
			return "", nil, types.Amount{}, "", fmt.Errorf("invalid solana recipient: %w", err)
		}
		data, err = b.router.Pack("sendTokenToAccount", dstChainID, common.HexToAddress(token), [32]byte(account), amount.Int)
		if err != nil {
			return "", nil, types.Amount{}, "", fmt.Errorf("failed to pack transfer data: %w", err)
		}
	} else {
		if !common.IsHexAddress(recipient) {
			return "", nil, types.Amount{}, "", fmt.Errorf("invalid recipient address: %s", recipient)
		}
		data, err = b.router.Pack("sendToken", dstChainID, common.HexToAddress(token), common.HexToAddress(recipient), amount.Int)
		if err != nil {
			return "", nil, types.Amount{}, "", fmt.Errorf("failed to pack transfer data: %w", err)
		}
	}

	relayID := uuid.NewString()
	b.log.Debug().
		Str("from_chain", string(fromChain)).
		Str("to_chain", string(toChain)).
		Str("relay_message_id", relayID).
		Msg("Bridge transfer payload built")

	return router, data, types.NewAmount(fee), relayID, nil
}
