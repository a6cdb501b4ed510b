package gateway

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"yieldroute/pkg/orchestrator"
	"yieldroute/pkg/types"
)

const erc20ReadABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

// ERC-4626 deposit: shares mint to receiver.
const vaultDepositABI = `[
	{"constant":false,"inputs":[{"name":"assets","type":"uint256"},{"name":"receiver","type":"address"}],"name":"deposit","outputs":[{"name":"shares","type":"uint256"}],"type":"function"}
]`

const receiptPollInterval = 2 * time.Second

type evmClient struct {
	chain    types.Chain
	chainID  int64
	client   *ethclient.Client
	erc20    abi.ABI
	vaultABI abi.ABI
}

func newEVMClient(ep EVMEndpoint) (*evmClient, error) {
	if ep.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured for %s", ep.Chain)
	}

	client, err := ethclient.Dial(ep.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	erc20, err := abi.JSON(strings.NewReader(erc20ReadABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC20 ABI: %w", err)
	}
	vaultABI, err := abi.JSON(strings.NewReader(vaultDepositABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse vault ABI: %w", err)
	}

	return &evmClient{
		chain:    ep.Chain,
		chainID:  ep.ChainID,
		client:   client,
		erc20:    erc20,
		vaultABI: vaultABI,
	}, nil
}

func (e *evmClient) GetBalance(ctx context.Context, address, token string) (*big.Int, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid address: %s", address)
	}
	account := common.HexToAddress(address)

	if token == "" {
		balance, err := e.client.BalanceAt(ctx, account, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return balance, nil
	}

	if !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid token contract address: %s", token)
	}
	data, err := e.erc20.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to pack balanceOf data: %w", err)
	}
	return e.callUint(ctx, common.HexToAddress(token), data)
}

func (e *evmClient) GetAllowance(ctx context.Context, owner, spender, token string) (*big.Int, error) {
	if !common.IsHexAddress(owner) || !common.IsHexAddress(spender) || !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid allowance query addresses")
	}
	data, err := e.erc20.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("failed to pack allowance data: %w", err)
	}
	return e.callUint(ctx, common.HexToAddress(token), data)
}

func (e *evmClient) callUint(ctx context.Context, to common.Address, data []byte) (*big.Int, error) {
	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}
	result, err := e.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("contract call failed: %w", err)
	}
	return new(big.Int).SetBytes(result), nil
}

// WaitForReceipt polls until the transaction is mined. ethereum.NotFound
// while pending is expected; any other error aborts the wait.
func (e *evmClient) WaitForReceipt(ctx context.Context, txHash string, timeout time.Duration) (*orchestrator.Receipt, error) {
	hash := common.HexToHash(txHash)
	deadline := time.Now().Add(timeout)

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return &orchestrator.Receipt{
				Status:      receipt.Status,
				BlockNumber: receipt.BlockNumber.Uint64(),
				GasUsed:     receipt.GasUsed,
			}, nil
		}
		if err != ethereum.NotFound {
			return nil, fmt.Errorf("failed to get transaction receipt: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transaction %s not mined within %s", txHash, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(receiptPollInterval):
		}
	}
}

func (e *evmClient) BuildDepositCall(vault, token string, amount types.Amount, receiver string) ([]byte, error) {
	if !common.IsHexAddress(vault) {
		return nil, fmt.Errorf("invalid vault address: %s", vault)
	}
	if !common.IsHexAddress(receiver) {
		return nil, fmt.Errorf("invalid receiver address: %s", receiver)
	}
	data, err := e.vaultABI.Pack("deposit", amount.Int, common.HexToAddress(receiver))
	if err != nil {
		return nil, fmt.Errorf("failed to pack deposit data: %w", err)
	}
	return data, nil
}

func (e *evmClient) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
