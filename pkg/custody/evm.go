package custody

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"yieldroute/pkg/orchestrator"
)

const erc20ApproveABI = `[{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

type evmSigner struct {
	key        EVMKey
	client     *ethclient.Client
	gateway    orchestrator.ChainGateway
	privateKey *ecdsa.PrivateKey
	address    common.Address
	approveABI abi.ABI
}

func newEVMSigner(key EVMKey, gw orchestrator.ChainGateway) (*evmSigner, error) {
	if key.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL not configured for %s", key.Chain)
	}
	if key.PrivateKey == "" {
		return nil, fmt.Errorf("private key not configured for %s", key.Chain)
	}

	client, err := ethclient.Dial(key.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(key.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to get public key")
	}

	approveABI, err := abi.JSON(strings.NewReader(erc20ApproveABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse approve ABI: %w", err)
	}

	return &evmSigner{
		key:        key,
		client:     client,
		gateway:    gw,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*publicKey),
		approveABI: approveABI,
	}, nil
}

func (e *evmSigner) Address() string {
	return e.address.Hex()
}

func (e *evmSigner) SignAndSubmit(ctx context.Context, to string, data []byte, value *big.Int) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid contract address: %s", to)
	}
	toAddress := common.HexToAddress(to)

	nonce, err := e.client.PendingNonceAt(ctx, e.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := e.gasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	gasLimit, err := e.gasLimit(ctx, toAddress, data, value)
	if err != nil {
		return "", fmt.Errorf("failed to determine gas limit: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, toAddress, value, gasLimit, gasPrice, data)

	chainID := big.NewInt(e.key.ChainID)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(chainID), e.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// Approve checks the current allowance first and only submits when it
// falls short of the requested amount.
func (e *evmSigner) Approve(ctx context.Context, token, spender string, amount *big.Int) (string, bool, error) {
	allowance, err := e.gateway.GetAllowance(ctx, e.key.Chain, e.Address(), spender, token)
	if err != nil {
		return "", false, fmt.Errorf("failed to read allowance: %w", err)
	}
	if allowance.Cmp(amount) >= 0 {
		return "", true, nil
	}

	data, err := e.approveABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", false, fmt.Errorf("failed to pack approve data: %w", err)
	}

	txHash, err := e.SignAndSubmit(ctx, token, data, big.NewInt(0))
	if err != nil {
		return "", false, err
	}
	return txHash, false, nil
}

func (e *evmSigner) gasPrice(ctx context.Context) (*big.Int, error) {
	if e.key.GasPrice != nil {
		return big.NewInt(*e.key.GasPrice), nil
	}
	return e.client.SuggestGasPrice(ctx)
}

func (e *evmSigner) gasLimit(ctx context.Context, to common.Address, data []byte, value *big.Int) (uint64, error) {
	if e.key.GasLimit != nil {
		return *e.key.GasLimit, nil
	}

	msg := ethereum.CallMsg{
		From:  e.address,
		To:    &to,
		Data:  data,
		Value: value,
	}
	estimated, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, err
	}
	return estimated * 120 / 100, nil
}

func (e *evmSigner) Close() {
	if e.client != nil {
		e.client.Close()
	}
}
