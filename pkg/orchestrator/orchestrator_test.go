package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yieldroute/pkg/ledger"
	"yieldroute/pkg/plan"
	"yieldroute/pkg/types"
)

// fakeWorld simulates chain state: balances keyed chain|addr|token
// ("" token = native), receipts by hash, and the effects of submitted
// transactions. Reverted transactions leave balances untouched.
type fakeWorld struct {
	mu          sync.Mutex
	balances    map[string]*big.Int
	receipts    map[string]*Receipt
	nextStatus  map[string]uint64 // by target contract, consumed per tx
	shareTokens map[string]string // vault address -> share token address
	submits     []string
	txSeq       int
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{
		balances:    make(map[string]*big.Int),
		receipts:    make(map[string]*Receipt),
		nextStatus:  make(map[string]uint64),
		shareTokens: make(map[string]string),
	}
}

func balKey(chain types.Chain, addr, token string) string {
	return string(chain) + "|" + addr + "|" + token
}

func (w *fakeWorld) setBalance(chain types.Chain, addr, token string, v int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[balKey(chain, addr, token)] = big.NewInt(v)
}

func (w *fakeWorld) balance(chain types.Chain, addr, token string) *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.balances[balKey(chain, addr, token)]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (w *fakeWorld) adjust(chain types.Chain, addr, token string, delta *big.Int) {
	key := balKey(chain, addr, token)
	b, ok := w.balances[key]
	if !ok {
		b = big.NewInt(0)
		w.balances[key] = b
	}
	b.Add(b, delta)
}

// submitTx assigns a hash and receipt and, for successful transactions,
// applies the encoded effect to balances.
func (w *fakeWorld) submitTx(chain types.Chain, to, data string) string {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.txSeq++
	hash := fmt.Sprintf("0xtx%03d", w.txSeq)
	status := uint64(1)
	if s, ok := w.nextStatus[to]; ok {
		status = s
		delete(w.nextStatus, to)
	}
	w.receipts[hash] = &Receipt{Status: status, BlockNumber: uint64(w.txSeq), GasUsed: 50_000}
	w.submits = append(w.submits, string(chain)+"->"+to)
	if status != 1 {
		return hash
	}

	parts := strings.Split(data, "|")
	switch parts[0] {
	case "deposit": // deposit|vault|token|amount|receiver
		amount, _ := new(big.Int).SetString(parts[3], 10)
		w.adjust(chain, parts[4], parts[2], new(big.Int).Neg(amount))
		w.adjust(chain, parts[4], w.shareTokens[parts[1]], amount)
	case "bridge": // bridge|toChain|srcToken|destToken|recipient|amount
		amount, _ := new(big.Int).SetString(parts[5], 10)
		w.adjust(chain, parts[4], parts[2], new(big.Int).Neg(amount))
		w.adjust(types.Chain(parts[1]), parts[4], parts[3], amount)
	}
	return hash
}

type fakeGateway struct{ world *fakeWorld }

func (g *fakeGateway) GetBalance(ctx context.Context, chain types.Chain, address, token string) (*big.Int, error) {
	return g.world.balance(chain, address, token), nil
}

func (g *fakeGateway) GetAllowance(ctx context.Context, chain types.Chain, owner, spender, token string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (g *fakeGateway) WaitForReceipt(ctx context.Context, chain types.Chain, txHash string, timeout time.Duration) (*Receipt, error) {
	g.world.mu.Lock()
	defer g.world.mu.Unlock()
	if r, ok := g.world.receipts[txHash]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("transaction %s not mined within %s", txHash, timeout)
}

func (g *fakeGateway) BuildDepositCall(chain types.Chain, vault, token string, amount types.Amount, receiver string) ([]byte, error) {
	return []byte(fmt.Sprintf("deposit|%s|%s|%s|%s", vault, token, amount.String(), receiver)), nil
}

type fakeCustody struct{ world *fakeWorld }

func (c *fakeCustody) SignAndSubmit(ctx context.Context, walletID string, chain types.Chain, to string, data []byte, value types.Amount) (string, error) {
	return c.world.submitTx(chain, to, string(data)), nil
}

func (c *fakeCustody) Approve(ctx context.Context, walletID string, chain types.Chain, token, spender string, amount types.Amount) (string, bool, error) {
	return "", true, nil
}

type fakeBridge struct {
	fee        *big.Int
	quoteErr   error
	destTokens map[types.Chain]string
	quotes     int
	transfers  int
}

func (b *fakeBridge) QuoteFee(ctx context.Context, fromChain, toChain types.Chain, token string, amount types.Amount) (*big.Int, error) {
	b.quotes++
	if b.quoteErr != nil {
		return nil, b.quoteErr
	}
	return new(big.Int).Set(b.fee), nil
}

func (b *fakeBridge) BuildTransfer(fromChain, toChain types.Chain, token, recipient string, amount types.Amount, fee *big.Int) (string, []byte, types.Amount, string, error) {
	b.transfers++
	data := fmt.Sprintf("bridge|%s|%s|%s|%s|%s", toChain, token, b.destTokens[toChain], recipient, amount.String())
	return "0xrouter", []byte(data), types.NewAmount(fee), fmt.Sprintf("relay-%d", b.transfers), nil
}

type fakeRegistry struct {
	tokens  map[string]string
	vaults  map[string]VaultInfo
	stopped map[types.Chain]bool
}

func (r *fakeRegistry) TokenAddress(chain types.Chain, token string) (string, error) {
	if addr, ok := r.tokens[string(chain)+"|"+token]; ok {
		return addr, nil
	}
	return "", fmt.Errorf("token %s has no address mapping on chain %s", token, chain)
}

func (r *fakeRegistry) Vault(chain types.Chain, protocol, token string) (VaultInfo, error) {
	if v, ok := r.vaults[string(chain)+"|"+protocol+"|"+token]; ok {
		return v, nil
	}
	return VaultInfo{}, fmt.Errorf("protocol %s has no %s vault on chain %s", protocol, token, chain)
}

func (r *fakeRegistry) RouterAddress(chain types.Chain) (string, error) {
	return "0xrouter", nil
}

func (r *fakeRegistry) EmergencyStopped(chain types.Chain) bool {
	return r.stopped[chain]
}

// harness wires the fakes with an in-memory ledger.
type harness struct {
	world    *fakeWorld
	bridge   *fakeBridge
	registry *fakeRegistry
	recorder *ledger.Recorder
	orch     *Orchestrator
	wallet   *types.WalletContext
}

const walletAddr = "0xw"

func newHarness(t *testing.T) *harness {
	t.Helper()

	world := newFakeWorld()
	world.shareTokens["0xvault-steth"] = "0xsteth"
	world.shareTokens["0xvault-ausdc"] = "0xausdc"
	world.shareTokens["0xvault-yvusdc"] = "0xyvusdc"
	world.shareTokens["0xvault-crv"] = "0xcrv"

	registry := &fakeRegistry{
		tokens: map[string]string{
			"ethereum|USDC": "0xusdc",
			"arbitrum|USDC": "0xusdc.arb",
		},
		vaults: map[string]VaultInfo{
			"ethereum|lido|stETH":   {Address: "0xvault-steth", ShareToken: "0xsteth"},
			"ethereum|aave|aUSDC":   {Address: "0xvault-ausdc", ShareToken: "0xausdc"},
			"ethereum|yearn|yvUSDC": {Address: "0xvault-yvusdc", ShareToken: "0xyvusdc"},
			"arbitrum|curve|crvUSD": {Address: "0xvault-crv", ShareToken: "0xcrv"},
		},
		stopped: make(map[types.Chain]bool),
	}

	bridge := &fakeBridge{
		fee:        big.NewInt(5_000),
		destTokens: map[types.Chain]string{types.ChainArbitrum: "0xusdc.arb"},
	}

	db, err := ledger.OpenStore(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	recorder := ledger.NewRecorder(db, zerolog.Nop())

	orch := New(&fakeCustody{world: world}, &fakeGateway{world: world}, bridge, registry, recorder, Options{
		ReceiptTimeout:    time.Second,
		SettlementDelay:   time.Millisecond,
		SettlementTimeout: 200 * time.Millisecond,
		PollInterval:      time.Millisecond,
	}, zerolog.Nop())

	return &harness{
		world:    world,
		bridge:   bridge,
		registry: registry,
		recorder: recorder,
		orch:     orch,
		wallet: &types.WalletContext{
			WalletID: "wallet-1",
			Addresses: map[types.Chain]string{
				types.ChainEthereum: walletAddr,
				types.ChainArbitrum: walletAddr,
			},
		},
	}
}

func testAmount(t *testing.T, s string) types.Amount {
	t.Helper()
	a, err := types.ParseAmount(s)
	require.NoError(t, err)
	return a
}

func testPlan(t *testing.T, total string, legs ...plan.AllocationLeg) *plan.AllocationPlan {
	t.Helper()
	return &plan.AllocationPlan{
		ID: "plan-" + t.Name(),
		Request: types.AllocationRequest{
			SourceToken:   "USDC",
			SourceChain:   types.ChainEthereum,
			TotalAmount:   testAmount(t, total),
			RiskTolerance: 5,
			TimeHorizon:   types.HorizonMedium,
		},
		Legs:           legs,
		SourcePriceUSD: decimal.NewFromInt(1),
		SourceDecimals: 6,
	}
}

func TestOrchestrator_ExecuteDeposit_SameChainLegs(t *testing.T) {
	h := newHarness(t)
	h.world.setBalance(types.ChainEthereum, walletAddr, "0xusdc", 5_000_000_000)

	p := testPlan(t, "5000000000",
		plan.AllocationLeg{Token: "stETH", Chain: types.ChainEthereum, Protocol: "lido", Percentage: 40, Amount: testAmount(t, "2000000000")},
		plan.AllocationLeg{Token: "aUSDC", Chain: types.ChainEthereum, Protocol: "aave", Percentage: 35, Amount: testAmount(t, "1750000000")},
		plan.AllocationLeg{Token: "yvUSDC", Chain: types.ChainEthereum, Protocol: "yearn", Percentage: 25, Amount: testAmount(t, "1250000000")},
	)

	outcome, err := h.orch.ExecuteDeposit(context.Background(), p, h.wallet)
	require.NoError(t, err)
	require.Len(t, outcome.Legs, 3)

	for i := range outcome.Legs {
		lr := &outcome.Legs[i]
		assert.Equal(t, ledger.StatusConfirmed, lr.Status, "leg %d", i)
		assert.NotEmpty(t, lr.TxHash)
		assert.Equal(t, p.Legs[i].Amount.String(), lr.SharesDelta.String())
		assert.Equal(t, uint64(50_000), lr.GasUsed)
	}
	assert.Empty(t, outcome.Transfers)
	assert.True(t, outcome.TotalDepositedUSD.Equal(decimal.NewFromInt(5000)),
		"got %s", outcome.TotalDepositedUSD)

	// The whole deposit left the wallet.
	assert.Equal(t, "0", h.world.balance(types.ChainEthereum, walletAddr, "0xusdc").String())

	records, err := h.recorder.ListByPlan(p.ID)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestOrchestrator_ExecuteDeposit_DestinationShortCircuit(t *testing.T) {
	h := newHarness(t)
	// Funds already sit on the destination from an earlier interrupted
	// run; no bridge work should happen.
	h.world.setBalance(types.ChainArbitrum, walletAddr, "0xusdc.arb", 300_000_000)

	p := testPlan(t, "300000000",
		plan.AllocationLeg{Token: "crvUSD", Chain: types.ChainArbitrum, Protocol: "curve", Percentage: 100, Amount: testAmount(t, "300000000")},
	)

	outcome, err := h.orch.ExecuteDeposit(context.Background(), p, h.wallet)
	require.NoError(t, err)
	require.Len(t, outcome.Legs, 1)

	assert.Equal(t, ledger.StatusConfirmed, outcome.Legs[0].Status)
	assert.Empty(t, outcome.Transfers)
	assert.Equal(t, 0, h.bridge.quotes)
	assert.Len(t, h.world.submits, 1) // only the destination deposit
}

func TestOrchestrator_ExecuteDeposit_InsufficientBridgeFee(t *testing.T) {
	h := newHarness(t)
	h.world.setBalance(types.ChainEthereum, walletAddr, "0xusdc", 300_000_000)
	h.world.setBalance(types.ChainEthereum, walletAddr, "", 1_000) // below the 5000 fee

	p := testPlan(t, "300000000",
		plan.AllocationLeg{Token: "crvUSD", Chain: types.ChainArbitrum, Protocol: "curve", Percentage: 100, Amount: testAmount(t, "300000000")},
	)

	outcome, err := h.orch.ExecuteDeposit(context.Background(), p, h.wallet)
	require.NoError(t, err)
	require.Len(t, outcome.Legs, 1)

	lr := &outcome.Legs[0]
	assert.Equal(t, ledger.StatusFailed, lr.Status)
	assert.Equal(t, ErrCodeInsufficientBridgeFee, lr.ErrCode)
	assert.False(t, lr.RetryEligible)

	// Nothing was submitted anywhere and no transfer was recorded.
	assert.Empty(t, h.world.submits)
	assert.Empty(t, outcome.Transfers)
	assert.True(t, outcome.TotalDepositedUSD.IsZero())
}

func TestOrchestrator_ExecuteDeposit_QuoteFailureIsNotFeeShortfall(t *testing.T) {
	h := newHarness(t)
	h.world.setBalance(types.ChainEthereum, walletAddr, "0xusdc", 300_000_000)
	h.world.setBalance(types.ChainEthereum, walletAddr, "", 10_000)
	h.bridge.quoteErr = fmt.Errorf("relay rpc unavailable")

	p := testPlan(t, "300000000",
		plan.AllocationLeg{Token: "crvUSD", Chain: types.ChainArbitrum, Protocol: "curve", Percentage: 100, Amount: testAmount(t, "300000000")},
	)

	outcome, err := h.orch.ExecuteDeposit(context.Background(), p, h.wallet)
	require.NoError(t, err)
	require.Len(t, outcome.Legs, 1)

	// A quote the relay could not produce is a read failure, not a fee
	// shortfall; the quote is retried before giving up and nothing is
	// submitted on either chain.
	lr := &outcome.Legs[0]
	assert.Equal(t, ledger.StatusFailed, lr.Status)
	assert.Equal(t, ErrCodeValidation, lr.ErrCode)
	assert.Equal(t, 3, h.bridge.quotes)
	assert.Empty(t, h.world.submits)
	assert.Empty(t, outcome.Transfers)
}

func TestOrchestrator_ExecuteDeposit_DestinationDepositFailed(t *testing.T) {
	h := newHarness(t)
	h.world.setBalance(types.ChainEthereum, walletAddr, "0xusdc", 300_000_000)
	h.world.setBalance(types.ChainEthereum, walletAddr, "", 10_000)
	h.world.nextStatus["0xvault-crv"] = 0 // destination deposit reverts

	p := testPlan(t, "300000000",
		plan.AllocationLeg{Token: "crvUSD", Chain: types.ChainArbitrum, Protocol: "curve", Percentage: 100, Amount: testAmount(t, "300000000")},
	)

	outcome, err := h.orch.ExecuteDeposit(context.Background(), p, h.wallet)
	require.NoError(t, err)
	require.Len(t, outcome.Legs, 1)

	lr := &outcome.Legs[0]
	assert.Equal(t, ledger.StatusFailed, lr.Status)
	assert.Equal(t, ErrCodeDestinationDepositFailed, lr.ErrCode)
	assert.True(t, lr.RetryEligible)

	// The bridge transfer is committed and stays recorded.
	require.Len(t, outcome.Transfers, 1)
	assert.Equal(t, types.ChainEthereum, outcome.Transfers[0].FromChain)
	assert.Equal(t, types.ChainArbitrum, outcome.Transfers[0].ToChain)
	assert.Equal(t, "300000000", outcome.Transfers[0].Amount.String())

	records, err := h.recorder.ListByPlan(p.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	transfers, err := h.recorder.TransfersForLeg(records[0].ID)
	require.NoError(t, err)
	assert.Len(t, transfers, 1)

	// The bridged funds sit on the destination chain.
	assert.Equal(t, "300000000", h.world.balance(types.ChainArbitrum, walletAddr, "0xusdc.arb").String())
}

func TestOrchestrator_ExecuteDeposit_ArrivalTimeoutIsRetryEligible(t *testing.T) {
	h := newHarness(t)
	h.world.setBalance(types.ChainEthereum, walletAddr, "0xusdc", 300_000_000)
	h.world.setBalance(types.ChainEthereum, walletAddr, "", 10_000)
	// The relay stalls: the bridged amount lands on a token the
	// destination wallet is not polling, so arrival is never observed
	// within the settlement window.
	h.bridge.destTokens[types.ChainArbitrum] = "0xstalled"

	p := testPlan(t, "300000000",
		plan.AllocationLeg{Token: "crvUSD", Chain: types.ChainArbitrum, Protocol: "curve", Percentage: 100, Amount: testAmount(t, "300000000")},
	)

	outcome, err := h.orch.ExecuteDeposit(context.Background(), p, h.wallet)
	require.NoError(t, err)
	require.Len(t, outcome.Legs, 1)

	// The bridge confirmed, so the leg must stay recoverable: the
	// failure is classified as a destination-side one and flagged for
	// retry, with the transfer record preserved.
	lr := &outcome.Legs[0]
	assert.Equal(t, ledger.StatusFailed, lr.Status)
	assert.Equal(t, ErrCodeDestinationDepositFailed, lr.ErrCode)
	assert.True(t, lr.RetryEligible)
	assert.Equal(t, 1, h.bridge.transfers)
	require.Len(t, outcome.Transfers, 1)

	eligible, err := h.recorder.ListRetryEligible()
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, p.ID, eligible[0].PlanID)
}

func TestOrchestrator_Resume_RetriesDestinationDeposit(t *testing.T) {
	h := newHarness(t)
	h.world.setBalance(types.ChainEthereum, walletAddr, "0xusdc", 300_000_000)
	h.world.setBalance(types.ChainEthereum, walletAddr, "", 10_000)
	h.world.nextStatus["0xvault-crv"] = 0

	p := testPlan(t, "300000000",
		plan.AllocationLeg{Token: "crvUSD", Chain: types.ChainArbitrum, Protocol: "curve", Percentage: 100, Amount: testAmount(t, "300000000")},
	)

	first, err := h.orch.ExecuteDeposit(context.Background(), p, h.wallet)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, first.Legs[0].Status)

	// The vault works on retry; the funds are already on arbitrum, so
	// the retry deposits without bridging again.
	quotesBefore := h.bridge.quotes
	outcome, err := h.orch.Resume(context.Background(), p, h.wallet)
	require.NoError(t, err)
	require.Len(t, outcome.Legs, 1)

	assert.Equal(t, ledger.StatusConfirmed, outcome.Legs[0].Status)
	assert.Equal(t, "300000000", outcome.Legs[0].SharesDelta.String())
	assert.Equal(t, quotesBefore, h.bridge.quotes)
	assert.True(t, outcome.TotalDepositedUSD.Equal(decimal.NewFromInt(300)))

	// The failed record stays; the retry got its own record.
	records, err := h.recorder.ListByPlan(p.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestOrchestrator_ExecuteDeposit_PartialFailureIsolated(t *testing.T) {
	h := newHarness(t)
	// Enough for the first leg only.
	h.world.setBalance(types.ChainEthereum, walletAddr, "0xusdc", 2_000_000_000)
	h.world.nextStatus["0xvault-ausdc"] = 0 // aave vault reverts

	p := testPlan(t, "4000000000",
		plan.AllocationLeg{Token: "stETH", Chain: types.ChainEthereum, Protocol: "lido", Percentage: 50, Amount: testAmount(t, "2000000000")},
		plan.AllocationLeg{Token: "aUSDC", Chain: types.ChainEthereum, Protocol: "aave", Percentage: 50, Amount: testAmount(t, "2000000000")},
	)

	outcome, err := h.orch.ExecuteDeposit(context.Background(), p, h.wallet)
	require.NoError(t, err)
	require.Len(t, outcome.Legs, 2)

	statuses := map[ledger.RecordStatus]int{}
	for i := range outcome.Legs {
		statuses[outcome.Legs[i].Status]++
	}
	assert.Equal(t, 1, statuses[ledger.StatusConfirmed])
	assert.Equal(t, 1, statuses[ledger.StatusFailed])
	assert.True(t, outcome.TotalDepositedUSD.Equal(decimal.NewFromInt(2000)))
}

func TestOrchestrator_ExecuteDeposit_EmergencyStop(t *testing.T) {
	h := newHarness(t)
	h.registry.stopped[types.ChainEthereum] = true
	h.world.setBalance(types.ChainEthereum, walletAddr, "0xusdc", 1_000_000)

	p := testPlan(t, "1000000",
		plan.AllocationLeg{Token: "stETH", Chain: types.ChainEthereum, Protocol: "lido", Percentage: 100, Amount: testAmount(t, "1000000")},
	)

	outcome, err := h.orch.ExecuteDeposit(context.Background(), p, h.wallet)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusFailed, outcome.Legs[0].Status)
	assert.Equal(t, ErrCodeValidation, outcome.Legs[0].ErrCode)
	assert.Empty(t, h.world.submits)
}

func TestOrchestrator_ExecuteDeposit_RejectsEmptyPlan(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ExecuteDeposit(context.Background(), &plan.AllocationPlan{ID: "empty"}, h.wallet)
	assert.Error(t, err)

	_, err = h.orch.ExecuteDeposit(context.Background(), nil, h.wallet)
	assert.Error(t, err)
}
