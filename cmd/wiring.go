package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"yieldroute/config"
	"yieldroute/pkg/bridge"
	"yieldroute/pkg/custody"
	"yieldroute/pkg/gateway"
	"yieldroute/pkg/ledger"
	"yieldroute/pkg/orchestrator"
	"yieldroute/pkg/plan"
	"yieldroute/pkg/types"
)

// executionStack bundles everything a command needs to run deposits.
type executionStack struct {
	orch     *orchestrator.Orchestrator
	wallet   *types.WalletContext
	recorder *ledger.Recorder
	storage  *plan.Storage
	db       *sql.DB
	gw       *gateway.Manager
	signer   *custody.LocalSigner
}

func (s *executionStack) close() {
	if s.signer != nil {
		s.signer.Close()
	}
	if s.gw != nil {
		s.gw.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

// buildExecutionStack assembles gateway, custody, bridge, ledger and
// orchestrator from configuration.
func buildExecutionStack(cfg *config.Config, log zerolog.Logger) (*executionStack, error) {
	var evmEndpoints []gateway.EVMEndpoint
	var solEndpoint *gateway.SolanaEndpoint
	var evmKeys []custody.EVMKey
	var solKey *custody.SolanaKey

	for name, cc := range cfg.Chains {
		chain := types.Chain(name)
		if chain == types.ChainSolana {
			solEndpoint = &gateway.SolanaEndpoint{
				RPCURL:     cc.RPCURL,
				Commitment: cc.Commitment,
			}
			if cc.PrivateKey != "" {
				solKey = &custody.SolanaKey{
					RPCURL:        cc.RPCURL,
					PrivateKey:    cc.PrivateKey,
					Commitment:    cc.Commitment,
					SkipPreflight: cc.SkipPreflight,
				}
			}
			continue
		}

		evmEndpoints = append(evmEndpoints, gateway.EVMEndpoint{
			Chain:   chain,
			RPCURL:  cc.RPCURL,
			ChainID: cc.ChainID,
		})
		if cc.PrivateKey != "" {
			evmKeys = append(evmKeys, custody.EVMKey{
				Chain:      chain,
				RPCURL:     cc.RPCURL,
				ChainID:    cc.ChainID,
				PrivateKey: cc.PrivateKey,
				GasLimit:   cc.GasLimit,
				GasPrice:   cc.GasPrice,
			})
		}
	}

	stack := &executionStack{}

	gw, err := gateway.NewManager(evmEndpoints, solEndpoint, log)
	if err != nil {
		return nil, err
	}
	stack.gw = gw

	signer, err := custody.NewLocalSigner(cfg.WalletID, evmKeys, solKey, gw, log)
	if err != nil {
		stack.close()
		return nil, err
	}
	stack.signer = signer
	stack.wallet = signer.WalletContext()

	baseFees, err := cfg.BridgeBaseFees()
	if err != nil {
		stack.close()
		return nil, err
	}
	relay, err := bridge.New(bridge.Config{
		BaseFees:     baseFees,
		FeeMarginBps: cfg.Bridge.FeeMarginBps,
		ChainIDs:     cfg.RelayChainIDs(),
	}, cfg, log)
	if err != nil {
		stack.close()
		return nil, err
	}

	db, err := ledger.OpenStore(ledgerPath(cfg))
	if err != nil {
		stack.close()
		return nil, err
	}
	stack.db = db
	stack.recorder = ledger.NewRecorder(db, log)

	storage, err := plan.NewStorage(cfg.PlanPath)
	if err != nil {
		stack.close()
		return nil, err
	}
	stack.storage = storage

	stack.orch = orchestrator.New(signer, gw, relay, cfg, stack.recorder, orchestrator.Options{
		ReceiptTimeout:    cfg.Execution.ReceiptTimeout,
		SettlementDelay:   cfg.Bridge.SettlementDelay,
		SettlementTimeout: cfg.Bridge.SettlementTimeout,
		PollInterval:      cfg.Bridge.PollInterval,
		MaxConcurrentLegs: cfg.Execution.MaxConcurrentLegs,
	}, log)

	return stack, nil
}

func ledgerPath(cfg *config.Config) string {
	if cfg.LedgerPath != "" {
		return cfg.LedgerPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".yieldroute-ledger.db"
	}
	return filepath.Join(home, ".yieldroute-ledger.db")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}
