package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yieldroute/config"
	"yieldroute/pkg/engine"
	"yieldroute/pkg/market"
	"yieldroute/pkg/plan"
	"yieldroute/pkg/types"
)

var (
	allocSourceChain   string
	allocRiskTolerance int
	allocHorizon       string
	allocSlippageBps   int
	allocGasBudget     string
	allocMinYield      float64
	allocPreferred     []string
	allocExcluded      []string
	allocSnapshotFile  string
	allocNoSave        bool
)

var allocateCmd = &cobra.Command{
	Use:   "allocate <amount> <source-token>",
	Short: "Compute a risk-weighted allocation plan for a deposit",
	Long: `Compute an allocation plan splitting a deposit across yield positions.

The amount is an integer in the source token's smallest unit (e.g. 5000000000
for 5,000 USDC with 6 decimals). The plan is saved locally and executed
separately with the execute command.

Examples:
  yieldroute allocate 5000000000 USDC --source-chain ethereum --risk-tolerance 6
  yieldroute allocate 5000000000 USDC --source-chain ethereum --horizon LONG --min-yield 3.5
  yieldroute allocate 5000000000 USDC --source-chain ethereum --exclude yvUSDC --prefer stETH`,
	Args: cobra.ExactArgs(2),
	Run:  runAllocate,
}

func init() {
	rootCmd.AddCommand(allocateCmd)

	allocateCmd.Flags().StringVar(&allocSourceChain, "source-chain", "ethereum", "Chain holding the deposit")
	allocateCmd.Flags().IntVar(&allocRiskTolerance, "risk-tolerance", 5, "Risk tolerance, 1 (conservative) to 10 (aggressive)")
	allocateCmd.Flags().StringVar(&allocHorizon, "horizon", "MEDIUM", "Time horizon: SHORT, MEDIUM or LONG")
	allocateCmd.Flags().IntVar(&allocSlippageBps, "max-slippage-bps", 50, "Maximum accepted slippage in basis points")
	allocateCmd.Flags().StringVar(&allocGasBudget, "gas-budget", "0", "Maximum gas budget in native smallest unit (0 = unlimited)")
	allocateCmd.Flags().Float64Var(&allocMinYield, "min-yield", 0, "Minimum APY in percent; lower-yield positions are dropped")
	allocateCmd.Flags().StringSliceVar(&allocPreferred, "prefer", nil, "Token symbols to prefer (others are excluded)")
	allocateCmd.Flags().StringSliceVar(&allocExcluded, "exclude", nil, "Token symbols to exclude")
	allocateCmd.Flags().StringVar(&allocSnapshotFile, "snapshot", "", "Market snapshot file (defaults to config snapshot_file)")
	allocateCmd.Flags().BoolVar(&allocNoSave, "no-save", false, "Print the plan without saving it")
}

func runAllocate(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	log := newLogger(verbose)

	amount, err := types.ParseAmount(args[0])
	if err != nil {
		printError(fmt.Errorf("invalid amount %q: %w", args[0], err))
		os.Exit(1)
	}
	gasBudget, err := types.ParseAmount(allocGasBudget)
	if err != nil {
		printError(fmt.Errorf("invalid gas budget %q: %w", allocGasBudget, err))
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	req := &types.AllocationRequest{
		SourceToken:    args[1],
		SourceChain:    types.Chain(strings.ToLower(allocSourceChain)),
		TotalAmount:    amount,
		RiskTolerance:  allocRiskTolerance,
		TimeHorizon:    types.TimeHorizon(strings.ToUpper(allocHorizon)),
		MaxSlippageBps: allocSlippageBps,
		MaxGasBudget:   gasBudget,
		MinimumYield:   allocMinYield,
		Preferred:      allocPreferred,
		Excluded:       allocExcluded,
	}

	snapshotPath := allocSnapshotFile
	if snapshotPath == "" {
		snapshotPath = cfg.SnapshotFile
	}
	if snapshotPath == "" {
		printError(fmt.Errorf("no market snapshot configured. Pass --snapshot or set snapshot_file in .yieldroute.yaml"))
		os.Exit(1)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Computing allocation..."
		s.Start()
	}

	provider := market.NewFileProvider(snapshotPath)
	snap, err := provider.Snapshot(context.Background())
	if err != nil {
		if !jsonOutput {
			s.Stop()
		}
		printError(err)
		os.Exit(1)
	}

	eng := engine.New(engine.Options{
		LiquidityFloorUSD:  cfg.Engine.LiquidityFloorUSD,
		FreshnessDecayRate: cfg.Engine.FreshnessDecayRate,
		FreshnessFloor:     cfg.Engine.FreshnessFloor,
	}, log)

	result, err := eng.ComputeAllocation(req, snap)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if !allocNoSave {
		if err := savePlan(cfg, result); err != nil {
			printError(err)
			os.Exit(1)
		}
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(data))
		return
	}

	displayPlan(result)
	if !allocNoSave {
		fmt.Println("\nExecute this plan with:")
		color.Cyan("  yieldroute execute %s\n", result.ID)
	}
}

func savePlan(cfg *config.Config, p *plan.AllocationPlan) error {
	storage, err := plan.NewStorage(cfg.PlanPath)
	if err != nil {
		return err
	}
	return storage.Create(p)
}

func displayPlan(p *plan.AllocationPlan) {
	color.Green("\nAllocation plan %s", p.ID)
	fmt.Printf("  Deposit:  %s %s on %s\n", p.Request.TotalAmount.String(), p.Request.SourceToken, p.Request.SourceChain)
	fmt.Printf("  Horizon:  %s, risk tolerance %d/10\n", p.Request.TimeHorizon, p.Request.RiskTolerance)

	fmt.Println("\n  Legs:")
	for i := range p.Legs {
		l := &p.Legs[i]
		fmt.Printf("    %-8s %-10s %-10s %6.2f%%  %s (%.2f%% APY, risk %.1f)\n",
			l.Token, l.Protocol, l.Chain, l.Percentage, l.Amount.String(), l.ExpectedYield, l.RiskScore)
	}

	fmt.Printf("\n  Weighted APY:    %.2f%%\n", p.WeightedAPY)
	fmt.Printf("  Portfolio risk:  %.2f/10\n", p.PortfolioRisk)
	fmt.Printf("  Diversification: %.0f/100\n", p.DiversificationScore)
	fmt.Printf("  Confidence:      %.0f/100\n", p.ConfidenceScore)

	for _, w := range p.Risk.Warnings {
		color.Yellow("  Warning: %s", w)
	}
	if p.YieldShortfall || p.CapShortfall {
		color.Yellow("  Note: only %.2f%% of the deposit is allocated.", p.TotalPercentage())
	}

	fmt.Printf("\n  %s\n", p.Reasoning)
}
