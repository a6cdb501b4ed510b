package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yieldroute/pkg/market"
)

var tokensSnapshotFile string

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List the investable token universe from the market snapshot",
	Args:  cobra.NoArgs,
	Run:   runTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&tokensSnapshotFile, "snapshot", "", "Market snapshot file (defaults to config snapshot_file)")
}

func runTokens(cmd *cobra.Command, args []string) {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	snapshotPath := tokensSnapshotFile
	if snapshotPath == "" {
		snapshotPath = cfg.SnapshotFile
	}
	if snapshotPath == "" {
		printError(fmt.Errorf("no market snapshot configured. Pass --snapshot or set snapshot_file in .yieldroute.yaml"))
		os.Exit(1)
	}

	provider := market.NewFileProvider(snapshotPath)
	snap, err := provider.Snapshot(context.Background())
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(snap.Candidates, "", "  ")
		fmt.Println(string(data))
		return
	}

	color.Green("\n%d candidate(s), snapshot collected %s:\n", len(snap.Candidates), snap.CollectedAt.Format("2006-01-02 15:04:05 UTC"))
	fmt.Printf("  %-8s %-10s %-10s %10s %8s %14s\n", "TOKEN", "PROTOCOL", "CHAIN", "APY", "RISK", "LIQUIDITY")
	for i := range snap.Candidates {
		c := &snap.Candidates[i]
		fmt.Printf("  %-8s %-10s %-10s %9.2f%% %8.1f %13.0fk\n",
			c.Token, c.Protocol, c.Chain, c.ExpectedYield, c.RiskScore, c.LiquidityUSD/1000)
	}
	fmt.Println()
}
