package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yieldroute/config"
	"yieldroute/pkg/ledger"
	"yieldroute/pkg/plan"
)

var statusCmd = &cobra.Command{
	Use:   "status [plan-id]",
	Short: "Show execution records for a plan, or list saved plans",
	Long: `Show the durable ledger records of a plan's execution: each leg's state,
transaction hashes, observed share deltas, and any bridge transfers.

Without a plan id, lists all saved plans.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	log := newLogger(verbose)

	cfg, err := loadConfig()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if len(args) == 0 {
		listPlans(cfg, jsonOutput)
		return
	}

	db, err := ledger.OpenStore(ledgerPath(cfg))
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer db.Close()
	recorder := ledger.NewRecorder(db, log)

	records, err := recorder.ListByPlan(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Printf("\nNo execution records for plan %s.\n\n", args[0])
		return
	}

	if jsonOutput {
		type recordView struct {
			*ledger.Record
			Transfers []*ledger.BridgeTransfer `json:"transfers,omitempty"`
		}
		views := make([]recordView, 0, len(records))
		for _, rec := range records {
			transfers, err := recorder.TransfersForLeg(rec.ID)
			if err != nil {
				printError(err)
				os.Exit(1)
			}
			views = append(views, recordView{Record: rec, Transfers: transfers})
		}
		data, _ := json.MarshalIndent(views, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Printf("\nExecution records for plan %s:\n", args[0])
	for _, rec := range records {
		printRecord(recorder, rec)
	}
	fmt.Println()
}

func printRecord(recorder *ledger.Recorder, rec *ledger.Record) {
	switch rec.Status {
	case ledger.StatusConfirmed:
		color.Green("\n  leg %d  %s via %s on %s: confirmed", rec.LegIndex, rec.Token, rec.Protocol, rec.Chain)
		fmt.Printf("         amount %s, tx %s\n", rec.Amount.String(), rec.TxHash)
		fmt.Printf("         shares %s -> %s (delta %s), gas %d\n",
			rec.SharesBefore.String(), rec.SharesAfter.String(), rec.SharesDelta.String(), rec.GasUsed)
	case ledger.StatusFailed:
		color.Red("\n  leg %d  %s via %s on %s: failed (%s)", rec.LegIndex, rec.Token, rec.Protocol, rec.Chain, rec.ErrCode)
		fmt.Printf("         amount %s\n", rec.Amount.String())
		fmt.Printf("         %s\n", rec.ErrMessage)
		if rec.RetryEligible {
			color.Yellow("         retry eligible")
		}
	default:
		color.Yellow("\n  leg %d  %s via %s on %s: pending", rec.LegIndex, rec.Token, rec.Protocol, rec.Chain)
		fmt.Printf("         amount %s, created %s\n", rec.Amount.String(), rec.CreatedAt.Format("2006-01-02 15:04:05"))
	}

	transfers, err := recorder.TransfersForLeg(rec.ID)
	if err != nil {
		fmt.Printf("         (failed to load bridge transfers: %v)\n", err)
		return
	}
	for _, t := range transfers {
		fmt.Printf("         bridge %s -> %s: %s %s, tx %s, relay message %s\n",
			t.FromChain, t.ToChain, t.Amount.String(), t.Token, t.TxHash, t.RelayMessageID)
	}
}

func listPlans(cfg *config.Config, jsonOutput bool) {
	storage, err := plan.NewStorage(cfg.PlanPath)
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	summaries := storage.List()
	if jsonOutput {
		data, _ := json.MarshalIndent(summaries, "", "  ")
		fmt.Println(string(data))
		return
	}

	if len(summaries) == 0 {
		fmt.Printf("\nNo saved plans. Create one with: yieldroute allocate\n\n")
		return
	}

	fmt.Printf("\n%d saved plan(s):\n\n", len(summaries))
	for _, s := range summaries {
		fmt.Printf("  %s  %s %s, %d leg(s), APY %.2f%%, confidence %.0f, %s\n",
			s.ID, s.TotalAmount, s.SourceToken, s.Legs, s.WeightedAPY, s.Confidence,
			s.CreatedAt.Format("2006-01-02 15:04"))
	}
	fmt.Println()
}
