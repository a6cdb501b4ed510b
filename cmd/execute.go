package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"yieldroute/pkg/ledger"
	"yieldroute/pkg/orchestrator"
)

var executeNoConfirm bool

var executeCmd = &cobra.Command{
	Use:   "execute <plan-id>",
	Short: "Execute a saved allocation plan",
	Long: `Execute every leg of a saved allocation plan. Legs on the source chain
deposit directly; legs on other chains bridge funds first. Each leg runs
independently: a failed leg never rolls back the others. Check partial
results afterwards with the status command, and retry failed destination
deposits with resume.`,
	Args: cobra.ExactArgs(1),
	Run:  runExecute,
}

func init() {
	rootCmd.AddCommand(executeCmd)

	executeCmd.Flags().BoolVarP(&executeNoConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runExecute(cmd *cobra.Command, args []string) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	log := newLogger(verbose)

	cfg, err := loadConfig()
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	stack, err := buildExecutionStack(cfg, log)
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	defer stack.close()

	p, err := stack.storage.Get(args[0])
	if err != nil {
		printError(err)
		os.Exit(1)
	}
	if err := p.Validate(); err != nil {
		printError(fmt.Errorf("plan %s is not executable: %w", p.ID, err))
		os.Exit(1)
	}

	if !executeNoConfirm && !jsonOutput {
		displayPlan(p)
		if !confirmExecution() {
			fmt.Println("\nExecution cancelled.")
			os.Exit(0)
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = fmt.Sprintf(" Executing %d leg(s)...", len(p.Legs))
		s.Start()
	}

	outcome, err := stack.orch.ExecuteDeposit(context.Background(), p, stack.wallet)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if jsonOutput {
		data, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Println(string(data))
	} else {
		displayOutcome(outcome)
	}

	if confirmedLegs(outcome) == 0 {
		os.Exit(1)
	}
}

func confirmExecution() bool {
	fmt.Print("\nExecute this plan? This submits real transactions. [y/N]: ")
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func confirmedLegs(outcome *orchestrator.DepositOutcome) int {
	n := 0
	for i := range outcome.Legs {
		if outcome.Legs[i].Status == ledger.StatusConfirmed {
			n++
		}
	}
	return n
}

func displayOutcome(outcome *orchestrator.DepositOutcome) {
	confirmed := confirmedLegs(outcome)
	if confirmed == len(outcome.Legs) {
		color.Green("\nAll %d leg(s) confirmed.", confirmed)
	} else {
		color.Yellow("\n%d of %d leg(s) confirmed.", confirmed, len(outcome.Legs))
	}

	for i := range outcome.Legs {
		lr := &outcome.Legs[i]
		switch lr.Status {
		case ledger.StatusConfirmed:
			color.Green("  leg %d  %s on %s: confirmed", lr.LegIndex, lr.Token, lr.Chain)
			fmt.Printf("         tx %s, shares delta %s, gas %d\n", lr.TxHash, lr.SharesDelta.String(), lr.GasUsed)
		default:
			color.Red("  leg %d  %s on %s: failed (%s)", lr.LegIndex, lr.Token, lr.Chain, lr.ErrCode)
			fmt.Printf("         %s\n", lr.ErrMessage)
			if lr.RetryEligible {
				color.Yellow("         funds are on the destination chain; retry with: yieldroute resume %s", outcome.PlanID)
			}
		}
	}

	for _, t := range outcome.Transfers {
		fmt.Printf("  bridge %s -> %s: %s %s, tx %s, relay message %s\n",
			t.FromChain, t.ToChain, t.Amount.String(), t.Token, t.TxHash, t.RelayMessageID)
	}

	fmt.Printf("\n  Total deposited: $%s\n", outcome.TotalDepositedUSD.StringFixed(2))
}
