package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <plan-id>",
	Short: "Retry a plan's retry-eligible failed legs",
	Long: `Retry legs that failed after their bridge transfer completed. The bridged
funds already sit on the destination chain, so the retry deposits them
without bridging again. Legs that failed before any funds moved are not
retried; re-run allocate for those.`,
	Args: cobra.ExactArgs(1),
	Run:  runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) {
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

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Retrying failed legs..."
		s.Start()
	}

	outcome, err := stack.orch.Resume(context.Background(), p, stack.wallet)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		printError(err)
		os.Exit(1)
	}

	if len(outcome.Legs) == 0 {
		printSuccess(fmt.Sprintf("Plan %s has no retry-eligible legs.", p.ID))
		return
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
