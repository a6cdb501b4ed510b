package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "yieldroute",
	Short: "A CLI for risk-weighted yield allocation across chains",
	Long: `yieldroute plans and executes yield deposits across multiple blockchains.
It weighs candidate positions by yield, risk and liquidity, splits a deposit
into constrained allocation legs, and executes each leg independently,
bridging funds to other chains where a position requires it.

Examples:
  yieldroute allocate 5000000000 USDC --source-chain ethereum --risk-tolerance 6
  yieldroute execute <plan-id>
  yieldroute status <plan-id>
  yieldroute resume <plan-id>
  yieldroute tokens`,
	Version: "0.1.0",
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

func printError(err error) {
	fmt.Printf("\nError: %v\n\n", err)
}

func printSuccess(message string) {
	fmt.Printf("\n%s\n\n", message)
}

// newLogger builds the CLI logger; verbose lowers the level to debug.
func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
