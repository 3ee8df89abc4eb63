package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/voicecall/internal/logging"
	"github.com/dkeye/voicecall/internal/ui"
	"github.com/spf13/cobra"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "callctl",
	Short: "Terminal client and dev tooling for voicecall",
	Long: `callctl places and answers peer-to-peer audio/video calls through a voicecall relay,
and mints development tokens for it.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		logging.Init("warn", true)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	rootCmd.AddCommand(tokenCmd, runCmd)
}

// Execute runs the root command; called by main.main.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(os.Stderr, err.Error())
		cancel()
		os.Exit(1)
	}
}
