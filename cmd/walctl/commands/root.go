// Package commands implements the walctl command line tool.
package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/INLOpen/nexuswal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "walctl",
	Short: "walctl - inspect and load-test nexuswal write-ahead logs",
	Long: `walctl works directly on WAL data directories.

Use "walctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file; defaults are used when empty")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log engine activity to stderr")

	rootCmd.AddCommand(benchCmd)
	rootCmd.AddCommand(segmentsCmd)
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Load(nil)
	}
	return config.LoadConfig(cfgFile)
}

func newLogger() *slog.Logger {
	if !verbose {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
