package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bkonick/kiln/internal/logging"
)

// Populated at build time via -ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

// Persistent flags shared by all subcommands.
var (
	verbose bool
	noColor bool
	logFile string

	outputFormat string
	noHeaders    bool
)

func main() {
	// An interruption signal cancels the run context. The pipeline treats
	// cancellation like any other mid-run failure: the partially built
	// guest is rolled back before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "Kiln - Proxmox VE template builder",
	Long: `Kiln builds Proxmox VE templates from upstream Ubuntu cloud images.

A build downloads and verifies the cloud image, creates a guest, imports
the image as its boot disk, applies cloud-init guest defaults, and converts
the result into a template. Failures after guest creation roll the guest
back so nothing half-built is left behind.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	// Failures surface as exactly one Error: line from main.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored console output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", logging.DefaultLogFile, "Run log path (empty disables the run log)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(statusCmd)
}

// newLogger builds the logger for one command invocation. Commands that
// never log (version, help, status) skip it so they never touch the run
// log file.
func newLogger() (*zap.Logger, func(), error) {
	return logging.New(logging.Options{
		Verbose: verbose,
		NoColor: noColor,
		LogFile: logFile,
	})
}
