package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bkonick/kiln/internal/guard"
	"github.com/bkonick/kiln/internal/proxmox"
)

var destroyLockFile string

var destroyCmd = &cobra.Command{
	Use:   "destroy <vmid>",
	Short: "Destroy a guest or template by identity",
	Long: `Destroy a guest or template by identity.

Intended for reconciling after an interrupted build. The guest status is
queried first; an identity that is already absent is reported and the
command exits cleanly.

Example:
  kiln destroy 9001`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseVMID(args[0])
		if err != nil {
			return err
		}

		logger, closeLog, err := newLogger()
		if err != nil {
			return err
		}
		defer closeLog()

		// Destroys share the build lock so they never race an active run.
		lock := guard.New(destroyLockFile)
		if err := lock.Acquire(); err != nil {
			return err
		}
		defer func() {
			if relErr := lock.Release(); relErr != nil {
				logger.Warn("failed to release run lock", zap.Error(relErr))
			}
		}()

		client, err := proxmox.NewHostClient()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		status, err := client.Status(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to query guest %d: %w", id, err)
		}
		if !status.Present() {
			fmt.Printf("Guest %d is not present, nothing to destroy\n", id)
			return nil
		}

		logger.Info("destroying guest",
			zap.Int("vmid", id),
			zap.String("status", string(status)),
		)
		if err := client.Destroy(ctx, id); err != nil {
			return fmt.Errorf("failed to destroy guest %d: %w", id, err)
		}

		fmt.Printf("✓ Guest %d destroyed\n", id)
		return nil
	},
}

func init() {
	destroyCmd.Flags().StringVar(&destroyLockFile, "lock-file", guard.DefaultLockPath, "Lock file guarding concurrent runs")
}

// parseVMID parses a positional guest identity argument.
func parseVMID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("vmid must be a positive integer, got %q", arg)
	}
	return id, nil
}
