package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bkonick/kiln/internal/output"
	"github.com/bkonick/kiln/internal/proxmox"
)

var statusCmd = &cobra.Command{
	Use:   "status <vmid>",
	Short: "Show the current state of a guest",
	Long: `Show the current state of a guest or template by identity.

Read-only: it does not take the build lock and can run alongside an
active build.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML document
  -o json   JSON document

Example:
  kiln status 9001`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseVMID(args[0])
		if err != nil {
			return err
		}
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		client, err := proxmox.NewHostClient()
		if err != nil {
			return err
		}
		status, err := client.Status(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("failed to query guest %d: %w", id, err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}
		result, err := formatter.FormatGuest(&output.GuestInfo{
			VMID:   id,
			Status: string(status),
		})
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, yaml, or json")
	statusCmd.Flags().BoolVar(&noHeaders, "no-headers", false, "Omit table headers")
}
