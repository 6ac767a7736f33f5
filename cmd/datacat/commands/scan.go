package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var (
		version string
		site    string
	)
	cmd := &cobra.Command{
		Use:   "scan <dataset>",
		Short: "Stat the file behind a location and record size, checksum and scan status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			vid, err := versionArg(version)
			if err != nil {
				return err
			}
			loc, err := DC.Catalog.ScanLocation(cmd.Context(), args[0], vid, site)
			if err != nil {
				return fmt.Errorf("scan of %s failed: %w", args[0], err)
			}

			icon := "✅"
			if loc.ScanStatus != "OK" {
				icon = "⚠️ "
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", icon, args[0])
			printLocation(cmd.OutOrStdout(), *loc)
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "current", "dataset version")
	cmd.Flags().StringVar(&site, "site", "master", "site to scan")
	return cmd
}
