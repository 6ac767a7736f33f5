package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRmCmd() *cobra.Command {
	var (
		version string
		site    string
	)
	cmd := &cobra.Command{
		Use:   "rm <path>",
		Short: "Remove a node, a dataset version (--version) or a location (--site)",
		Long:  `Remove an empty container or a dataset. With --version only that version is removed; with --site only that location.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			ctx := cmd.Context()
			path := args[0]
			out := cmd.OutOrStdout()

			switch {
			case site != "":
				vid, err := versionArg(version)
				if err != nil {
					return err
				}
				if err := DC.Catalog.DeleteLocation(ctx, path, vid, site); err != nil {
					return err
				}
				fmt.Fprintf(out, "🗑️  removed location %s of %s\n", site, path)
			case version != "":
				vid, err := versionArg(version)
				if err != nil {
					return err
				}
				if err := DC.Catalog.DeleteVersion(ctx, path, vid); err != nil {
					return err
				}
				fmt.Fprintf(out, "🗑️  removed version %s of %s\n", version, path)
			default:
				if err := DC.Catalog.Delete(ctx, path); err != nil {
					return err
				}
				fmt.Fprintf(out, "🗑️  removed %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "remove only this version")
	cmd.Flags().StringVar(&site, "site", "", "remove only the location at this site")
	return cmd
}
