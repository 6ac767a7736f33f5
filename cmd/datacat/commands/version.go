package commands

import (
	"fmt"

	"datacat/pkg/model"
	"datacat/pkg/store"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	var (
		id     string
		source string
		meta   []string
		lf     locationFlags
	)
	cmd := &cobra.Command{
		Use:   "version <dataset>",
		Short: "Create a new version of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			vid, err := model.ParseVersion(id)
			if err != nil {
				return err
			}
			md, err := parseMetadata(meta, nil)
			if err != nil {
				return err
			}
			locs, err := lf.locations()
			if err != nil {
				return err
			}

			v, err := DC.Catalog.CreateVersion(cmd.Context(), args[0], store.NewVersion{
				VersionID:     vid,
				DatasetSource: source,
				Metadata:      md,
				Locations:     locs,
			})
			if err != nil {
				return fmt.Errorf("cannot create version of %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s version %d\n", args[0], v.VersionID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "new", "explicit version id (default: next)")
	cmd.Flags().StringVar(&source, "source", "", "registered dataset source")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "metadata key=value (repeatable)")
	lf.register(cmd)
	return cmd
}

func newVersionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <dataset>",
		Short: "Show every version of a dataset, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			versions, err := DC.Catalog.Versions(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(versions) == 0 {
				fmt.Fprintln(out, "No versions yet.")
				return nil
			}
			for _, v := range versions {
				latest := ""
				if v.Latest {
					latest = " (current)"
				}
				fmt.Fprintf(out, "\033[33mversion %d\033[0m%s\n", v.VersionID, latest)
				fmt.Fprintf(out, "Created: %s\n", v.Created.Format("2006-01-02 15:04:05 MST"))
				printMetadata(out, v.Metadata)
				for _, l := range v.Locations {
					printLocation(out, l)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
}

// datasetVersion ls -l 用
func datasetVersion(n model.Node) (*model.DatasetVersion, bool) {
	ds, ok := n.(*model.Dataset)
	if !ok || ds.Version == nil {
		return nil, false
	}
	return ds.Version, true
}

func parseChecksum(s string) (int64, error) {
	sum, err := model.ParseChecksum(s)
	if err != nil {
		return 0, fmt.Errorf("malformed checksum %q: %w", s, err)
	}
	return sum, nil
}
