package commands

import (
	"fmt"

	"datacat/pkg/store"
	"datacat/pkg/types"

	"github.com/spf13/cobra"
)

// locationFlags mkds 和 version 共用
type locationFlags struct {
	site     string
	resource string
	size     int64
	checksum string
}

func (f *locationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.site, "site", "", "site of the initial location")
	cmd.Flags().StringVar(&f.resource, "resource", "", "physical path or URL of the file")
	cmd.Flags().Int64Var(&f.size, "size", 0, "file size in bytes")
	cmd.Flags().StringVar(&f.checksum, "checksum", "", "hex checksum")
}

func (f *locationFlags) locations() ([]store.NewLocation, error) {
	if f.site == "" {
		return nil, nil
	}
	loc := store.NewLocation{Site: f.site, Resource: f.resource, Size: f.size}
	if f.checksum != "" {
		sum, err := parseChecksum(f.checksum)
		if err != nil {
			return nil, err
		}
		loc.Checksum = &sum
	}
	return []store.NewLocation{loc}, nil
}

func newMkdsCmd() *cobra.Command {
	var (
		parents    bool
		dataType   string
		fileFormat string
		source     string
		meta       []string
		lf         locationFlags
	)
	cmd := &cobra.Command{
		Use:   "mkds <path>",
		Short: "Create a dataset, optionally with an initial version",
		Long:  `Create a dataset. When --meta or --site is given an initial version is created with it.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			ctx := cmd.Context()
			path := args[0]

			md, err := parseMetadata(meta, nil)
			if err != nil {
				return err
			}
			locs, err := lf.locations()
			if err != nil {
				return err
			}

			req := store.NewDataset{DataType: dataType, FileFormat: fileFormat}
			if md != nil || locs != nil || source != "" {
				req.Version = &store.NewVersion{
					VersionID:     types.VersionNew,
					DatasetSource: source,
					Metadata:      md,
					Locations:     locs,
				}
			}
			if parents {
				if _, err := DC.Catalog.MkdirAll(ctx, parentOf(path)); err != nil {
					return err
				}
			}

			ds, err := DC.Catalog.CreateDataset(ctx, path, req)
			if err != nil {
				return fmt.Errorf("cannot create dataset %s: %w", path, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✅ created dataset %s\n", ds.Path)
			if ds.Version != nil {
				fmt.Fprintf(out, "   version %d\n", ds.Version.VersionID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parent folders")
	cmd.Flags().StringVar(&dataType, "type", "", "registered data type")
	cmd.Flags().StringVar(&fileFormat, "format", "", "registered file format")
	cmd.Flags().StringVar(&source, "source", "", "registered dataset source of the initial version")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "metadata key=value (repeatable)")
	lf.register(cmd)
	return cmd
}

func parentOf(path string) string {
	parent, _ := types.Split(types.CleanPath(path))
	return parent
}
