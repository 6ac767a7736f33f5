package commands

import (
	"fmt"

	"datacat/pkg/model"
	"datacat/pkg/store"

	"github.com/spf13/cobra"
)

func newMkdirCmd() *cobra.Command {
	var (
		parents bool
		group   bool
		desc    string
		meta    []string
	)
	cmd := &cobra.Command{
		Use:   "mkdir <path>",
		Short: "Create a folder (or a group with --group)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			ctx := cmd.Context()
			path := args[0]

			// -p 且没有额外属性时直接走 MkdirAll，已存在不算错
			if parents && !group && desc == "" && len(meta) == 0 {
				if _, err := DC.Catalog.MkdirAll(ctx, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✅ %s\n", path)
				return nil
			}

			md, err := parseMetadata(meta, nil)
			if err != nil {
				return err
			}
			if parents {
				if _, err := DC.Catalog.MkdirAll(ctx, parentOf(path)); err != nil {
					return err
				}
			}
			req := store.NewContainer{Description: desc, Metadata: md}

			var node model.Node
			if group {
				node, err = DC.Catalog.CreateGroup(ctx, path, req)
			} else {
				node, err = DC.Catalog.CreateFolder(ctx, path, req)
			}
			if err != nil {
				return fmt.Errorf("cannot create %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ created %s %s\n", node.Type(), node.Info().Path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parent folders")
	cmd.Flags().BoolVar(&group, "group", false, "create a group instead of a folder")
	cmd.Flags().StringVar(&desc, "desc", "", "description")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "metadata key=value (repeatable)")
	return cmd
}
