package commands

import (
	"fmt"
	"strings"

	"datacat/pkg/store"

	"github.com/spf13/cobra"
)

func newPatchCmd() *cobra.Command {
	var (
		target  string
		version string
		site    string
		set     []string
		meta    []string
		unset   []string
	)
	cmd := &cobra.Command{
		Use:   "patch <path>",
		Short: "Change fields or metadata of a container, dataset, version or location",
		Long:  patchHelp(),
		Example: `  datacat patch /EXO/run1 --target version -m quality=good --unset draft
  datacat patch /EXO/run1 --target location --site SLAC --set size=2048`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			ctx := cmd.Context()
			path := args[0]
			if store.PatchableFields(target) == nil {
				return fmt.Errorf("unknown target %q (container, dataset, version or location)", target)
			}

			fields, err := parseFields(set)
			if err != nil {
				return err
			}
			md, err := parseMetadata(meta, unset)
			if err != nil {
				return err
			}
			p := store.Patch{Fields: fields, Metadata: md}
			if p.IsEmpty() {
				return fmt.Errorf("nothing to patch: use --set, --meta or --unset")
			}
			vid, err := versionArg(version)
			if err != nil {
				return err
			}

			switch target {
			case "container":
				err = DC.Catalog.PatchContainer(ctx, path, p)
			case "dataset":
				err = DC.Catalog.PatchDataset(ctx, path, p)
			case "version":
				err = DC.Catalog.PatchVersion(ctx, path, vid, p)
			case "location":
				err = DC.Catalog.PatchLocation(ctx, path, vid, site, p)
			}
			if err != nil {
				return fmt.Errorf("cannot patch %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ patched %s %s\n", target, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "dataset", "container, dataset, version or location")
	cmd.Flags().StringVar(&version, "version", "current", "version of a version/location patch")
	cmd.Flags().StringVar(&site, "site", "", "site of a location patch")
	cmd.Flags().StringArrayVar(&set, "set", nil, "field=value (repeatable)")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "metadata key=value (repeatable)")
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "metadata name to remove (repeatable)")
	return cmd
}

// patchHelp 列出每种目标可以 --set 的字段
func patchHelp() string {
	var b strings.Builder
	b.WriteString("Change fields or metadata of a container, dataset, version or location.\n\nFields accepted by --set:\n")
	for _, target := range patchTargets {
		fmt.Fprintf(&b, "  %-10s %s\n", target, strings.Join(store.PatchableFields(target), ", "))
	}
	return b.String()
}

var patchTargets = []string{"container", "dataset", "version", "location"}
