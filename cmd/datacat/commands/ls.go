package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	var (
		vf   viewFlags
		long bool
	)
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "List the children of a container",
		Long:  `List folders, groups and datasets directly under a container. Datasets are shown with the version and locations selected by --version / --site.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			path := "/"
			if len(args) > 0 {
				path = args[0]
			}
			view, err := vf.view()
			if err != nil {
				return err
			}

			stream, err := DC.Catalog.List(cmd.Context(), path, view)
			if err != nil {
				return fmt.Errorf("cannot list %s: %w", path, err)
			}
			defer stream.Close()

			out := cmd.OutOrStdout()
			n := 0
			for stream.Next() {
				node := stream.Node()
				printNode(out, node)
				if v, ok := datasetVersion(node); long && ok {
					printMetadata(out, v.Metadata)
					for _, l := range v.Locations {
						printLocation(out, l)
					}
				}
				n++
			}
			if err := stream.Err(); err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintf(out, "(empty)\n")
			}
			return nil
		},
	}
	vf.register(cmd)
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show metadata and locations")
	return cmd
}
