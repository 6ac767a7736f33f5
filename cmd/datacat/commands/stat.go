package commands

import (
	"fmt"

	"datacat/pkg/model"

	"github.com/spf13/cobra"
)

func newStatCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Show child counts and dataset totals of a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			k, err := model.ParseStatKind(kind)
			if err != nil {
				return err
			}
			st, err := DC.Catalog.Stat(cmd.Context(), args[0], k)
			if err != nil {
				return fmt.Errorf("cannot stat %s: %w", args[0], err)
			}

			out := cmd.OutOrStdout()
			if st == nil {
				fmt.Fprintln(out, "(no stat requested)")
				return nil
			}
			fmt.Fprintf(out, "📊 %s\n", args[0])
			fmt.Fprintf(out, "   folders:  %d\n", st.Basic.Folders)
			fmt.Fprintf(out, "   groups:   %d\n", st.Basic.Groups)
			fmt.Fprintf(out, "   datasets: %d\n", st.Basic.Datasets)
			if ds := st.Dataset; ds != nil {
				fmt.Fprintf(out, "   files:    %d\n", ds.Files)
				fmt.Fprintf(out, "   events:   %d\n", ds.EventCount)
				fmt.Fprintf(out, "   size:     %d\n", ds.Size)
				if ds.RunMin != nil && ds.RunMax != nil {
					fmt.Fprintf(out, "   runs:     %d-%d\n", *ds.RunMin, *ds.RunMax)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "basic", "stat kind: basic or dataset")
	return cmd
}
