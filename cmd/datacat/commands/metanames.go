package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newMetanamesCmd() *cobra.Command {
	var reload bool
	cmd := &cobra.Command{
		Use:   "metanames",
		Short: "List the metadata names usable in search queries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			if reload {
				if err := DC.Catalog.ReloadMetanames(cmd.Context()); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			for _, g := range DC.Catalog.Metanames() {
				if g.Prefix == "" {
					fmt.Fprintln(out, strings.Join(g.Names, "\n"))
					continue
				}
				fmt.Fprintf(out, "%s* (%d)\n", g.Prefix, len(g.Names))
				for _, n := range g.Names {
					fmt.Fprintf(out, "    %s\n", n)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reload, "reload", false, "rescan the metadata tables first")
	return cmd
}
