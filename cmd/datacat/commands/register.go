package commands

import (
	"fmt"

	"datacat/pkg/store"

	"github.com/spf13/cobra"
)

func newRegisterCmd() *cobra.Command {
	var (
		desc    string
		creator string
	)
	cmd := &cobra.Command{
		Use:   "register <source|datatype|fileformat> [name]",
		Short: "Register a dataset source, data type or file format (or list them)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			reg, err := store.ParseRegistry(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			// 只给登记表名时列出已有条目
			if len(args) == 1 {
				entries, err := DC.Catalog.Registered(cmd.Context(), reg)
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(out, "%-20s %s\n", e.Name, e.Description)
				}
				return nil
			}

			entry := store.Registration{Name: args[1], Description: desc, Creator: creator}
			if err := DC.Catalog.Register(cmd.Context(), reg, entry); err != nil {
				return err
			}
			fmt.Fprintf(out, "✅ registered %s %s\n", reg, entry.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&desc, "desc", "", "description")
	cmd.Flags().StringVar(&creator, "creator", "", "creator")
	return cmd
}
