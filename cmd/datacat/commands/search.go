package commands

import (
	"fmt"

	"datacat/pkg/catalog"

	"github.com/spf13/cobra"
)

func newSearchCmd() *cobra.Command {
	var (
		vf     viewFlags
		q      string
		sortBy []string
		show   []string
		offset int
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "search <target>...",
		Short: "Search datasets under one or more container patterns",
		Example: `  datacat search '/EXO/**' -q 'nRun > 6000 && quality == "good"' --sort nRun-
  datacat search /EXO/runs -q 'runMin >= 100' --show nRun`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if DC == nil {
				return errNoApp
			}
			view, err := vf.view()
			if err != nil {
				return err
			}
			// 指定 --show 时只打印这些元数据
			view.IncludeMetadata = view.IncludeMetadata && len(show) == 0

			stream, err := DC.Catalog.Search(cmd.Context(), catalog.SearchRequest{
				Targets: args,
				Query:   q,
				View:    view,
				Sort:    sortBy,
				Show:    show,
				Offset:  offset,
				Max:     limit,
			})
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}
			defer stream.Close()

			out := cmd.OutOrStdout()
			n := 0
			for stream.Next() {
				node := stream.Node()
				printNode(out, node)
				if v, ok := datasetVersion(node); ok && len(show) > 0 {
					printMetadata(out, v.Metadata, show...)
				}
				n++
			}
			if err := stream.Err(); err != nil {
				return err
			}
			fmt.Fprintf(out, "🔎 %d result(s)\n", n)
			return nil
		},
	}
	vf.register(cmd)
	cmd.Flags().StringVarP(&q, "query", "q", "", "filter expression")
	cmd.Flags().StringArrayVar(&sortBy, "sort", nil, "sort field, suffix - for descending (repeatable)")
	cmd.Flags().StringArrayVar(&show, "show", nil, "metadata name to print (repeatable)")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many results")
	cmd.Flags().IntVar(&limit, "max", 0, "page size (default search.max)")
	return cmd
}
