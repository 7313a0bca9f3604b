package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tagbatch/tagbatch/internal/tui"
)

func newHistoryCmd(a *app) *cobra.Command {
	var failures string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded batches or the failure log of one batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.openStore(ctx, true); err != nil {
				return err
			}
			defer a.closeStore()

			if failures != "" {
				if _, err := a.store.GetBatch(ctx, failures); err != nil {
					return err
				}
				list, err := a.store.ListFailures(ctx, failures)
				if err != nil {
					return err
				}
				fmt.Fprint(a.out, tui.FailureList(list))
				return nil
			}

			batches, err := a.store.ListBatches(ctx, limit)
			if err != nil {
				return err
			}
			if len(batches) == 0 {
				fmt.Fprintln(a.out, "No batches recorded")
				return nil
			}
			fmt.Fprintln(a.out, tui.HistoryTable(batches))
			return nil
		},
	}

	cmd.Flags().StringVar(&failures, "failures", "", "show the failure log of batch `ID`")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of batches to list (0 for all)")
	return cmd
}
