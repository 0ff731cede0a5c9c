package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"bookkeep/internal/core"
	"bookkeep/internal/remote"
)

func newTaxonomyCmd(s *session) *cobra.Command {
	var (
		dimension string
		flow      string
		cached    bool
		current   string
	)
	key := func() (remote.TaxonomyKey, error) {
		d, err := core.ParseDimension(dimension)
		if err != nil {
			return remote.TaxonomyKey{}, err
		}
		var scope core.FlowType
		if d.Scoped() {
			if scope, err = core.ParseFlowType(flow); err != nil {
				return remote.TaxonomyKey{}, err
			}
		}
		return remote.NewTaxonomyKey(d, scope), nil
	}

	cmd := &cobra.Command{
		Use:   "taxonomy",
		Short: "List and extend category, payment method and attribution values",
	}
	cmd.PersistentFlags().StringVar(&dimension, "dimension", string(core.DimensionCategory), "category, paymentMethod or attribution")
	cmd.PersistentFlags().StringVar(&flow, "flow", string(core.Expense), "flow type scoping categories")

	list := &cobra.Command{
		Use:   "list",
		Short: "Print the values for one dimension",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := key()
			if err != nil {
				return err
			}
			var values []string
			switch {
			case current != "":
				values = s.app.Taxonomy.WorkingList(k, current)
			case cached:
				values = s.app.Taxonomy.Cached(k)
			default:
				values = s.app.Taxonomy.Get(cmd.Context(), s.cfg.BookID, k)
			}
			for _, v := range values {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&cached, "cached", false, "skip the server and print the local list")
	list.Flags().StringVar(&current, "current", "", "value of the record being edited, shown first")

	add := &cobra.Command{
		Use:   "add VALUE",
		Short: "Add a custom value at the front of the list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := key()
			if err != nil {
				return err
			}
			if err := s.app.Taxonomy.AddCustomOption(cmd.Context(), k, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %q to %s\n", args[0], k)
			return nil
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh",
		Short: "Merge the server's values for every dimension now",
		RunE: func(cmd *cobra.Command, args []string) error {
			s.app.Refresher.RefreshNow(cmd.Context())
			last, err := s.app.Refresher.LastRefresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "refreshed at %s\n", last.Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.AddCommand(list, add, refresh)
	return cmd
}
