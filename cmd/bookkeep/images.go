package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newImagesCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Manage the local receipt image cache",
	}

	fetch := &cobra.Command{
		Use:   "fetch NAME...",
		Short: "Download attachments into the cache and print their local URLs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.app.Gate.Offline(cmd.Context()) {
				return fmt.Errorf("offline mode is on")
			}
			failed := s.app.Images.CacheImages(cmd.Context(), args)
			w := cmd.OutOrStdout()
			for _, name := range args {
				if s.app.Images.IsImageCached(name) {
					fmt.Fprintf(w, "%s\t%s\n", name, s.app.Images.ImageURL(name))
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d images failed: %v", len(failed), len(args), failed)
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear [NAME...]",
		Short: "Evict the named images, or everything when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				if err := s.app.Images.Clear(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "image cache cleared")
				return nil
			}
			for _, name := range args {
				if err := s.app.Images.ClearCache(name); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "evicted %d images\n", len(args))
			return nil
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show the in-memory image layer counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := s.app.Images.MemoryStats()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "items\t%d\n", st.Items)
			fmt.Fprintf(w, "bytes\t%d\n", st.Cost)
			fmt.Fprintf(w, "hits\t%d\n", st.Hits)
			fmt.Fprintf(w, "misses\t%d\n", st.Misses)
			fmt.Fprintf(w, "evictions\t%d\n", st.Evictions)
			return nil
		},
	}

	cmd.AddCommand(fetch, clearCmd, stats)
	return cmd
}
