package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOutboxCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and replay saves queued while offline",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Count queued saves per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.app.Outbox.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "pending\t%d\n", st.Pending)
			fmt.Fprintf(w, "processing\t%d\n", st.Processing)
			fmt.Fprintf(w, "completed\t%d\n", st.Completed)
			fmt.Fprintf(w, "failed\t%d\n", st.Failed)
			return nil
		},
	}

	retry := &cobra.Command{
		Use:   "retry",
		Short: "Re-queue saves that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := s.app.Outbox.RetryFailed(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "re-queued %d\n", n)
			return nil
		},
	}

	flush := &cobra.Command{
		Use:   "flush",
		Short: "Replay one batch of queued saves now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.app.Gate.Offline(cmd.Context()) {
				return fmt.Errorf("offline mode is on")
			}
			n := s.app.Outbox.ProcessOnce(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "replayed %d\n", n)
			return nil
		},
	}

	cmd.AddCommand(stats, retry, flush)
	return cmd
}
