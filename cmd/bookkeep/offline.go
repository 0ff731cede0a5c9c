package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOfflineCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "offline",
		Short: "Toggle offline mode; saves are queued locally while it is on",
	}

	set := func(on bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if err := s.app.Gate.SetOffline(cmd.Context(), on); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "offline mode %s\n", onOff(on))
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{Use: "on", Short: "Stop all remote calls", Args: cobra.NoArgs, RunE: set(true)},
		&cobra.Command{Use: "off", Short: "Resume remote calls", Args: cobra.NoArgs, RunE: set(false)},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current mode",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "offline mode %s\n", onOff(s.app.Gate.Offline(cmd.Context())))
				return nil
			},
		},
	)
	return cmd
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
