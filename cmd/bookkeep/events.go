package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"bookkeep/internal/amqp"
)

func newEventsCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow record.synced events on the broker",
	}
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Print record.synced events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if s.cfg.AMQPURL == "" {
				return fmt.Errorf("AMQP_URL is not set")
			}
			client, err := amqp.NewClient(s.cfg.AMQPURL, s.cfg.AMQPExchange, s.cfg.AMQPRoutingKey)
			if err != nil {
				return err
			}
			defer client.Close()

			w := cmd.OutOrStdout()
			err = client.ConsumeRecordSynced(cmd.Context(), func(m *amqp.RecordSyncedMessage) error {
				_, err := fmt.Fprintf(w, "%s\tbook=%d record=%d created=%t uploaded=%d deleted=%d failed=%d\n",
					m.Timestamp.Format("2006-01-02 15:04:05"), m.BookID, m.RecordID, m.Created, m.Uploaded, m.Deleted, m.Failed)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.AddCommand(watch)
	return cmd
}
