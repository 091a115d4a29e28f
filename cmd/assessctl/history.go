package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/ashureev/medprofile/internal/domain"
	"github.com/ashureev/medprofile/internal/events"
	"github.com/ashureev/medprofile/internal/remote"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List assessments stored on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := remote.HistoryFilter{}
			if v, _ := cmd.Flags().GetString("kind"); v != "" {
				kind, err := domain.ParseKind(v)
				if err != nil {
					return err
				}
				filter.Kind = kind
			}
			if v, _ := cmd.Flags().GetString("status"); v != "" {
				filter.Status = domain.RecordStatus(v)
			}
			filter.Limit, _ = cmd.Flags().GetInt("limit")

			s, err := openSession(cmd, "")
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.client.History(cmd.Context(), filter)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				writeLine(cmd.OutOrStdout(), "No assessments")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSTATUS\tSTEP\tUPDATED")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					r.ID, r.Kind, r.Status, r.Progress.Scratch.Step, r.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringP("kind", "k", "", "Only this assessment kind")
	cmd.Flags().String("status", "", "Only this status (in_progress, completed, abandoned)")
	cmd.Flags().Int("limit", 20, "Maximum number of records")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream record changes made from other devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, "")
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			return s.client.Watch(cmd.Context(), func(ev events.Event) {
				writeLine(out, "%s  %-9s %-12s %s (%s)",
					ev.At.Local().Format(time.TimeOnly), ev.Type, ev.Kind, ev.RecordID, ev.Status)
			})
		},
	}
}
