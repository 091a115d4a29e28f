package main

import (
	"strings"

	"github.com/ashureev/medprofile/internal/autosave"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Inspect the local backup",
	}
	cmd.AddCommand(newBackupShowCmd(), newBackupClearCmd(), newBackupListCmd())
	return cmd
}

func newBackupShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the local backup for a kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, kind)
			if err != nil {
				return err
			}
			defer s.Close()

			b := s.saver.Backup().Read()
			if b == nil {
				writeLine(cmd.OutOrStdout(), "No backup for %s", kind)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), b)
		},
	}
	addKindFlag(cmd)
	return cmd
}

func newBackupClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the local backup for a kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, kind)
			if err != nil {
				return err
			}
			defer s.Close()

			s.saver.Backup().Clear()
			writeLine(cmd.OutOrStdout(), "Cleared %s", s.saver.Backup().Key())
			return nil
		},
	}
	addKindFlag(cmd)
	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backup keys for every kind and user",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, "")
			if err != nil {
				return err
			}
			defer s.Close()

			keys, err := s.kv.Keys(autosave.BackupKeyPrefix + ":")
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				writeLine(cmd.OutOrStdout(), "No backups")
				return nil
			}
			writeLine(cmd.OutOrStdout(), "%s", strings.Join(keys, "\n"))
			return nil
		},
	}
}
