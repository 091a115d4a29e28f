package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ashureev/medprofile/internal/domain"
	"github.com/spf13/cobra"
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Print progress to resume, from the server or the local backup",
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

			p := s.saver.LoadIncomplete(cmd.Context())
			if p == nil {
				writeLine(cmd.OutOrStdout(), "Nothing to resume for %s", kind)
				return nil
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
	addKindFlag(cmd)
	return cmd
}

func newSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Save progress read from a JSON file (- for stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			p, err := readProgress(cmd)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, kind)
			if err != nil {
				return err
			}
			defer s.Close()

			// Pick up the record being resumed so the save updates it.
			if p.RecordID == "" {
				if resumed := s.saver.LoadIncomplete(cmd.Context()); resumed != nil {
					p.RecordID = resumed.RecordID
				}
			}
			saveErr := s.saver.SaveImmediately(cmd.Context(), p)
			writeLine(cmd.OutOrStdout(), "%s", s.saver.State().Label())
			if state := s.saver.State(); state.RemoteRecordID != "" {
				writeLine(cmd.OutOrStdout(), "Record: %s", state.RemoteRecordID)
			}
			return saveErr
		},
	}
	addKindFlag(cmd)
	cmd.Flags().StringP("file", "f", "-", "Progress JSON file")
	return cmd
}

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Save final results and mark the assessment complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := kindFlag(cmd)
			if err != nil {
				return err
			}
			p, err := readProgress(cmd)
			if err != nil {
				return err
			}
			s, err := openSession(cmd, kind)
			if err != nil {
				return err
			}
			defer s.Close()

			if p.RecordID == "" {
				if resumed := s.saver.LoadIncomplete(cmd.Context()); resumed != nil {
					p.RecordID = resumed.RecordID
				}
			}
			out := cmd.OutOrStdout()
			err = s.saver.SaveFinalResults(cmd.Context(), p, func() {
				writeLine(out, "Assessment finished")
			})
			if err != nil {
				writeLine(out, "Results were kept in the local backup")
				return err
			}
			writeLine(out, "Results submitted")
			return nil
		},
	}
	addKindFlag(cmd)
	cmd.Flags().StringP("file", "f", "-", "Progress JSON file")
	return cmd
}

func readProgress(cmd *cobra.Command) (domain.AssessmentProgress, error) {
	var p domain.AssessmentProgress
	path, _ := cmd.Flags().GetString("file")

	var r io.Reader
	if path == "-" || path == "" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return p, fmt.Errorf("open progress file: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	if err := json.NewDecoder(r).Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return p, errors.New("progress JSON is empty")
		}
		return p, fmt.Errorf("decode progress: %w", err)
	}
	return p, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
