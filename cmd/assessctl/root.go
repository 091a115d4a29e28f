package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/medprofile/internal/autosave"
	"github.com/ashureev/medprofile/internal/domain"
	"github.com/ashureev/medprofile/internal/identity"
	"github.com/ashureev/medprofile/internal/localstore"
	"github.com/ashureev/medprofile/internal/remote"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const (
	envServer   = "MEDPROFILE_SERVER"
	envUser     = "MEDPROFILE_USER"
	envBackupDB = "MEDPROFILE_BACKUP_DB"

	defaultServer = "http://localhost:8080"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "assessctl",
		Short:         "Save and resume assessment progress",
		Long:          "assessctl saves assessment progress to a medprofile server, keeping a local backup for when the server cannot be reached.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("server", "", "Server base URL (overrides "+envServer+")")
	root.PersistentFlags().String("user", "", "User ID to act as (overrides "+envUser+")")
	root.PersistentFlags().String("backup-db", "", "Path to the local backup database (overrides "+envBackupDB+")")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log auto-save activity to stderr")

	root.AddCommand(newResumeCmd())
	root.AddCommand(newSaveCmd())
	root.AddCommand(newSubmitCmd())
	root.AddCommand(newHistoryCmd())
	root.AddCommand(newBackupCmd())
	root.AddCommand(newWatchCmd())
	return root
}

// resolve returns the flag value, then the environment variable, then
// fallback.
func resolve(cmd *cobra.Command, flag, env, fallback string) string {
	if v, _ := cmd.Flags().GetString(flag); v != "" {
		return v
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

func resolveBackupPath(cmd *cobra.Command) (string, error) {
	if p := resolve(cmd, "backup-db", envBackupDB, ""); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config directory: %w", err)
	}
	return filepath.Join(dir, "medprofile", "backup.db"), nil
}

func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelError
	if v, _ := cmd.Flags().GetBool("verbose"); v {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

// session bundles everything a command needs to act on one assessment kind.
type session struct {
	user   domain.Identity
	client *remote.Client
	kv     *localstore.SQLite
	saver  *autosave.Saver
	logger *slog.Logger
}

func (s *session) Close() {
	if s.saver != nil {
		s.saver.Close()
	}
	if err := s.kv.Close(); err != nil {
		s.logger.Warn("Failed to close backup database", "error", err)
	}
}

// openSession wires the remote client and local backup. kind may be empty
// for commands that do not save.
func openSession(cmd *cobra.Command, kind domain.AssessmentKind) (*session, error) {
	logger := newLogger(cmd)
	user := domain.Identity{UserID: resolve(cmd, "user", envUser, "")}
	if !user.IsZero() && !identity.ValidUserID(user.UserID) {
		return nil, fmt.Errorf("invalid user id %q: expected the user_id issued by GET /api/me", user.UserID)
	}

	client, err := remote.New(resolve(cmd, "server", envServer, defaultServer), user,
		remote.WithSessionID("cli-"+uuid.NewString()[:8]))
	if err != nil {
		return nil, err
	}

	path, err := resolveBackupPath(cmd)
	if err != nil {
		return nil, err
	}
	kv, err := localstore.OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	s := &session{user: user, client: client, kv: kv, logger: logger}
	if kind != "" {
		s.saver = autosave.New(autosave.DefaultConfig(), client, kv, user, kind, autosave.WithLogger(logger))
	}
	return s, nil
}

func kindFlag(cmd *cobra.Command) (domain.AssessmentKind, error) {
	v, _ := cmd.Flags().GetString("kind")
	return domain.ParseKind(v)
}

func addKindFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("kind", "k", string(domain.KindComplete), "Assessment kind (disc, soft_skills, sjt, complete)")
}

func writeLine(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}
