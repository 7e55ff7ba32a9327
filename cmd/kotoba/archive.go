package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bdobrica/Kotoba/internal/kotoba/archive"
	"github.com/bdobrica/Kotoba/internal/kotoba/store"
)

var archiveLimit int

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Query archived conversations",
}

var archiveHistoryCmd = &cobra.Command{
	Use:   "history <identity>",
	Short: "List the latest archived sessions of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveHistory,
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print an archived session with its messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runArchiveShow,
}

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveHistoryCmd)
	archiveCmd.AddCommand(archiveShowCmd)

	archiveHistoryCmd.Flags().IntVarP(&archiveLimit, "limit", "n", archive.DefaultHistoryLimit, "maximum number of sessions")
}

// openArchive opens the configured database. The caller closes the store.
func openArchive(cmd *cobra.Command) (*store.Store, *archive.SQLiteStore, error) {
	st, err := store.Open(cmd.Context(), holder.Load().Database.Path, logger)
	if err != nil {
		return nil, nil, err
	}
	return st, archive.NewSQLiteStore(st.DB(), logger), nil
}

func runArchiveHistory(cmd *cobra.Command, args []string) error {
	st, arc, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := arc.SessionHistory(cmd.Context(), args[0], archiveLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintf(out, "no archived sessions for %s\n", args[0])
		return nil
	}
	for _, s := range sessions {
		ended := "-"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(out, "%s  %s  %-22s %3d messages  ended %s\n",
			s.ID, s.StartedAt.Local().Format("2006-01-02 15:04"), s.EndReason, s.TotalMessages, ended)
	}
	return nil
}

func runArchiveShow(cmd *cobra.Command, args []string) error {
	st, arc, err := openArchive(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	detail, err := arc.SessionDetail(cmd.Context(), args[0])
	if errors.Is(err, archive.ErrNotFound) {
		return fmt.Errorf("no archived session %s", args[0])
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(detail)
}
