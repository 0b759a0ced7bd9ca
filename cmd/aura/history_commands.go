package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"aura/internal/manifest"
	"aura/internal/notifications"
	"aura/internal/store"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Review archived transcription sessions",
	}

	historyCmd.AddCommand(newHistoryListCommand(ctx))
	historyCmd.AddCommand(newHistoryShowCommand(ctx))
	historyCmd.AddCommand(newHistoryDeleteCommand(ctx))

	return historyCmd
}

func newHistoryListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				sessions, err := a.history.List(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSONList(cmd, sessions)
				}
				if len(sessions) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No archived sessions")
					return nil
				}
				rows := make([][]string, 0, len(sessions))
				for _, s := range sessions {
					rows = append(rows, []string{
						shortID(s.ID),
						formatCreated(s.CreatedAt),
						s.Provider,
						displayStatus(s.Status),
						strconv.Itoa(s.Processed),
						strconv.Itoa(s.Skipped),
						strconv.Itoa(s.Failed),
						notifications.FormatDuration(s.DurationSeconds),
					})
				}
				writeTable(cmd.OutOrStdout(), tableSpec{
					Headers: []string{"ID", "Created", "Provider", "Status", "Done", "Skipped", "Failed", "Duration"},
					Rows:    rows,
					Aligns:  []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
				})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Show one archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				session, err := findSession(cmd, a, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, session)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintf(out, "Session %s\n", session.ID)
				fmt.Fprintln(out, renderStatusLine("Status", sessionStatusKind(session), fmt.Sprintf("exit %d", session.ExitCode), colorize))
				fmt.Fprintln(out, renderStatusLine("Provider", statusInfo, session.Provider+" / "+session.Model, colorize))
				fmt.Fprintln(out, renderStatusLine("Output", statusInfo, session.OutputDir, colorize))
				if session.ManifestPath != "" {
					if logPath := manifest.LogPath(session.ManifestPath); fileExists(logPath) {
						fmt.Fprintln(out, renderStatusLine("Log", statusInfo, logPath, colorize))
					}
				}
				fmt.Fprintln(out, renderStatusLine("Files", statusInfo, fmt.Sprintf("%d processed, %d skipped, %d failed of %d",
					session.Processed, session.Skipped, session.Failed, session.Total), colorize))
				fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, notifications.FormatDuration(session.DurationSeconds), colorize))

				rows := make([][]string, 0, len(session.Files))
				for _, f := range session.Files {
					detail := baseName(firstNonEmpty(f.TranscriptPath, f.JSONPath))
					if f.Error != "" {
						detail = truncate(f.Error, 60)
					}
					rows = append(rows, []string{f.Name, displayStatus(f.Status), detail})
				}
				if len(rows) > 0 {
					writeTable(out, tableSpec{Headers: []string{"File", "Status", "Transcript"}, Rows: rows})
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newHistoryDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session>",
		Short: "Delete an archived session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				session, err := findSession(cmd, a, args[0])
				if err != nil {
					return err
				}
				if err := a.history.Delete(cmd.Context(), session.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", session.ID)
				return nil
			})
		},
	}
}

// findSession accepts a full session id or a unique prefix.
func findSession(cmd *cobra.Command, a *app, ref string) (store.Session, error) {
	session, err := a.history.Get(cmd.Context(), ref)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, store.ErrSessionNotFound) {
		return store.Session{}, err
	}
	sessions, err := a.history.List(cmd.Context())
	if err != nil {
		return store.Session{}, err
	}
	var match string
	for _, s := range sessions {
		if len(ref) > 0 && len(s.ID) >= len(ref) && s.ID[:len(ref)] == ref {
			if match != "" {
				return store.Session{}, fmt.Errorf("session reference %q is ambiguous", ref)
			}
			match = s.ID
		}
	}
	if match == "" {
		return store.Session{}, fmt.Errorf("%w: %s", store.ErrSessionNotFound, ref)
	}
	return a.history.Get(cmd.Context(), match)
}

func sessionStatusKind(s store.Session) statusKind {
	switch {
	case s.Status == "failed":
		return statusError
	case s.Status == "cancelled" || s.Failed > 0:
		return statusWarn
	default:
		return statusOK
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
