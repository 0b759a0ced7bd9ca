package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"aura/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the transcription queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCompletedCommand(ctx))
	queueCmd.AddCommand(newQueueMoveCommand(ctx))
	queueCmd.AddCommand(newQueueSelectCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := parseStatuses(statuses)
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app) error {
				items := a.engine.Items()
				if len(filter) > 0 {
					items = slices.DeleteFunc(items, func(it queue.Item) bool {
						return !slices.Contains(filter, it.Status)
					})
				}
				if asJSON {
					return writeJSONList(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				writeTable(cmd.OutOrStdout(), tableSpec{
					Headers: []string{"#", "ID", "Name", "Status", "Progress", "Duration", "Size"},
					Rows:    buildQueueListRows(items, a.engine.Selection()),
					Aligns:  []columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
					Footer:  queueListFooter(items),
				})
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (idle, queued, processing, completed, error)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func buildQueueListRows(items []queue.Item, selected []string) [][]string {
	rows := make([][]string, 0, len(items))
	for i, it := range items {
		name := it.Name
		if it.RelativePath != "" {
			name = it.RelativePath
		}
		if slices.Contains(selected, it.ID) {
			name = "* " + name
		}
		status := displayStatus(string(it.Status))
		if it.Status == queue.StatusError && it.Error != "" {
			status = fmt.Sprintf("%s: %s", status, truncate(it.Error, 40))
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			shortID(it.ID),
			name,
			status,
			fmt.Sprintf("%d%%", it.Progress),
			formatDuration(it.Duration),
			formatBytes(it.Size),
		})
	}
	return rows
}

func queueListFooter(items []queue.Item) []string {
	var seconds float64
	var size int64
	for _, it := range items {
		if it.Duration != nil {
			seconds += *it.Duration
		}
		size += it.Size
	}
	return []string{"", "", fmt.Sprintf("%d item(s)", len(items)), "", "", formatDuration(&seconds), formatBytes(size)}
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				counts := a.engine.CountByStatus()
				rows := make([][]string, 0, len(counts))
				for _, status := range queue.AllStatuses() {
					if n := counts[status]; n > 0 {
						rows = append(rows, []string{displayStatus(string(status)), strconv.Itoa(n)})
					}
				}
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				total := a.engine.TotalDuration()
				writeTable(cmd.OutOrStdout(), tableSpec{
					Headers: []string{"Status", "Count"},
					Rows:    rows,
					Aligns:  []columnAlignment{alignLeft, alignRight},
				})
				fmt.Fprintf(cmd.OutOrStdout(), "Total audio: %s\n", formatDuration(&total))
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <item>...",
		Short: "Remove items by id or queue position",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				ids, err := resolveItemRefs(a.engine.Items(), args)
				if err != nil {
					return err
				}
				removed := a.engine.RemoveItems(ids...)
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d item(s)\n", removed)
				return nil
			})
		},
	}
}

func newQueueClearCompletedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Remove completed items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				removed := a.engine.ClearCompleted()
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d completed item(s)\n", removed)
				return nil
			})
		},
	}
}

func newQueueMoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "move <from> <to>",
		Short: "Move an item to another queue position (1-based)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parsePosition(args[0])
			if err != nil {
				return err
			}
			to, err := parsePosition(args[1])
			if err != nil {
				return err
			}
			return ctx.withApp(cmd, func(a *app) error {
				if !a.engine.Reorder(from-1, to-1) {
					return fmt.Errorf("cannot move item %d to %d: queue has %d item(s)", from, to, len(a.engine.Items()))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Moved item %d to position %d\n", from, to)
				return nil
			})
		},
	}
}

func newQueueSelectCommand(ctx *commandContext) *cobra.Command {
	var clear bool

	cmd := &cobra.Command{
		Use:   "select [item...]",
		Short: "Select the items the next run transcribes",
		Long: "Select the items `aura run --selected` transcribes.\n\n" +
			"The queue engine forgets its selection on every restart. The CLI saves the " +
			"selection between invocations as a convenience; it is not engine state, and " +
			"items removed from the queue drop out of it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !clear && len(args) == 0 {
				return errors.New("pass items to select or --clear")
			}
			return ctx.withApp(cmd, func(a *app) error {
				if clear {
					a.engine.SetSelection()
					fmt.Fprintln(cmd.OutOrStdout(), "Selection cleared")
					return nil
				}
				ids, err := resolveItemRefs(a.engine.Items(), args)
				if err != nil {
					return err
				}
				a.engine.SetSelection(ids...)
				fmt.Fprintf(cmd.OutOrStdout(), "Selected %d item(s)\n", len(a.engine.Selection()))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "Clear the selection")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item...]",
		Short: "Reset failed items to idle (all failed items when none are given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				items := a.engine.Items()
				var ids []string
				if len(args) > 0 {
					resolved, err := resolveItemRefs(items, args)
					if err != nil {
						return err
					}
					ids = resolved
				} else {
					for _, it := range items {
						if it.Status == queue.StatusError {
							ids = append(ids, it.ID)
						}
					}
				}
				idle := queue.StatusIdle
				empty := ""
				zero := 0
				reset := 0
				for _, id := range ids {
					it, ok := a.engine.ItemByID(id)
					if !ok || it.Status != queue.StatusError {
						continue
					}
					if a.engine.UpdateItem(id, queue.Patch{Status: &idle, Error: &empty, Progress: &zero}) {
						reset++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d failed item(s)\n", reset)
				return nil
			})
		},
	}
}

// resolveItemRefs maps item ids, unique id prefixes, or 1-based queue
// positions to item ids.
func resolveItemRefs(items []queue.Item, refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if pos, err := strconv.Atoi(ref); err == nil {
			if pos < 1 || pos > len(items) {
				return nil, fmt.Errorf("queue position %d out of range (1-%d)", pos, len(items))
			}
			ids = append(ids, items[pos-1].ID)
			continue
		}
		var match string
		for _, it := range items {
			if it.ID == ref {
				match = it.ID
				break
			}
			if strings.HasPrefix(it.ID, ref) {
				if match != "" {
					return nil, fmt.Errorf("item reference %q is ambiguous", ref)
				}
				match = it.ID
			}
		}
		if match == "" {
			return nil, fmt.Errorf("no queue item matches %q", ref)
		}
		ids = append(ids, match)
	}
	return ids, nil
}

func parseStatuses(values []string) ([]queue.Status, error) {
	var out []queue.Status
	for _, v := range values {
		status := queue.Status(strings.ToLower(strings.TrimSpace(v)))
		if !status.Valid() {
			return nil, fmt.Errorf("unknown status %q", v)
		}
		out = append(out, status)
	}
	return out, nil
}

func parsePosition(value string) (int, error) {
	pos, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || pos < 1 {
		return 0, fmt.Errorf("invalid queue position %q", value)
	}
	return pos, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func baseName(path string) string {
	if path == "" {
		return "-"
	}
	return filepath.Base(path)
}
