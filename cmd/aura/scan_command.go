package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aura/internal/queue"
	"aura/internal/scan"
)

func newScanCommand(ctx *commandContext) *cobra.Command {
	var dir string
	var recursive bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "scan [files...]",
		Short: "Add audio files or a directory to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir = strings.TrimSpace(dir)
			if dir == "" && len(args) == 0 {
				return errors.New("pass audio files or --dir")
			}
			if dir != "" && len(args) > 0 {
				return errors.New("use either files or --dir, not both")
			}
			return ctx.withApp(cmd, func(a *app) error {
				var (
					items []queue.Item
					err   error
				)
				if dir != "" {
					progress := func(p scan.Progress) {
						if !quiet {
							fmt.Fprintf(cmd.ErrOrStderr(), "\rScanning: %d found, %d checked", p.Found, p.Scanned)
						}
					}
					items, err = a.scanner.Directory(cmd.Context(), dir, recursive, progress)
					if !quiet {
						fmt.Fprintln(cmd.ErrOrStderr())
					}
				} else {
					items, err = a.scanner.Files(cmd.Context(), args)
				}
				if err != nil {
					return err
				}
				added := a.engine.AddItems(items...)
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Added %d file(s) to the queue", added)
				if dup := len(items) - added; dup > 0 {
					fmt.Fprintf(out, " (%d already queued)", dup)
				}
				fmt.Fprintln(out)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory to scan for audio files")
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Descend into subdirectories")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress scan progress")
	return cmd
}
