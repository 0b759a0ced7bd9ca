package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"aura/internal/queue"
	"aura/internal/watch"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var recursive bool
	var delay int

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Queue audio files as they appear in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				a.serveMetrics(sigCtx)

				out := cmd.OutOrStdout()
				opts := []watch.Option{
					watch.WithRecursive(recursive),
					watch.OnAdded(func(it queue.Item) {
						fmt.Fprintf(out, "Queued %s\n", it.Path)
					}),
				}
				if delay > 0 {
					opts = append(opts, watch.WithDelay(msDuration(delay)))
				}
				w, err := watch.New(args[0], a.scanner, a.engine, a.logger, opts...)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", args[0])
				if err := w.Run(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Watch subdirectories")
	cmd.Flags().IntVar(&delay, "delay-ms", 0, "Quiet period before a new file is scanned")
	return cmd
}
