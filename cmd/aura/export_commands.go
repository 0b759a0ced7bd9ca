package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"aura/internal/export"
	"aura/internal/queue"
	"aura/internal/store"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var (
		dest              string
		format            string
		naming            string
		noMetadata        bool
		preserveStructure bool
		sessionRef        string
	)

	cmd := &cobra.Command{
		Use:   "export [item...]",
		Short: "Export completed transcripts as a zip archive or folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			n, err := export.ParseNaming(naming)
			if err != nil {
				return err
			}
			opts := export.Options{
				Format:            f,
				Naming:            n,
				IncludeMetadata:   !noMetadata,
				PreserveStructure: preserveStructure,
			}
			return ctx.withApp(cmd, func(a *app) error {
				var items []queue.Item
				if strings.TrimSpace(sessionRef) != "" {
					session, err := findSession(cmd, a, sessionRef)
					if err != nil {
						return err
					}
					items = itemsFromSession(session)
				} else {
					items = a.engine.Items()
					if len(args) > 0 {
						ids, err := resolveItemRefs(items, args)
						if err != nil {
							return err
						}
						items = pickItems(items, ids)
					}
				}

				target := strings.TrimSpace(dest)
				if target == "" {
					target = defaultExportPath(a.cfg.Paths.OutputDir, opts.Format)
				}
				written, err := export.Export(items, target, opts)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Exported transcripts to %s\n", written)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&dest, "dest", "d", "", "Destination zip file or folder")
	cmd.Flags().StringVar(&format, "format", string(export.FormatZip), "Export format: zip or folder")
	cmd.Flags().StringVar(&naming, "naming", string(export.NamingPreserve), "File naming: preserve, timestamp, or numbered")
	cmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "Skip metadata.json")
	cmd.Flags().BoolVar(&preserveStructure, "preserve-structure", false, "Keep the source folder layout")
	cmd.Flags().StringVar(&sessionRef, "session", "", "Export an archived session instead of the queue")
	return cmd
}

func newTranscriptCommand() *cobra.Command {
	var copyTo string

	cmd := &cobra.Command{
		Use:         "transcript <path>",
		Short:       "Print a transcript file, or copy it with --copy-to",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(copyTo) != "" {
				if err := export.CopyTranscript(args[0], copyTo); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Copied transcript to %s\n", copyTo)
				return nil
			}
			text, err := export.ReadTranscript(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			if !strings.HasSuffix(text, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&copyTo, "copy-to", "", "Copy the transcript to this path")
	return cmd
}

func pickItems(items []queue.Item, ids []string) []queue.Item {
	byID := make(map[string]queue.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	out := make([]queue.Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := byID[id]; ok {
			out = append(out, it)
		}
	}
	return out
}

// itemsFromSession maps archived files onto queue items so export can treat
// them like the live queue. Only successful files count as completed.
func itemsFromSession(s store.Session) []queue.Item {
	items := make([]queue.Item, 0, len(s.Files))
	for _, f := range s.Files {
		status := queue.StatusIdle
		switch f.Status {
		case queue.OutcomeSuccess:
			status = queue.StatusCompleted
		case queue.OutcomeFailed:
			status = queue.StatusError
		}
		items = append(items, queue.Item{
			ID:             f.ID,
			Path:           f.Path,
			Name:           f.Name,
			Status:         status,
			Progress:       100,
			TranscriptPath: f.TranscriptPath,
			JSONPath:       f.JSONPath,
			Error:          f.Error,
		})
	}
	return items
}

func defaultExportPath(outputDir string, format export.Format) string {
	name := "aura-transcripts-" + time.Now().UTC().Format("20060102-150405")
	if format == export.FormatZip {
		name += ".zip"
	}
	return filepath.Join(outputDir, name)
}
