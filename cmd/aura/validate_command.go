package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"aura/internal/protocol"
)

func newValidateCommand() *cobra.Command {
	var strict bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:         "validate [file]",
		Short:       "Check a worker event stream (NDJSON) against the protocol",
		Long:        "Validate reads NDJSON worker events from a file, or stdin when no file or \"-\" is given.",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open event stream: %w", err)
				}
				defer f.Close()
				r = f
			}
			mode := protocol.Lenient
			if strict {
				mode = protocol.Strict
			}
			report, err := protocol.ValidateReader(r, mode)
			if err != nil {
				return fmt.Errorf("read event stream: %w", err)
			}
			if asJSON {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				for _, lerr := range report.Errors {
					fmt.Fprintln(out, lerr.Error())
				}
				fmt.Fprintf(out, "%d line(s) checked in %s mode, %d rejected\n", report.Lines, mode, len(report.Errors))
			}
			if !report.Valid {
				return &exitCodeError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Reject unknown events and require timestamps")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the report as JSON")
	return cmd
}
