package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"aura/internal/config"
	"aura/internal/deps"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories and external binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			failed := false

			fmt.Fprintln(out, "Directories")
			for _, dir := range []struct{ label, path string }{
				{"State", cfg.Paths.StateDir},
				{"Sessions", cfg.Paths.SessionsDir},
				{"Output", cfg.Paths.OutputDir},
			} {
				if err := config.CheckWritable(dir.path); err != nil {
					kind := statusError
					if dir.label == "Output" {
						// Runs create the output directory on demand.
						kind = statusWarn
					} else {
						failed = true
					}
					fmt.Fprintln(out, renderStatusLine(dir.label, kind, err.Error(), colorize))
					continue
				}
				fmt.Fprintln(out, renderStatusLine(dir.label, statusOK, dir.path, colorize))
			}

			fmt.Fprintln(out, "Binaries")
			for _, status := range deps.CheckBinaries(deps.HostRequirements(cfg)) {
				fmt.Fprintln(out, renderDependency(status, colorize))
			}
			fmt.Fprintln(out, renderDependency(deps.CheckFFmpeg(cfg.Providers.FFprobeBinary), colorize))

			if failed {
				return &exitCodeError{code: 1}
			}
			return nil
		},
	}
}

func renderDependency(status deps.Status, colorize bool) string {
	if status.Available {
		return renderStatusLine(status.Name, statusOK, status.Command, colorize)
	}
	kind := statusError
	if status.Optional {
		kind = statusWarn
	}
	detail := status.Detail
	if status.Description != "" {
		detail = fmt.Sprintf("%s (%s)", detail, status.Description)
	}
	return renderStatusLine(status.Name, kind, detail, colorize)
}
