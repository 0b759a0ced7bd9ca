package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aura/internal/providers"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Check transcription providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				list := a.registry.Discover(cmd.Context())
				if asJSON {
					return writeJSONList(cmd, list)
				}
				rows := make([][]string, 0, len(list))
				for _, p := range list {
					rows = append(rows, []string{p.ID, p.Name, string(p.Runtime.Type), yesNo(p.Available), providerModels(p)})
				}
				out := cmd.OutOrStdout()
				writeTable(out, tableSpec{Headers: []string{"ID", "Name", "Runtime", "Available", "Models"}, Rows: rows})
				for _, p := range list {
					if !p.Available && p.InstallInstructions != "" {
						fmt.Fprintf(out, "%s: %s\n", p.ID, p.InstallInstructions)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func providerModels(p providers.Provider) string {
	if p.Capabilities == nil || len(p.Capabilities.SupportedModels) == 0 {
		return "-"
	}
	return strings.Join(p.Capabilities.SupportedModels, ", ")
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "resolve <provider> <model>",
		Short: "Show the worker command a run would launch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withApp(cmd, func(a *app) error {
				rt, err := a.registry.Resolve(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, rt)
				}
				launch, err := rt.LaunchCommand("<manifest>", a.cfg.Paths.OutputDir)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Runtime:      %s\n", rt.Type)
				fmt.Fprintf(out, "Launch:       %s\n", launch)
				fmt.Fprintf(out, "Capabilities: %s\n", rt.CapabilitiesCommand())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
