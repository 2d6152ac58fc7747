package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-oakview/pkg/device"
)

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the built-in model presets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRESET\tFILE\tINPUT")
			presets := device.Presets()
			for _, name := range device.PresetNames() {
				m := presets[name]
				fmt.Fprintf(w, "%s\t%s\t%s\n", name, m.Path, m.Resolution())
			}
			return w.Flush()
		},
	}
}
