package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/wavescope/internal/render"
)

var renderersCmd = &cobra.Command{
	Use:   "renderers",
	Short: "List available visualization renderers",
	RunE: func(cmd *cobra.Command, args []string) error {
		names := render.Names()
		if len(names) == 0 {
			fmt.Println("No renderers registered")
			return nil
		}
		for _, name := range names {
			marker := " "
			if name == cfg.Renderer.Name {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return nil
	},
}
