package main

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/xokuso/peluquerias-app-sub000/internal/funnel"
	"gopkg.in/yaml.v3"
)

var funnelsCmd = &cobra.Command{
	Use:   "funnels [file]",
	Short: "Validate a funnel definitions file and print the effective catalog",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		catalog, err := loadCatalog(path)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(map[string]any{"funnels": catalog.All()})
	},
}

// loadCatalog reads path, or returns the built-in definitions when path is empty.
func loadCatalog(path string) (*funnel.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return funnel.DefaultCatalog(), nil
	}
	return funnel.LoadFile(path)
}
