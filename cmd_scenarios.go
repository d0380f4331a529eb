package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/scenarios/internal/catalog"
)

func newScenariosCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenarios",
		Short: "List the scenario catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			jsonOut, _ := cmd.Flags().GetBool("json")

			cat, err := loadCatalog(path)
			if err != nil {
				return err
			}
			list := cat.List()

			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{"scenarios": list})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tEVENTS\tDURATION\tDESCRIPTION")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%d\t%gs\t%s\n", s.Name, s.EventCount, s.Duration, s.Description)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("file", "", "Scenario YAML file to load on top of the built-in catalog")
	return cmd
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if path == "" {
		return catalog.Builtin()
	}
	return catalog.Load(path)
}
