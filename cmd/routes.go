package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"tagbridge/pkg/ui"

	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the validated route table",
	Long:  "Loads config.json, builds every route exactly as the bridge would, and prints them in evaluation order. Nothing is sent to Telegram or Notion.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}

		table, err := buildRoutes(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderRoutes(table.Routes()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(routesCmd)
}
