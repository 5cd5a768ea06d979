package cmd

import (
	"errors"
	"fmt"

	"tagbridge/pkg/config"
	"tagbridge/pkg/cursor"
	"tagbridge/pkg/ui"

	"github.com/spf13/cobra"
)

var cursorSource string

var cursorCmd = &cobra.Command{
	Use:   "cursor",
	Short: "Inspect or reset the persisted poll cursor",
}

var cursorShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored cursor",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := cursorStoreFromConfig()
		if err != nil {
			return err
		}
		defer store.Close()

		value, ok, err := store.Load(cmd.Context(), cursorSource)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderCursor(cursorSource, value, ok))
		return nil
	},
}

var cursorResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the stored cursor",
	Long:  "Deletes the stored cursor. The next run starts from 0 and Telegram redelivers every update it still retains.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		store, err := cursorStoreFromConfig()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Reset(cmd.Context(), cursorSource); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "cursor for %s reset\n", cursorSource)
		return nil
	},
}

func init() {
	cursorCmd.PersistentFlags().StringVar(&cursorSource, "source", "telegram", "source whose cursor to operate on")
	cursorCmd.AddCommand(cursorShowCmd, cursorResetCmd)
	rootCmd.AddCommand(cursorCmd)
}

// cursorStoreFromConfig needs only poller.cursor_store, so credentials are not validated.
func cursorStoreFromConfig() (*cursor.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := openCursorStore(cfg.Poller)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("poller.cursor_store is not configured")
	}
	return store, nil
}
