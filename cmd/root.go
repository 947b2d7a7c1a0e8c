package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealer-sync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "dealer-sync",
	Short: "Dealership customer import and WhatsApp verification",
	Long:  "Imports dealership customer spreadsheets into the customer store, merging vehicle history by phone, and checks which phones are reachable on WhatsApp.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if driver, _ := cmd.Flags().GetString("store"); driver != "" {
			cfg.Store.Driver = driver
		}
		if dsn, _ := cmd.Flags().GetString("database-url"); dsn != "" {
			cfg.Store.DatabaseURL = dsn
		}

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("store", "", "store driver: postgres or sqlite (default from config)")
	rootCmd.PersistentFlags().String("database-url", "", "store DSN or sqlite file path (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
