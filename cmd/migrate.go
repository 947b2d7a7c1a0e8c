package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context(), "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
