package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/dealer-sync/internal/model"
	"github.com/sells-group/dealer-sync/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check which customer phones are on WhatsApp",
	Long:  "Sends customer phones to the capability-check API in sequential batches and stores valid/invalid verdicts. Phones without a recognizable verdict keep their status.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "verify")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		phones, _ := cmd.Flags().GetStringSlice("phone")
		all, _ := cmd.Flags().GetBool("all")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")

		v := newVerifier(st, cfg, nil)
		sel := verify.Selection{
			Phones: phones,
			All:    all,
			Status: model.ParseWhatsAppStatus(status),
			Limit:  limit,
		}
		selected, err := v.Select(ctx, sel)
		if err != nil {
			return err
		}
		res := v.Verify(ctx, selected)

		if format == "" || format == "text" {
			formatVerifyResult(os.Stdout, len(selected), res)
			return nil
		}
		return writeStructured(os.Stdout, format, res)
	},
}

func init() {
	verifyCmd.Flags().String("status", string(model.WhatsAppUnknown), "verify phones with this status (valid, invalid, unknown)")
	verifyCmd.Flags().StringSlice("phone", nil, "explicit phone(s) to verify; overrides --status and --all")
	verifyCmd.Flags().Bool("all", false, "verify every stored phone regardless of status")
	verifyCmd.Flags().Int("limit", 0, "max phones to verify (0 = no limit)")
	verifyCmd.Flags().String("format", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(verifyCmd)
}
