package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dealer-sync/internal/model"
)

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count active customers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "store")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := customerFilterFromFlags(cmd)
		if err != nil {
			return err
		}

		n, err := st.CountActive(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "count")
		}
		fmt.Fprintln(os.Stdout, n)
		return nil
	},
}

// customerFilterFromFlags leaves unset flags unfiltered; an unset --active
// counts active customers only.
func customerFilterFromFlags(cmd *cobra.Command) (model.CustomerFilter, error) {
	var filter model.CustomerFilter
	if status, _ := cmd.Flags().GetString("status"); status != "" {
		s := model.WhatsAppStatus(status)
		if s != model.WhatsAppValid && s != model.WhatsAppInvalid && s != model.WhatsAppUnknown {
			return filter, eris.Errorf("invalid --status %q (want valid, invalid or unknown)", status)
		}
		filter.WhatsAppStatus = s
	}
	if cmd.Flags().Changed("blocked") {
		b, _ := cmd.Flags().GetBool("blocked")
		filter.Blocked = &b
	}
	if cmd.Flags().Changed("active") {
		a, _ := cmd.Flags().GetBool("active")
		filter.Active = &a
	}
	return filter, nil
}

func init() {
	countCmd.Flags().String("status", "", "filter by WhatsApp status (valid, invalid, unknown)")
	countCmd.Flags().Bool("blocked", false, "filter by blocked flag")
	countCmd.Flags().Bool("active", true, "filter by active flag")
	rootCmd.AddCommand(countCmd)
}
