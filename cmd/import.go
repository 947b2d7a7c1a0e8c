package main

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/dealer-sync/internal/fetcher"
	"github.com/sells-group/dealer-sync/internal/importer"
	"github.com/sells-group/dealer-sync/internal/ingest"
	"github.com/sells-group/dealer-sync/internal/resilience"
)

// importInput is the parsed flag set of the import command.
type importInput struct {
	File   string
	URL    string
	Sheet  string
	DryRun bool
	Format string
	Retry  resilience.RetryConfig
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a customer spreadsheet (CSV or XLSX)",
	Long:  "Reads a dealership spreadsheet from a file or URL, groups rows by phone, merges vehicles into stored customers and prints the job summary.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var in importInput
		in.File, _ = cmd.Flags().GetString("file")
		in.URL, _ = cmd.Flags().GetString("url")
		in.Sheet, _ = cmd.Flags().GetString("sheet")
		in.DryRun, _ = cmd.Flags().GetBool("dry-run")
		in.Format, _ = cmd.Flags().GetString("format")
		in.Retry = resilience.RetryFromSettings(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs)
		if (in.File == "") == (in.URL == "") {
			return eris.New("exactly one of --file or --url is required")
		}

		var orch *importer.Orchestrator
		if !in.DryRun {
			st, err := openStore(ctx, "import")
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			orch = newImporter(st, cfg, nil)
		}

		return runImport(ctx, orch, in, os.Stdout)
	},
}

// runImport loads the spreadsheet, groups it and, unless orch is nil, runs
// the import job. The report goes to out.
func runImport(ctx context.Context, orch *importer.Orchestrator, in importInput, out io.Writer) error {
	name, data, err := loadSpreadsheet(ctx, in)
	if err != nil {
		return err
	}

	sheet, err := fetcher.ParseSheet(ctx, name, data, fetcher.SheetOptions{SheetName: in.Sheet})
	if err != nil {
		return eris.Wrap(err, "import: parse spreadsheet")
	}

	mapping := ingest.MapColumns(sheet.Headers)
	log := zap.L().With(zap.String("file", name))
	if !mapping.HasContact() {
		log.Warn("import: no name or phone column, every row will be skipped",
			zap.Strings("headers", sheet.Headers),
		)
	}
	customers, stats := ingest.Group(sheet.Rows, mapping)
	log.Info("import: spreadsheet grouped",
		zap.Int("rows", stats.Rows),
		zap.Int("customers", stats.Customers),
		zap.Int("skipped_no_contact", stats.SkippedNoContact),
		zap.Int("skipped_invalid_phone", stats.SkippedInvalidPhone),
	)

	report := importReport{Stats: stats}
	if orch != nil {
		job, err := orch.Run(ctx, name, customers, func(processed, errors, total int) {
			log.Info("import: progress",
				zap.Int("processed", processed),
				zap.Int("errors", errors),
				zap.Int("total", total),
			)
		})
		report.Job = job
		if err != nil && job == nil {
			return err
		}
		if err != nil {
			log.Error("import: job summary not saved", zap.Error(err))
		}
	}

	if in.Format == "" || in.Format == "text" {
		formatImportReport(out, report)
		return nil
	}
	return writeStructured(out, in.Format, report)
}

// loadSpreadsheet returns the file name, which selects the parser, and the
// raw bytes of the input.
func loadSpreadsheet(ctx context.Context, in importInput) (string, []byte, error) {
	if in.URL != "" {
		d, err := fetcher.Download(ctx, in.URL, fetcher.HTTPOptions{Retry: in.Retry})
		if err != nil {
			return "", nil, eris.Wrap(err, "import: download")
		}
		return d.Name, d.Data, nil
	}

	data, err := os.ReadFile(in.File)
	if err != nil {
		return "", nil, eris.Wrapf(err, "import: read %s", in.File)
	}
	return filepath.Base(in.File), data, nil
}

func init() {
	importCmd.Flags().String("file", "", "path to a .csv or .xlsx file")
	importCmd.Flags().String("url", "", "URL to download the spreadsheet from")
	importCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	importCmd.Flags().Bool("dry-run", false, "parse and group only, do not touch the store")
	importCmd.Flags().String("format", "text", "output format: text, json or yaml")
	rootCmd.AddCommand(importCmd)
}
