package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dealer-sync/internal/ingest"
	"github.com/sells-group/dealer-sync/internal/model"
	"github.com/sells-group/dealer-sync/internal/verify"
)

// importReport is what `import` prints once the job has finished.
type importReport struct {
	Job   *model.UploadJob  `json:"job,omitempty" yaml:"job,omitempty"`
	Stats ingest.GroupStats `json:"stats" yaml:"stats"`
}

// writeStructured encodes v as json or yaml.
func writeStructured(out io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return enc.Close()
	default:
		return eris.Errorf("unsupported output format %q (want text, json or yaml)", format)
	}
}

// formatImportReport writes a human-readable import summary to out.
func formatImportReport(out io.Writer, r importReport) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Rows read:\t%d\n", r.Stats.Rows)
	_, _ = fmt.Fprintf(w, "Customers:\t%d\n", r.Stats.Customers)
	_, _ = fmt.Fprintf(w, "  Skipped (no name/phone):\t%d\n", r.Stats.SkippedNoContact)
	_, _ = fmt.Fprintf(w, "  Skipped (invalid phone):\t%d\n", r.Stats.SkippedInvalidPhone)
	if j := r.Job; j != nil {
		_, _ = fmt.Fprintf(w, "Job:\t%s\n", j.ID)
		_, _ = fmt.Fprintf(w, "Status:\t%s\n", j.Status)
		_, _ = fmt.Fprintf(w, "Processed:\t%d\n", j.ProcessedCount)
		_, _ = fmt.Fprintf(w, "Errors:\t%d\n", j.ErrorCount)
		for _, d := range j.ErrorDetail {
			_, _ = fmt.Fprintf(w, "  %s:\t%s\n", d.Phone, d.Error)
		}
	}
	_ = w.Flush()
}

// formatJobsList writes a tabular list of upload jobs to out.
func formatJobsList(out io.Writer, jobs []model.UploadJob) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tSTATUS\tPROCESSED\tERRORS\tTOTAL\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t---------\t------\t-----\t-------\t--------")

	for _, j := range jobs {
		name := j.FileName
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		dur := ""
		if j.FinishedAt != nil {
			dur = j.FinishedAt.Sub(j.CreatedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			truncateID(j.ID),
			name,
			j.Status,
			j.ProcessedCount,
			j.ErrorCount,
			j.TotalRows,
			j.CreatedAt.Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// formatVerifyResult writes a verification summary to out.
func formatVerifyResult(out io.Writer, phones int, r verify.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Phones:\t%d\n", phones)
	_, _ = fmt.Fprintf(w, "Batches:\t%d\n", r.Batches)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", r.FailedBatches)
	_, _ = fmt.Fprintf(w, "Valid:\t%d\n", r.Valid)
	_, _ = fmt.Fprintf(w, "Invalid:\t%d\n", r.Invalid)
	_, _ = fmt.Fprintf(w, "Unchanged:\t%d\n", r.Unchanged)
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
