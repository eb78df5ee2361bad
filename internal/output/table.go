package output

import (
	"bytes"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/bkonick/kiln/internal/provision"
)

// TableFormatter formats results as human-readable tables.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
}

// FormatReport formats a build report as a table row.
func (f *TableFormatter) FormatReport(report *provision.Report) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "VMID\tNAME\tSTAGE\tRELEASE\tSTORAGE\tDURATION")
	}

	// Dry runs and early failures never allocate an identity.
	vmid := "-"
	if report.VMID != 0 {
		vmid = strconv.Itoa(report.VMID)
	}

	stage := string(report.Stage)
	if report.DryRun {
		stage += " (dry run)"
	}

	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
		vmid, report.Name, stage, report.Release, report.Storage, report.Duration)

	_ = w.Flush()
	return buf.String(), nil
}

// FormatGuest formats a guest status as a table row.
func (f *TableFormatter) FormatGuest(info *GuestInfo) (string, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		_, _ = fmt.Fprintln(w, "VMID\tSTATUS")
	}
	_, _ = fmt.Fprintf(w, "%d\t%s\n", info.VMID, info.Status)

	_ = w.Flush()
	return buf.String(), nil
}
