// Package output renders cnabctl command results to the terminal.
package output

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/cnabflow/ingestor/internal/cnab/model"
)

// TableRenderer is implemented by types that can render themselves as a table.
type TableRenderer interface {
	Headers() []string
	Rows() [][]string
}

// PrintTable writes data as a formatted table to w.
func PrintTable(w io.Writer, data TableRenderer) error {
	table := tablewriter.NewWriter(w)
	table.SetHeader(data.Headers())
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, row := range data.Rows() {
		table.Append(row)
	}
	table.Render()
	return nil
}

// UploadTable renders a slice of uploads as a table for `cnabctl uploads list`
// and `cnabctl uploads incomplete`.
type UploadTable struct {
	Uploads []*model.FileUpload
}

// Headers implements TableRenderer.
func (t UploadTable) Headers() []string {
	return []string{"ID", "FILE", "STATUS", "PROGRESS", "CHECKPOINT", "RETRIES", "UPLOADED"}
}

// Rows implements TableRenderer.
func (t UploadTable) Rows() [][]string {
	rows := make([][]string, 0, len(t.Uploads))
	for _, u := range t.Uploads {
		rows = append(rows, []string{
			u.ID,
			u.FileName,
			string(u.Status),
			fmt.Sprintf("%.1f%%", u.ProgressPercentage()),
			fmt.Sprintf("%d/%d", u.LastCheckpointLine+1, u.TotalLineCount),
			fmt.Sprintf("%d", u.RetryCount),
			u.UploadedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return rows
}

// SimpleTable prints a simple key-value table.
func SimpleTable(w io.Writer, pairs [][2]string) error {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(":")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, pair := range pairs {
		table.Append([]string{pair[0], pair[1]})
	}
	table.Render()
	return nil
}
