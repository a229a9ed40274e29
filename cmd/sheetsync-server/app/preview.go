package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/sheetsync-server/internal/sheets"
	"github.com/stacklok/sheetsync-server/internal/table"
)

const previewTimeout = 30 * time.Second

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Fetch a sheet once and print it as a table",
	Long: `Fetch a sheet once with the given column schema and print the shaped rows.
Columns are mapped onto the sheet by position; the first sheet row is treated as
a header and skipped.

Example:
  sheetsync-server preview --sheet https://docs.google.com/spreadsheets/d/<id>/edit \
    --column Name:text --column JoinDate:date`,
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().String("sheet", "", "Spreadsheet URL or id")
	previewCmd.Flags().StringArray("column", nil, "Column as name[:type], repeat in sheet order")
	if err := previewCmd.MarkFlagRequired("sheet"); err != nil {
		panic(err)
	}
	if err := previewCmd.MarkFlagRequired("column"); err != nil {
		panic(err)
	}
}

// parseColumnFlags turns name[:type] flag values into column specs
func parseColumnFlags(values []string) []table.ColumnSpec {
	specs := make([]table.ColumnSpec, 0, len(values))
	for _, v := range values {
		name, kind, _ := strings.Cut(v, ":")
		specs = append(specs, table.ColumnSpec{Name: strings.TrimSpace(name), Type: strings.TrimSpace(kind)})
	}
	return specs
}

func runPreview(cmd *cobra.Command, _ []string) error {
	sheetURL, _ := cmd.Flags().GetString("sheet")
	columnFlags, _ := cmd.Flags().GetStringArray("column")

	columns, err := table.NewSourceColumns(parseColumnFlags(columnFlags))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), previewTimeout)
	defer cancel()

	client, err := sheets.NewClient(ctx, sheets.ClientConfig{
		CredentialsFile: cfg.Source.CredentialsFile,
		APIKey:          cfg.Source.APIKey,
		Endpoint:        cfg.Source.Endpoint,
		Range:           cfg.Source.Range,
	})
	if err != nil {
		return fmt.Errorf("failed to create sheets client: %w", err)
	}

	fetcher := sheets.NewFetcher(client, sheets.WithDateLayouts(cfg.Source.DateLayouts...))
	rows, err := fetcher.Fetch(ctx, sheetURL, columns)
	if err != nil {
		return err
	}

	return renderRows(cmd, columns, rows)
}

func renderRows(cmd *cobra.Command, columns []table.Column, rows []table.Row) error {
	header := make([]string, len(columns))
	for i, col := range columns {
		header[i] = col.Name
	}

	tw := tablewriter.NewWriter(cmd.OutOrStdout())
	tw.Header(header)
	for _, row := range rows {
		line := make([]string, len(columns))
		for i, col := range columns {
			line[i] = fmt.Sprint(row[col.Name])
		}
		if err := tw.Append(line); err != nil {
			return fmt.Errorf("failed to render row: %w", err)
		}
	}
	if err := tw.Render(); err != nil {
		return fmt.Errorf("failed to render table: %w", err)
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "%d rows\n", len(rows))
	return nil
}
