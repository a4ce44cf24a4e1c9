package exporter

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	api "plughub/pkg/contracts/api/v1"
)

const (
	activationSheet = "Activations"
	summarySheet    = "Summary"
)

// WriteXLSX writes the activation list as an Excel workbook with an
// activations sheet and a summary sheet
func WriteXLSX(w io.Writer, list *api.ActivationListResponse) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", activationSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	header := make([]any, len(Headers))
	for i, h := range Headers {
		header[i] = h
	}
	if err := f.SetSheetRow(activationSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}

	for i, record := range Records(list.Activations) {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := make([]any, len(record))
		for j, v := range record {
			row[j] = v
		}
		if err := f.SetSheetRow(activationSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	if err := styleHeader(f, len(Headers)); err != nil {
		return err
	}
	if err := writeSummary(f, list); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

func styleHeader(f *excelize.File, columns int) error {
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	last, err := excelize.ColumnNumberToName(columns)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(activationSheet, "A1", last+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	if err := f.SetColWidth(activationSheet, "A", last, 26); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	return f.SetPanes(activationSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func writeSummary(f *excelize.File, list *api.ActivationListResponse) error {
	if _, err := f.NewSheet(summarySheet); err != nil {
		return fmt.Errorf("failed to create summary sheet: %w", err)
	}
	rows := [][]any{
		{"key_id", list.KeyID},
		{"active_count", list.ActiveCount},
		{"total_activations", len(list.Activations)},
		{"generated_at", formatTime(list.GeneratedAt)},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

// Write renders list in the requested format
func Write(w io.Writer, format Format, list *api.ActivationListResponse) error {
	switch format {
	case FormatXLSX:
		return WriteXLSX(w, list)
	case FormatCSV:
		return WriteCSV(w, list, CSVOptions{BOMPrefix: true})
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}
