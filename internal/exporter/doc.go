// Package exporter renders activation usage reports for the admin API.
//
// Two formats are supported:
//
// CSV: written with encoding/csv and an optional UTF-8 BOM so spreadsheet
// tools detect the encoding.
//
// XLSX: a single "Activations" sheet with a bold header row and a frozen
// first row, written with excelize.
//
// Example usage:
//
//	list, _ := admin.ListActivations(ctx, keyID)
//	format, _ := exporter.ParseFormat(r.URL.Query().Get("format"))
//	w.Header().Set("Content-Type", format.ContentType())
//	err := exporter.Write(w, format, list)
package exporter
