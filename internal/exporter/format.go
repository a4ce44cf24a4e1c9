package exporter

import (
	"fmt"
	"strings"
	"time"
)

// Format identifies an export file format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ParseFormat maps a query value to a Format. Empty defaults to CSV.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Filename returns a download name for a key's export
func (f Format) Filename(keyID string, at time.Time) string {
	return fmt.Sprintf("activations_%s_%s.%s", keyID, at.UTC().Format("20060102"), f)
}

// formatTime formats a timestamp for export in RFC 3339 UTC
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// formatOptionalTime formats a nullable timestamp
func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// formatBool formats a boolean value for export
func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
