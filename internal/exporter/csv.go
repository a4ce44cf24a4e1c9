package exporter

import (
	"encoding/csv"
	"fmt"
	"io"

	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

// Headers are the columns of an activation export
var Headers = []string{
	"activation_id",
	"site_domain",
	"active",
	"activated_at",
	"last_verified_at",
	"deactivated_at",
}

// Records converts activations into export rows in Headers order
func Records(activations []domain.Activation) [][]string {
	records := make([][]string, 0, len(activations))
	for _, a := range activations {
		records = append(records, []string{
			a.ID.String(),
			a.SiteDomain,
			formatBool(a.Active),
			formatTime(a.ActivatedAt),
			formatOptionalTime(a.LastVerifiedAt),
			formatOptionalTime(a.DeactivatedAt),
		})
	}
	return records
}

// CSVOptions configures CSV writing behavior
type CSVOptions struct {
	BOMPrefix bool // UTF-8 BOM for Excel compatibility
}

// WriteCSV writes the activation list as CSV with a header row
func WriteCSV(w io.Writer, list *api.ActivationListResponse, opts CSVOptions) error {
	if opts.BOMPrefix {
		if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Headers); err != nil {
		return fmt.Errorf("failed to write headers: %w", err)
	}
	for i, record := range Records(list.Activations) {
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
