package exporter

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	api "plughub/pkg/contracts/api/v1"
	"plughub/pkg/contracts/domain"
)

func sampleList() *api.ActivationListResponse {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	verified := at.Add(2 * time.Hour)
	deactivated := at.Add(24 * time.Hour)
	return &api.ActivationListResponse{
		KeyID: "key-1",
		Activations: []domain.Activation{
			{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), SiteDomain: "a.com", Active: true, ActivatedAt: at, LastVerifiedAt: &verified},
			{ID: uuid.MustParse("22222222-2222-2222-2222-222222222222"), SiteDomain: "b.com, ltd", ActivatedAt: at, DeactivatedAt: &deactivated},
		},
		ActiveCount: 1,
		GeneratedAt: at,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{" XLSX ", FormatXLSX, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat_Metadata(t *testing.T) {
	at := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "activations_k_20260301.xlsx", FormatXLSX.Filename("k", at))
	assert.Contains(t, FormatCSV.ContentType(), "text/csv")
	assert.Contains(t, FormatXLSX.ContentType(), "spreadsheetml")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleList(), CSVOptions{BOMPrefix: true}))

	data := buf.Bytes()
	require.True(t, bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}), "missing BOM")

	records, err := csv.NewReader(bytes.NewReader(data[3:])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, Headers, records[0])
	assert.Equal(t, []string{
		"11111111-1111-1111-1111-111111111111", "a.com", "true",
		"2026-03-01T09:30:00Z", "2026-03-01T11:30:00Z", "",
	}, records[1])
	assert.Equal(t, "b.com, ltd", records[2][1])
	assert.Equal(t, "false", records[2][2])
	assert.Equal(t, "", records[2][4])
	assert.Equal(t, "2026-03-02T09:30:00Z", records[2][5])
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, &api.ActivationListResponse{}, CSVOptions{}))
	assert.Equal(t, "activation_id,site_domain,active,activated_at,last_verified_at,deactivated_at\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleList()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{activationSheet, summarySheet}, f.GetSheetList())

	rows, err := f.GetRows(activationSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, Headers, rows[0])
	assert.Equal(t, "a.com", rows[1][1])
	assert.Equal(t, "b.com, ltd", rows[2][1])

	active, err := f.GetCellValue(summarySheet, "B2")
	require.NoError(t, err)
	assert.Equal(t, "1", active)
}

func TestWrite_UnknownFormat(t *testing.T) {
	assert.Error(t, Write(&bytes.Buffer{}, Format("pdf"), sampleList()))
}
