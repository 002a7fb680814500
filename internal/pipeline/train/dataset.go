package train

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/halcyonops/opsml-backend/internal/ml/feature"
)

// Dataset CSV layout: a header row naming columns, with record_id and
// created_at required. label and actual_flag are optional; every other column
// is a raw feature value.
const (
	csvColRecordID   = "record_id"
	csvColCreatedAt  = "created_at"
	csvColLabel      = "label"
	csvColActualFlag = "actual_flag"
)

// ParseDatasetCSV turns a materialized dataset extract into rows. Duplicate
// record ids are an extraction bug and fail the parse; a ledger built on
// record identity cannot tolerate them.
func ParseDatasetCSV(data []byte) ([]feature.Row, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("dataset csv: read header: %w", err)
	}
	colIdx := map[string]int{}
	for i, name := range header {
		colIdx[strings.TrimSpace(name)] = i
	}
	if _, ok := colIdx[csvColRecordID]; !ok {
		return nil, fmt.Errorf("dataset csv: missing required column %q", csvColRecordID)
	}
	if _, ok := colIdx[csvColCreatedAt]; !ok {
		return nil, fmt.Errorf("dataset csv: missing required column %q", csvColCreatedAt)
	}

	var rows []feature.Row
	seen := map[string]bool{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("dataset csv: line %d: %w", line, err)
		}

		recordID := strings.TrimSpace(record[colIdx[csvColRecordID]])
		if recordID == "" {
			return nil, fmt.Errorf("dataset csv: line %d: empty record_id", line)
		}
		if seen[recordID] {
			return nil, fmt.Errorf("dataset csv: duplicate record_id %q", recordID)
		}
		seen[recordID] = true

		createdAt, err := parseCSVTime(record[colIdx[csvColCreatedAt]])
		if err != nil {
			return nil, fmt.Errorf("dataset csv: line %d: created_at: %w", line, err)
		}

		row := feature.Row{
			RecordID:  recordID,
			CreatedAt: createdAt,
			Values:    map[string]string{},
		}
		if i, ok := colIdx[csvColLabel]; ok {
			row.Label = strings.TrimSpace(record[i])
		}
		if i, ok := colIdx[csvColActualFlag]; ok {
			if raw := strings.TrimSpace(record[i]); raw != "" {
				flag, err := strconv.ParseBool(raw)
				if err != nil {
					return nil, fmt.Errorf("dataset csv: line %d: actual_flag %q", line, raw)
				}
				row.ActualFlag = &flag
			}
		}
		for name, i := range colIdx {
			switch name {
			case csvColRecordID, csvColCreatedAt, csvColLabel, csvColActualFlag:
				continue
			}
			row.Values[name] = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseCSVTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
