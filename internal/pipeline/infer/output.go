package infer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"

	types "github.com/halcyonops/opsml-backend/internal/domain"
)

// outputCSV renders the per-record scores in a stable column order. The file
// is the durable record of what this run produced, independent of later
// upserts over the same records.
func outputCSV(scored []*types.ScoredRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"record_id", "scored_at", "predicted_class", "confidence", "probability", "predicted_flag"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write scores csv: %w", err)
	}
	for _, rec := range scored {
		row := []string{
			rec.RecordID,
			rec.ScoredAt.UTC().Format(time.RFC3339),
			rec.PredictedClass,
			strconv.FormatFloat(rec.Confidence, 'f', 6, 64),
			strconv.FormatFloat(rec.Probability, 'f', 6, 64),
			strconv.FormatBool(rec.PredictedFlag),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write scores csv: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write scores csv: %w", err)
	}
	return buf.Bytes(), nil
}

func mustJSON(v interface{}) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(b)
}
