package source

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/halcyonops/opsml-backend/internal/ml/feature"
	"github.com/halcyonops/opsml-backend/internal/platform/envutil"
	"github.com/halcyonops/opsml-backend/internal/platform/logger"
)

// Querier reads operational records straight from the source-of-truth table.
// Inference never scores from snapshots or caches; the rows it sees are the
// rows the business system holds at fetch time.
type Querier interface {
	FetchRecords(ctx context.Context, entityID uuid.UUID, periodStart, periodEnd time.Time) ([]feature.Row, error)
}

type querier struct {
	db    *gorm.DB
	log   *logger.Logger
	table string
}

// Columns with fixed meaning; everything else on the table is treated as a
// raw feature value.
const (
	colRecordID   = "record_id"
	colEntityID   = "entity_id"
	colCreatedAt  = "created_at"
	colLabel      = "label"
	colActualFlag = "actual_flag"
)

func NewQuerier(db *gorm.DB, baseLog *logger.Logger) Querier {
	return &querier{
		db:    db,
		log:   baseLog.With("repo", "SourceQuerier"),
		table: envutil.String("OPS_RECORDS_TABLE", "operational_records"),
	}
}

func (q *querier) FetchRecords(ctx context.Context, entityID uuid.UUID, periodStart, periodEnd time.Time) ([]feature.Row, error) {
	var raw []map[string]interface{}
	err := q.db.WithContext(ctx).
		Table(q.table).
		Where("entity_id = ? AND created_at >= ? AND created_at < ?", entityID, periodStart, periodEnd).
		Find(&raw).Error
	if err != nil {
		return nil, fmt.Errorf("fetch records from %s: %w", q.table, err)
	}

	rows := make([]feature.Row, 0, len(raw))
	for _, rec := range raw {
		recordID := asString(rec[colRecordID])
		if recordID == "" {
			q.log.Warn("skipping source row without record_id", "table", q.table)
			continue
		}
		row := feature.Row{
			RecordID:  recordID,
			CreatedAt: asTime(rec[colCreatedAt]),
			Values:    map[string]string{},
			Label:     asString(rec[colLabel]),
		}
		if flag, ok := asBool(rec[colActualFlag]); ok {
			row.ActualFlag = &flag
		}
		for col, v := range rec {
			switch col {
			case colRecordID, colEntityID, colCreatedAt, colLabel, colActualFlag, "id", "updated_at", "deleted_at":
				continue
			}
			row.Values[col] = asString(v)
		}
		rows = append(rows, row)
	}

	// Row order from the database is not guaranteed; sort so downstream
	// processing and logs are reproducible.
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].RecordID < rows[j].RecordID
	})
	return rows, nil
}

func asString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asTime(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	}
	return time.Time{}
}

func asBool(v interface{}) (bool, bool) {
	switch t := v.(type) {
	case nil:
		return false, false
	case bool:
		return t, true
	case int64:
		return t != 0, true
	case float64:
		return t != 0, true
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b, true
		}
	}
	return false, false
}
