// Package store keeps the operational datasets (client jobs, move managers,
// anything else the app writes through /api/data) as JSON documents keyed by
// table and row.
package store

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"time"

	"opsbridge.org/internal/errs"
	"opsbridge.org/internal/ids"
)

// DefaultPartition is the only partition the app writes.
const DefaultPartition = "main"

var tableName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]{2,62}$`)

// Record is one stored document. Data holds the JSON the caller posted.
type Record struct {
	PartitionKey string    `json:"partitionKey"`
	RowKey       string    `json:"rowKey"`
	Data         string    `json:"data"`
	Timestamp    time.Time `json:"timestamp"`
}

// Store is implemented by the Postgres and in-memory backends.
type Store interface {
	List(ctx context.Context, table string) ([]Record, error)
	Upsert(ctx context.Context, table string, rec Record) error
	Delete(ctx context.Context, table, rowKey string) error
}

// ValidateTable enforces the table naming rule shared by every backend.
func ValidateTable(table string) error {
	if table == "" {
		return errs.Validation("table required")
	}
	if !tableName.MatchString(table) {
		return errs.Validation("invalid table name %q", table)
	}
	return nil
}

// NewRecord serialises item into the default partition keyed by its "id".
// Items without an id get a fresh one, written back into the document.
func NewRecord(item map[string]any) (Record, error) {
	if item == nil {
		return Record{}, errs.Validation("item must be a JSON object")
	}
	key := idOf(item["id"])
	if key == "" {
		key = ids.New()
		item["id"] = key
	}
	data, err := json.Marshal(item)
	if err != nil {
		return Record{}, errs.Mark(errs.Wrap(err, "encode item"), errs.ErrValidation)
	}
	return Record{PartitionKey: DefaultPartition, RowKey: key, Data: string(data)}, nil
}

func idOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}

// Decode unmarshals the record's document into v.
func (r Record) Decode(v any) error {
	if r.Data == "" {
		return errs.New("record has no data")
	}
	return json.Unmarshal([]byte(r.Data), v)
}
