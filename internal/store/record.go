package store

import (
	"context"
	"fmt"

	"github.com/openlibris/catalog-storage/internal/streaming"
	"gorm.io/gorm"
)

// Record reads the catalog records the pipelines stream out. How a record
// range maps onto a query is owned here; the pipelines only ever see a
// Cursor.
type Record interface {
	// Cursor opens a streaming cursor over (id, document) pairs of one
	// tenant and record type, in storage order. A blank fromID or toID
	// leaves the respective bound open. The cursor runs on the transaction
	// carried by ctx, if any.
	Cursor(ctx context.Context, tenant, recordType, fromID, toID string) (streaming.Cursor, error)
}

type RecordStore struct {
	db *gorm.DB
}

var _ Record = (*RecordStore)(nil)

func NewRecordStore(db *gorm.DB) Record {
	return &RecordStore{db: db}
}

func (s *RecordStore) Cursor(ctx context.Context, tenant, recordType, fromID, toID string) (streaming.Cursor, error) {
	q := s.getDB(ctx).
		Table("records").
		Select("id", "document").
		Where("tenant = ? AND record_type = ?", tenant, recordType).
		Order("id")
	if fromID != "" {
		q = q.Where("id >= ?", fromID)
	}
	if toID != "" {
		q = q.Where("id <= ?", toID)
	}

	rows, err := q.Rows()
	if err != nil {
		return nil, fmt.Errorf("opening record cursor: %w", err)
	}
	return streaming.NewSQLCursor(rows), nil
}

func (s *RecordStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
