package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/openlibris/catalog-storage/internal/store/model"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	InitialMigration() error
	Job() Job
	Record() Record
	Close() error
}

type DataStore struct {
	db     *gorm.DB
	job    Job
	record Record
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:     db,
		job:    NewJobStore(db),
		record: NewRecordStore(db),
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

// InitialMigration creates the schema from the gorm models. Production
// deployments use the goose migrations instead.
func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(&model.Job{}, &model.Record{})
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Record() Record {
	return s.record
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
