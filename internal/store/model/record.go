package model

import "encoding/json"

// Record is one bibliographic document in the catalog: an instance, holding,
// item or location, stored as opaque JSON. The streaming pipelines only ever
// read (id, document) pairs from it.
type Record struct {
	ID         string `gorm:"primaryKey;type:VARCHAR(64);"`
	Tenant     string `gorm:"primaryKey;type:VARCHAR(64);not null"`
	RecordType string `gorm:"type:VARCHAR(32);not null;index"`
	Document   []byte `gorm:"type:jsonb;not null"`
}

type RecordList []Record

func (r Record) String() string {
	val, _ := json.Marshal(r)
	return string(val)
}
