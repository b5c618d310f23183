package models

import "time"

// Object assigns a stable numeric id to a named, classed component (e.g. a
// scheduler or a change source) so state and claims survive restarts.
type Object struct {
	ID    int64  `gorm:"primaryKey;autoIncrement"`
	Name  string `gorm:"size:255;not null;uniqueIndex:idx_objects_name_class"`
	Class string `gorm:"size:128;not null;uniqueIndex:idx_objects_name_class"`
}

// ObjectState is a single key/value state entry for an object. Values are
// stored JSON-encoded.
type ObjectState struct {
	ObjectID int64  `gorm:"primaryKey"`
	Key      string `gorm:"primaryKey;size:255"`
	Value    string `gorm:"type:text"`
}

// SchedulerClaim is the activation claim table: one row per claimed scheduler
// object. Only the owning master may act on incoming changes.
type SchedulerClaim struct {
	ObjectID  int64 `gorm:"primaryKey"`
	MasterID  int64 `gorm:"not null;index"`
	ClaimedAt time.Time
}

// Master is one orchestration server process in the cluster.
type Master struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Identity     string `gorm:"size:128;uniqueIndex;not null"`
	Name         string `gorm:"size:255"`
	Active       bool   `gorm:"default:false;index"`
	LastActivity time.Time
	CreatedAt    time.Time
}
