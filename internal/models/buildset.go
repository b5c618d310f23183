package models

import (
	"database/sql"
	"time"
)

// Buildset is an immutable request to build one coherent set of sourcestamps
// across a set of builders. Created exactly once per triggering event.
type Buildset struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement"`
	Reason             string `gorm:"size:255"`
	WaitedFor          bool   `gorm:"default:false"`
	Complete           bool   `gorm:"default:false;index"`
	Results            *int
	ExternalIDString   sql.NullString           `gorm:"size:255"`
	Properties         map[string]PropertyValue `gorm:"serializer:json;type:text"`
	Priority           int                      `gorm:"default:0"`
	ParentBuildsetID   *int64
	ParentRelationship string `gorm:"size:64"`
	CreatedAt          time.Time
	CompletedAt        *time.Time

	ParentBuildset *Buildset `gorm:"foreignKey:ParentBuildsetID"`
}

// BuildsetSourceStamp links a buildset to its sourcestamps, one per codebase.
type BuildsetSourceStamp struct {
	BuildsetID    int64 `gorm:"primaryKey"`
	SourceStampID int64 `gorm:"primaryKey"`

	Buildset    Buildset    `gorm:"foreignKey:BuildsetID"`
	SourceStamp SourceStamp `gorm:"foreignKey:SourceStampID"`
}

// BuildRequest asks for one build of a buildset on one builder.
type BuildRequest struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	BuildsetID  int64 `gorm:"index"`
	BuilderID   int64 `gorm:"index"`
	Priority    int   `gorm:"default:0"`
	WaitedFor   bool  `gorm:"default:false"`
	Complete    bool  `gorm:"default:false;index"`
	Results     *int
	CreatedAt   time.Time
	CompletedAt *time.Time

	Buildset Buildset `gorm:"foreignKey:BuildsetID"`
	Builder  Builder  `gorm:"foreignKey:BuilderID"`
}

// Builder is a named build configuration known to the cluster.
type Builder struct {
	ID          int64    `gorm:"primaryKey;autoIncrement"`
	Name        string   `gorm:"size:255;uniqueIndex;not null"`
	Description string   `gorm:"type:text"`
	Tags        []string `gorm:"serializer:json;type:text"`
	CreatedAt   time.Time
}

// Build records the outcome of one build request, enough for reporting.
type Build struct {
	ID             int64 `gorm:"primaryKey;autoIncrement"`
	BuildRequestID int64 `gorm:"index"`
	BuilderID      int64 `gorm:"index"`
	Number         int
	Results        *int
	StateString    string `gorm:"size:255"`
	StartedAt      time.Time
	CompletedAt    *time.Time

	BuildRequest BuildRequest `gorm:"foreignKey:BuildRequestID"`
	Builder      Builder      `gorm:"foreignKey:BuilderID"`
}
