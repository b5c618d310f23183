package models

import (
	"database/sql"
	"time"
)

// SourceStamp identifies a reproducible source snapshot for one codebase.
// Branch and Revision are nullable: a null branch means the repository's
// default branch, a null revision means "latest".
type SourceStamp struct {
	ID         int64 `gorm:"primaryKey;autoIncrement"`
	Codebase   string `gorm:"size:128;index"`
	Repository string `gorm:"size:255"`
	Branch     sql.NullString
	Revision   sql.NullString
	Project    string `gorm:"size:128"`
	PatchID    *int64
	CreatedAt  time.Time

	Patch *Patch `gorm:"foreignKey:PatchID"`
}

// Patch is an optional diff applied on top of a sourcestamp's revision.
type Patch struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	Level   int    `gorm:"default:0"`
	Body    string `gorm:"type:text"`
	Subdir  string `gorm:"size:255"`
	Author  string `gorm:"size:255"`
	Comment string `gorm:"type:text"`
}
