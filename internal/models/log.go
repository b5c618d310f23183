package models

import "time"

// Log is one named log attached to a build. Content lives in LogChunk rows
// and may be compressed.
type Log struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	BuildID   int64  `gorm:"index"`
	Name      string `gorm:"size:255"`
	Type      string `gorm:"size:16;default:stdio"`
	Complete  bool   `gorm:"default:false"`
	NumChunks int    `gorm:"default:0"`
	CreatedAt time.Time
}

// LogChunk is one compressed slice of log content.
type LogChunk struct {
	LogID      int64  `gorm:"primaryKey"`
	Seq        int    `gorm:"primaryKey"`
	Content    []byte `gorm:"type:blob"`
	Compressed bool   `gorm:"default:false"`
}
