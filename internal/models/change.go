package models

import (
	"database/sql"
	"time"
)

// PropertyValue is a property value together with the name of the component
// that set it (e.g. "Change", "Scheduler").
type PropertyValue struct {
	Value  interface{} `json:"value"`
	Source string      `json:"source"`
}

// Change is an immutable record of a single source-control change. Changes
// are created by change sources and never mutated afterwards; ordering is by
// ID, not wall-clock time.
type Change struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	Author        string `gorm:"size:255"`
	Committer     string `gorm:"size:255"`
	Revision      string `gorm:"size:64;index"`
	Branch        sql.NullString
	Category      string `gorm:"size:64"`
	Codebase      string `gorm:"size:128;index"`
	Repository    string `gorm:"size:255"`
	Project       string `gorm:"size:128"`
	Comments      string `gorm:"type:text"`
	SourceStampID int64  `gorm:"index"`
	When          time.Time
	Files         []string                 `gorm:"serializer:json;type:text"`
	Properties    map[string]PropertyValue `gorm:"serializer:json;type:text"`
	CreatedAt     time.Time

	SourceStamp *SourceStamp `gorm:"foreignKey:SourceStampID"`
}

// PropertyValue returns the value of a named change property, or ("", false)
// if the property is not set.
func (c *Change) PropertyValue(name string) (interface{}, bool) {
	if c.Properties == nil {
		return nil, false
	}
	pv, ok := c.Properties[name]
	if !ok {
		return nil, false
	}
	return pv.Value, true
}
