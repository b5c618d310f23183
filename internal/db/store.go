package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/switchyard-ci/switchyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownBuilder is returned when a builder name has no persisted row.
var ErrUnknownBuilder = errors.New("db: unknown builder")

// Store exposes the query/update API over the shared database.
type Store struct {
	DB *gorm.DB
}

// NewStore wraps a GORM connection.
func NewStore(gdb *gorm.DB) *Store {
	return &Store{DB: gdb}
}

// GetChange returns one change by id.
func (s *Store) GetChange(id int64) (*models.Change, error) {
	var c models.Change
	if err := s.DB.First(&c, id).Error; err != nil {
		return nil, fmt.Errorf("db: get change %d: %w", id, err)
	}
	return &c, nil
}

// AddChange persists a new change record.
func (s *Store) AddChange(c *models.Change) error {
	if err := s.DB.Create(c).Error; err != nil {
		return fmt.Errorf("db: add change: %w", err)
	}
	return nil
}

// GetChangesForSourceStamp returns the changes associated with a persisted
// sourcestamp, ordered by change id.
func (s *Store) GetChangesForSourceStamp(ssid int64) ([]models.Change, error) {
	var changes []models.Change
	if err := s.DB.Where("source_stamp_id = ?", ssid).
		Order("id ASC").Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("db: changes for sourcestamp %d: %w", ssid, err)
	}
	return changes, nil
}

// RecentChanges returns the newest changes, highest id first.
func (s *Store) RecentChanges(limit int) ([]models.Change, error) {
	var changes []models.Change
	if err := s.DB.Order("id DESC").Limit(limit).Find(&changes).Error; err != nil {
		return nil, fmt.Errorf("db: recent changes: %w", err)
	}
	return changes, nil
}

// GetObjectID returns the stable id for a named, classed object, creating
// the row on first use.
func (s *Store) GetObjectID(name, class string) (int64, error) {
	obj := models.Object{Name: name, Class: class}
	err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}, {Name: "class"}},
		DoNothing: true,
	}).Create(&obj).Error
	if err != nil {
		return 0, fmt.Errorf("db: get object id %s/%s: %w", name, class, err)
	}
	if obj.ID != 0 {
		return obj.ID, nil
	}
	// Conflict path: the row already existed, read it back.
	var existing models.Object
	if err := s.DB.Where("name = ? AND class = ?", name, class).
		First(&existing).Error; err != nil {
		return 0, fmt.Errorf("db: get object id %s/%s: %w", name, class, err)
	}
	return existing.ID, nil
}

// GetState returns a JSON-decoded state value for an object, or def if the
// key is unset.
func (s *Store) GetState(objectID int64, key string, def interface{}) (interface{}, error) {
	var row models.ObjectState
	err := s.DB.Where("object_id = ? AND `key` = ?", objectID, key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: get state %d/%s: %w", objectID, key, err)
	}
	var value interface{}
	if err := json.Unmarshal([]byte(row.Value), &value); err != nil {
		return nil, fmt.Errorf("db: decode state %d/%s: %w", objectID, key, err)
	}
	return value, nil
}

// SetState stores a JSON-encoded state value for an object.
func (s *Store) SetState(objectID int64, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("db: encode state %d/%s: %w", objectID, key, err)
	}
	row := models.ObjectState{ObjectID: objectID, Key: key, Value: string(data)}
	err = s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "object_id"}, {Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("db: set state %d/%s: %w", objectID, key, err)
	}
	return nil
}

// StampFields is a fully resolved inline sourcestamp, created on demand
// during buildset creation.
type StampFields struct {
	Codebase   string
	Repository string
	Branch     sql.NullString
	Revision   sql.NullString
	Project    string
	Patch      *models.Patch
}

// StampRef references either a persisted sourcestamp by id or inline fields
// to be created with the buildset. Exactly one of ID and Fields is set.
type StampRef struct {
	ID     int64
	Fields *StampFields
}

// InsertSourceStamp creates a sourcestamp row (and its patch, if any) and
// returns the new id.
func (s *Store) InsertSourceStamp(f *StampFields) (int64, error) {
	var id int64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		ssid, err := insertSourceStampTx(tx, f)
		if err != nil {
			return err
		}
		id = ssid
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func insertSourceStampTx(tx *gorm.DB, f *StampFields) (int64, error) {
	ss := models.SourceStamp{
		Codebase:   f.Codebase,
		Repository: f.Repository,
		Branch:     f.Branch,
		Revision:   f.Revision,
		Project:    f.Project,
	}
	if f.Patch != nil {
		patch := *f.Patch
		if err := tx.Create(&patch).Error; err != nil {
			return 0, fmt.Errorf("db: insert patch: %w", err)
		}
		ss.PatchID = &patch.ID
	}
	if err := tx.Create(&ss).Error; err != nil {
		return 0, fmt.Errorf("db: insert sourcestamp: %w", err)
	}
	return ss.ID, nil
}

// GetBuilderID maps a builder name to its persisted id. Unknown names are a
// lookup error wrapping ErrUnknownBuilder.
func (s *Store) GetBuilderID(name string) (int64, error) {
	var b models.Builder
	err := s.DB.Where("name = ?", name).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("db: builder %q: %w", name, ErrUnknownBuilder)
	}
	if err != nil {
		return 0, fmt.Errorf("db: builder %q: %w", name, err)
	}
	return b.ID, nil
}

// EnsureBuilder creates a builder row if absent and returns its id.
func (s *Store) EnsureBuilder(name string, tags []string) (int64, error) {
	b := models.Builder{Name: name, Tags: tags}
	err := s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&b).Error
	if err != nil {
		return 0, fmt.Errorf("db: ensure builder %q: %w", name, err)
	}
	if b.ID != 0 {
		return b.ID, nil
	}
	return s.GetBuilderID(name)
}

// BuildsetRequest carries everything needed for one atomic buildset
// creation.
type BuildsetRequest struct {
	Reason             string
	WaitedFor          bool
	ExternalIDString   string
	Properties         map[string]models.PropertyValue
	SourceStamps       []StampRef
	Builders           []BuilderRef
	Priority           int
	ParentBuildsetID   *int64
	ParentRelationship string
}

// BuilderRef pairs a resolved builder id with its name for the build-request
// map returned to callers.
type BuilderRef struct {
	ID   int64
	Name string
}

// CreateBuildset atomically creates inline sourcestamps, the buildset row,
// its sourcestamp links, and one build request per builder. A caller never
// observes a buildset referencing a partially created sourcestamp set: the
// whole operation succeeds or fails as one transaction.
func (s *Store) CreateBuildset(req BuildsetRequest) (int64, map[string]int64, error) {
	if len(req.SourceStamps) == 0 {
		return 0, nil, fmt.Errorf("db: create buildset: at least one sourcestamp is required")
	}

	var bsid int64
	brids := make(map[string]int64, len(req.Builders))

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		ssids := make([]int64, 0, len(req.SourceStamps))
		for _, ref := range req.SourceStamps {
			if ref.Fields != nil {
				ssid, err := insertSourceStampTx(tx, ref.Fields)
				if err != nil {
					return err
				}
				ssids = append(ssids, ssid)
				continue
			}
			ssids = append(ssids, ref.ID)
		}

		bs := models.Buildset{
			Reason:             req.Reason,
			WaitedFor:          req.WaitedFor,
			Properties:         req.Properties,
			Priority:           req.Priority,
			ParentBuildsetID:   req.ParentBuildsetID,
			ParentRelationship: req.ParentRelationship,
			CreatedAt:          time.Now(),
		}
		if req.ExternalIDString != "" {
			bs.ExternalIDString = sql.NullString{String: req.ExternalIDString, Valid: true}
		}
		if err := tx.Create(&bs).Error; err != nil {
			return fmt.Errorf("db: create buildset: %w", err)
		}
		bsid = bs.ID

		for _, ssid := range ssids {
			link := models.BuildsetSourceStamp{BuildsetID: bs.ID, SourceStampID: ssid}
			if err := tx.Create(&link).Error; err != nil {
				return fmt.Errorf("db: link sourcestamp %d: %w", ssid, err)
			}
		}

		for _, builder := range req.Builders {
			br := models.BuildRequest{
				BuildsetID: bs.ID,
				BuilderID:  builder.ID,
				Priority:   req.Priority,
				WaitedFor:  req.WaitedFor,
				CreatedAt:  time.Now(),
			}
			if err := tx.Create(&br).Error; err != nil {
				return fmt.Errorf("db: create build request for %q: %w", builder.Name, err)
			}
			brids[builder.Name] = br.ID
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return bsid, brids, nil
}

// GetBuildset returns one buildset by id.
func (s *Store) GetBuildset(id int64) (*models.Buildset, error) {
	var bs models.Buildset
	if err := s.DB.First(&bs, id).Error; err != nil {
		return nil, fmt.Errorf("db: get buildset %d: %w", id, err)
	}
	return &bs, nil
}

// SourceStampsForBuildset returns the sourcestamps linked to a buildset.
func (s *Store) SourceStampsForBuildset(bsid int64) ([]models.SourceStamp, error) {
	var stamps []models.SourceStamp
	err := s.DB.
		Joins("JOIN buildset_source_stamps bss ON bss.source_stamp_id = source_stamps.id").
		Where("bss.buildset_id = ?", bsid).
		Order("source_stamps.codebase ASC").
		Preload("Patch").
		Find(&stamps).Error
	if err != nil {
		return nil, fmt.Errorf("db: sourcestamps for buildset %d: %w", bsid, err)
	}
	return stamps, nil
}

// RecentBuildsets returns the newest buildsets, highest id first.
func (s *Store) RecentBuildsets(limit int) ([]models.Buildset, error) {
	var sets []models.Buildset
	if err := s.DB.Order("id DESC").Limit(limit).Find(&sets).Error; err != nil {
		return nil, fmt.Errorf("db: recent buildsets: %w", err)
	}
	return sets, nil
}
