package db

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/switchyard-ci/switchyard/internal/models"
)

// CreateBuild starts a build for a request, numbering it per builder.
func (s *Store) CreateBuild(buildRequestID, builderID int64) (int64, error) {
	var id int64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var maxNumber int
		row := tx.Model(&models.Build{}).
			Where("builder_id = ?", builderID).
			Select("COALESCE(MAX(number), 0)").
			Row()
		if err := row.Scan(&maxNumber); err != nil {
			return fmt.Errorf("db: next build number for builder %d: %w", builderID, err)
		}

		b := models.Build{
			BuildRequestID: buildRequestID,
			BuilderID:      builderID,
			Number:         maxNumber + 1,
			StartedAt:      time.Now(),
		}
		if err := tx.Create(&b).Error; err != nil {
			return fmt.Errorf("db: create build for request %d: %w", buildRequestID, err)
		}
		id = b.ID
		return nil
	})
	return id, err
}

// CompleteBuild records a build's final result and state string.
func (s *Store) CompleteBuild(buildID int64, results int, stateString string) error {
	now := time.Now()
	res := s.DB.Model(&models.Build{}).Where("id = ?", buildID).Updates(map[string]interface{}{
		"results":      results,
		"state_string": stateString,
		"completed_at": &now,
	})
	if res.Error != nil {
		return fmt.Errorf("db: complete build %d: %w", buildID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("db: complete build %d: build not found", buildID)
	}
	return nil
}

// GetBuild loads one build with its builder and request.
func (s *Store) GetBuild(id int64) (*models.Build, error) {
	var b models.Build
	if err := s.DB.Preload("Builder").Preload("BuildRequest").First(&b, id).Error; err != nil {
		return nil, fmt.Errorf("db: get build %d: %w", id, err)
	}
	return &b, nil
}

// PreviousBuildResult returns the result of the most recent completed build
// on the same builder before the given build, or nil when there is none.
func (s *Store) PreviousBuildResult(builderID, beforeBuildID int64) (*int, error) {
	var prev models.Build
	err := s.DB.Where("builder_id = ? AND id < ? AND results IS NOT NULL", builderID, beforeBuildID).
		Order("id DESC").
		First(&prev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: previous build on builder %d: %w", builderID, err)
	}
	return prev.Results, nil
}

// BuildsForBuildset returns completed builds of a buildset's requests.
func (s *Store) BuildsForBuildset(bsid int64) ([]models.Build, error) {
	var builds []models.Build
	err := s.DB.
		Joins("JOIN build_requests ON build_requests.id = builds.build_request_id").
		Where("build_requests.buildset_id = ?", bsid).
		Preload("Builder").
		Order("builds.id ASC").
		Find(&builds).Error
	if err != nil {
		return nil, fmt.Errorf("db: builds for buildset %d: %w", bsid, err)
	}
	return builds, nil
}

// BlamelistForBuildset returns the distinct authors of all changes behind a
// buildset's sourcestamps, in change order.
func (s *Store) BlamelistForBuildset(bsid int64) ([]string, error) {
	var changes []models.Change
	err := s.DB.
		Joins("JOIN buildset_source_stamps ON buildset_source_stamps.source_stamp_id = changes.source_stamp_id").
		Where("buildset_source_stamps.buildset_id = ?", bsid).
		Order("changes.id ASC").
		Find(&changes).Error
	if err != nil {
		return nil, fmt.Errorf("db: blamelist for buildset %d: %w", bsid, err)
	}

	seen := make(map[string]bool, len(changes))
	var authors []string
	for _, c := range changes {
		if c.Author == "" || seen[c.Author] {
			continue
		}
		seen[c.Author] = true
		authors = append(authors, c.Author)
	}
	return authors, nil
}
