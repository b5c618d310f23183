package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/switchyard-ci/switchyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TryClaimScheduler attempts to claim the scheduler object for the given
// master using insert-if-absent semantics. It returns true when the master
// owns the claim afterwards, whether this call inserted it or the master
// already held it. False negatives (nobody active for one poll interval) are
// tolerated by the arbiter; double activation is not, so the check-and-set
// runs in a single transaction.
func (s *Store) TryClaimScheduler(objectID, masterID int64) (bool, error) {
	var owned bool
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		claim := models.SchedulerClaim{
			ObjectID:  objectID,
			MasterID:  masterID,
			ClaimedAt: time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "object_id"}},
			DoNothing: true,
		}).Create(&claim).Error; err != nil {
			return fmt.Errorf("db: claim scheduler %d: %w", objectID, err)
		}

		var current models.SchedulerClaim
		if err := tx.Where("object_id = ?", objectID).First(&current).Error; err != nil {
			return fmt.Errorf("db: read scheduler claim %d: %w", objectID, err)
		}
		owned = current.MasterID == masterID
		return nil
	})
	if err != nil {
		return false, err
	}
	return owned, nil
}

// ReleaseScheduler drops the claim if held by the given master. Releasing a
// claim that is not held is not an error.
func (s *Store) ReleaseScheduler(objectID, masterID int64) error {
	result := s.DB.Where("object_id = ? AND master_id = ?", objectID, masterID).
		Delete(&models.SchedulerClaim{})
	if result.Error != nil {
		return fmt.Errorf("db: release scheduler %d: %w", objectID, result.Error)
	}
	return nil
}

// SchedulerOwner returns the master currently holding the claim, if any.
func (s *Store) SchedulerOwner(objectID int64) (int64, bool, error) {
	var claim models.SchedulerClaim
	err := s.DB.Where("object_id = ?", objectID).First(&claim).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("db: scheduler owner %d: %w", objectID, err)
	}
	return claim.MasterID, true, nil
}

// ReleaseMasterClaims drops every claim held by a master, used when a master
// shuts down or is marked stale.
func (s *Store) ReleaseMasterClaims(masterID int64) error {
	result := s.DB.Where("master_id = ?", masterID).Delete(&models.SchedulerClaim{})
	if result.Error != nil {
		return fmt.Errorf("db: release claims for master %d: %w", masterID, result.Error)
	}
	return nil
}
