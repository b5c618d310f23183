// Package identity registers this master process in the cluster and keeps
// its liveness timestamp fresh while it runs.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/switchyard-ci/switchyard/internal/models"
)

// DefaultHeartbeatInterval is the default interval between liveness updates.
const DefaultHeartbeatInterval = 10 * time.Second

// MachineIdentity derives a stable identifier for this host, falling back to
// a random UUID when the machine id is unavailable (containers, stripped-down
// images).
func MachineIdentity(name string) string {
	if id, err := machineid.ProtectedID("switchyard"); err == nil {
		return fmt.Sprintf("%s-%s", name, id[:12])
	}
	return fmt.Sprintf("%s-%s", name, uuid.NewString())
}

// Register inserts or refreshes this master's row and returns its id. A
// master keeps the same id across restarts as long as its identity string is
// stable.
func Register(db *gorm.DB, identity, name string) (int64, error) {
	m := models.Master{
		Identity:     identity,
		Name:         name,
		Active:       true,
		LastActivity: time.Now(),
	}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "active", "last_activity"}),
	}).Create(&m).Error
	if err != nil {
		return 0, fmt.Errorf("identity: register master %q: %w", identity, err)
	}

	var current models.Master
	if err := db.Where("identity = ?", identity).First(&current).Error; err != nil {
		return 0, fmt.Errorf("identity: read back master %q: %w", identity, err)
	}
	return current.ID, nil
}

// StartHeartbeat launches a goroutine that periodically refreshes the
// master's last_activity timestamp. It returns a channel that receives an
// error if the row disappears or the update fails; context cancellation
// stops the loop silently.
func StartHeartbeat(ctx context.Context, db *gorm.DB, masterID int64, interval time.Duration) <-chan error {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	errCh := make(chan error, 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				result := db.Model(&models.Master{}).
					Where("id = ?", masterID).
					Update("last_activity", time.Now())

				if result.Error != nil {
					errCh <- fmt.Errorf("identity: heartbeat master %d: %w", masterID, result.Error)
					return
				}
				if result.RowsAffected == 0 {
					errCh <- fmt.Errorf("identity: heartbeat master %d: master not found", masterID)
					return
				}
			}
		}
	}()

	return errCh
}

// MarkStopped flags the master inactive on clean shutdown.
func MarkStopped(db *gorm.DB, masterID int64) error {
	if err := db.Model(&models.Master{}).Where("id = ?", masterID).
		Update("active", false).Error; err != nil {
		return fmt.Errorf("identity: mark master %d stopped: %w", masterID, err)
	}
	return nil
}

// StaleMasters returns active masters whose liveness timestamp is older than
// the cutoff.
func StaleMasters(db *gorm.DB, olderThan time.Duration) ([]models.Master, error) {
	var masters []models.Master
	cutoff := time.Now().Add(-olderThan)
	if err := db.Where("active = ? AND last_activity < ?", true, cutoff).
		Find(&masters).Error; err != nil {
		return nil, fmt.Errorf("identity: list stale masters: %w", err)
	}
	return masters, nil
}
