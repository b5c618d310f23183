package dashboard

import (
	"time"

	"github.com/switchyard-ci/switchyard/internal/db"
	"github.com/switchyard-ci/switchyard/internal/models"
)

// SchedulerRow holds one scheduler's activation state for display.
type SchedulerRow struct {
	ObjectID  int64      `json:"object_id"`
	Name      string     `json:"name"`
	Claimed   bool       `json:"claimed"`
	MasterID  *int64     `json:"master_id,omitempty"`
	Master    string     `json:"master,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// SchedulerSummary lists every known scheduler object with its current
// claim, if any.
func SchedulerSummary(store *db.Store) ([]SchedulerRow, error) {
	var objects []models.Object
	if err := store.DB.Where("class = ?", "scheduler").Order("name ASC").Find(&objects).Error; err != nil {
		return nil, err
	}

	rows := make([]SchedulerRow, 0, len(objects))
	for _, obj := range objects {
		row := SchedulerRow{ObjectID: obj.ID, Name: obj.Name}

		masterID, held, err := store.SchedulerOwner(obj.ID)
		if err != nil {
			return nil, err
		}
		if held {
			row.Claimed = true
			row.MasterID = &masterID

			var claim models.SchedulerClaim
			if err := store.DB.First(&claim, "object_id = ?", obj.ID).Error; err == nil {
				t := claim.ClaimedAt
				row.ClaimedAt = &t
			}
			var m models.Master
			if err := store.DB.First(&m, masterID).Error; err == nil {
				row.Master = m.Name
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
