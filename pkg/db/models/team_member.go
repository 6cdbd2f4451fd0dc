package models

import (
	"time"

	"github.com/lib/pq"
)

// TeamMember is a read-model projection of the user service's team members,
// maintained from availability-changed events. It exists so reassignment can
// query qualified candidates without a synchronous cross-service call.
type TeamMember struct {
	ID          int64         `gorm:"column:id;primaryKey"`
	Specialties pq.Int64Array `gorm:"column:specialties;type:bigint[]"`
	IsAvailable bool          `gorm:"column:is_available;not null;default:true"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

func (TeamMember) TableName() string {
	return "team_members"
}
