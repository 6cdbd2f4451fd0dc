package scheduling

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/db/models"
)

// TeamRepository maintains the team member projection fed by availability
// events from the user service.
type TeamRepository struct {
	client *db.Client
}

func NewTeamRepository(client *db.Client) *TeamRepository {
	return &TeamRepository{client: client}
}

// UpsertTx applies the latest availability snapshot for a member.
func (r *TeamRepository) UpsertTx(tx *gorm.DB, member *models.TeamMember) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"specialties", "is_available", "updated_at"}),
	}).Create(member).Error
}

func (r *TeamRepository) FindByID(ctx context.Context, id int64) (*models.TeamMember, error) {
	var member models.TeamMember
	if err := r.client.DB().WithContext(ctx).First(&member, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &member, nil
}

// AvailableBySpecialty returns available members holding the specialty,
// ordered by id so selection is deterministic. The specialty filter runs in
// Go: the projection is small and array membership SQL differs between the
// postgres and sqlite drivers.
func (r *TeamRepository) AvailableBySpecialty(tx *gorm.DB, specialtyID int64) ([]models.TeamMember, error) {
	var members []models.TeamMember
	err := tx.
		Where("is_available = ?", true).
		Order("id asc").
		Find(&members).Error
	if err != nil {
		return nil, err
	}

	qualified := members[:0]
	for _, m := range members {
		for _, s := range m.Specialties {
			if s == specialtyID {
				qualified = append(qualified, m)
				break
			}
		}
	}
	return qualified, nil
}
