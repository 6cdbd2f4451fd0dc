package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
	pkgerrors "github.com/verdantops/verdant-events/pkg/errors"
)

// AppointmentRepository owns the scheduling service's appointment rows and
// the narrow mutations the reconciliation workflows perform on them.
type AppointmentRepository struct {
	client *db.Client
}

func NewAppointmentRepository(client *db.Client) *AppointmentRepository {
	return &AppointmentRepository{client: client}
}

// CreateTx inserts a new appointment. The slot index (client, service, time,
// postcode) rejects double bookings; those surface as CodeConflict.
func (r *AppointmentRepository) CreateTx(tx *gorm.DB, appt *models.Appointment) error {
	err := tx.Create(appt).Error
	if err != nil && db.IsUniqueViolation(err, "ux_appointments_slot") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "appointment slot already booked")
	}
	return err
}

func (r *AppointmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Appointment, error) {
	var appt models.Appointment
	err := r.client.DB().WithContext(ctx).First(&appt, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "appointment not found")
	}
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

// FindScheduledInWindow returns scheduled appointments whose time falls
// inside [from, to] (bounds inclusive) and whose postcode is in areas. It
// reads through the caller's handle so workflows see their own writes.
func (r *AppointmentRepository) FindScheduledInWindow(tx *gorm.DB, areas []string, from, to time.Time) ([]models.Appointment, error) {
	if len(areas) == 0 {
		return nil, nil
	}
	var appts []models.Appointment
	err := tx.
		Where("status = ?", enums.AppointmentScheduled).
		Where("postcode IN ?", areas).
		Where("scheduled_at >= ? AND scheduled_at <= ?", from, to).
		Order("scheduled_at asc, id asc").
		Find(&appts).Error
	if err != nil {
		return nil, err
	}
	return appts, nil
}

// FlagAtRiskTx sets the weather risk flag and reports whether anything
// changed. An already-flagged appointment yields false so callers emit the
// transition event at most once.
func (r *AppointmentRepository) FlagAtRiskTx(tx *gorm.DB, id uuid.UUID) (bool, error) {
	result := tx.Model(&models.Appointment{}).
		Where("id = ?", id).
		Where("weather_risk <> ?", enums.WeatherRiskAtRisk).
		Update("weather_risk", enums.WeatherRiskAtRisk)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpcomingByAssignee lists scheduled future appointments held by a member.
func (r *AppointmentRepository) UpcomingByAssignee(tx *gorm.DB, memberID int64, now time.Time) ([]models.Appointment, error) {
	var appts []models.Appointment
	err := tx.
		Where("assignee_id = ?", memberID).
		Where("status = ?", enums.AppointmentScheduled).
		Where("scheduled_at > ?", now).
		Order("scheduled_at asc, id asc").
		Find(&appts).Error
	if err != nil {
		return nil, err
	}
	return appts, nil
}

// ReassignTx moves the appointment to a new assignee and clears any manual
// reassignment flag left from an earlier failed attempt.
func (r *AppointmentRepository) ReassignTx(tx *gorm.DB, id uuid.UUID, newAssignee int64) error {
	return tx.Model(&models.Appointment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"assignee_id":               newAssignee,
			"needs_manual_reassignment": false,
		}).Error
}

// MarkNeedsManualTx drops the assignee and flags the appointment for a
// dispatcher to resolve by hand.
func (r *AppointmentRepository) MarkNeedsManualTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.Appointment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"assignee_id":               nil,
			"needs_manual_reassignment": true,
		}).Error
}
