package scheduling

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
	pkgerrors "github.com/verdantops/verdant-events/pkg/errors"
)

func openTestDB(t *testing.T) *db.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Appointment{}, &models.TeamMember{}))
	client := db.FromConn(conn)
	t.Cleanup(func() {
		sqlDB, _ := conn.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})
	return client
}

func newAppointment(scheduledAt time.Time, postcode string) *models.Appointment {
	return &models.Appointment{
		ID:          uuid.New(),
		ClientID:    uuid.New(),
		ServiceID:   23,
		ScheduledAt: scheduledAt,
		Postcode:    postcode,
		Status:      enums.AppointmentScheduled,
		WeatherRisk: enums.WeatherRiskUnknown,
	}
}

func TestCreateRejectsDoubleBooking(t *testing.T) {
	client := openTestDB(t)
	repo := NewAppointmentRepository(client)
	ctx := context.Background()

	slot := time.Date(2026, 9, 12, 10, 0, 0, 0, time.UTC)
	first := newAppointment(slot, "SW1A 1AA")
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.CreateTx(tx, first)
	}))

	dup := newAppointment(slot, "SW1A 1AA")
	dup.ClientID = first.ClientID
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.CreateTx(tx, dup)
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())

	// Same client and slot but a different service is a distinct booking.
	other := newAppointment(slot, "SW1A 1AA")
	other.ClientID = first.ClientID
	other.ServiceID = 41
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.CreateTx(tx, other)
	}))
}

func TestFindScheduledInWindowBoundsInclusive(t *testing.T) {
	client := openTestDB(t)
	repo := NewAppointmentRepository(client)

	from := time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 9, 12, 0, 0, 0, 0, time.UTC)

	atStart := newAppointment(from, "SW1A 1AA")
	atEnd := newAppointment(to, "SW1A 1AA")
	before := newAppointment(from.Add(-time.Second), "SW1A 1AA")
	after := newAppointment(to.Add(time.Second), "SW1A 1AA")
	otherArea := newAppointment(from.Add(time.Hour), "EC1A 1BB")
	cancelled := newAppointment(from.Add(2*time.Hour), "SW1A 1AA")
	cancelled.Status = enums.AppointmentCancelled

	for _, appt := range []*models.Appointment{atStart, atEnd, before, after, otherArea, cancelled} {
		require.NoError(t, client.DB().Create(appt).Error)
	}

	appts, err := repo.FindScheduledInWindow(client.DB(), []string{"SW1A 1AA"}, from, to)
	require.NoError(t, err)
	require.Len(t, appts, 2)
	assert.Equal(t, atStart.ID, appts[0].ID)
	assert.Equal(t, atEnd.ID, appts[1].ID)

	appts, err = repo.FindScheduledInWindow(client.DB(), nil, from, to)
	require.NoError(t, err)
	assert.Empty(t, appts)
}

func TestFlagAtRiskReportsTransition(t *testing.T) {
	client := openTestDB(t)
	repo := NewAppointmentRepository(client)
	ctx := context.Background()

	appt := newAppointment(time.Now().Add(48*time.Hour), "SW1A 1AA")
	require.NoError(t, client.DB().Create(appt).Error)

	var changed bool
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		changed, err = repo.FlagAtRiskTx(tx, appt.ID)
		return err
	}))
	assert.True(t, changed, "first flagging is a transition")

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		changed, err = repo.FlagAtRiskTx(tx, appt.ID)
		return err
	}))
	assert.False(t, changed, "flagging an at-risk appointment is a no-op")

	got, err := repo.FindByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.WeatherRiskAtRisk, got.WeatherRisk)
}

func TestUpcomingByAssigneeSkipsPastAndDone(t *testing.T) {
	client := openTestDB(t)
	repo := NewAppointmentRepository(client)
	now := time.Now().UTC()
	member := int64(78)

	future := newAppointment(now.Add(24*time.Hour), "SW1A 1AA")
	future.AssigneeID = &member
	past := newAppointment(now.Add(-24*time.Hour), "SW1A 1AA")
	past.AssigneeID = &member
	completed := newAppointment(now.Add(48*time.Hour), "SW1A 1AA")
	completed.AssigneeID = &member
	completed.Status = enums.AppointmentCompleted

	for _, appt := range []*models.Appointment{future, past, completed} {
		require.NoError(t, client.DB().Create(appt).Error)
	}

	appts, err := repo.UpcomingByAssignee(client.DB(), member, now)
	require.NoError(t, err)
	require.Len(t, appts, 1)
	assert.Equal(t, future.ID, appts[0].ID)
}

func TestReassignAndMarkManual(t *testing.T) {
	client := openTestDB(t)
	repo := NewAppointmentRepository(client)
	ctx := context.Background()

	member := int64(78)
	appt := newAppointment(time.Now().Add(24*time.Hour), "SW1A 1AA")
	appt.AssigneeID = &member
	appt.NeedsManualReassignment = true
	require.NoError(t, client.DB().Create(appt).Error)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.ReassignTx(tx, appt.ID, 81)
	}))
	got, err := repo.FindByID(ctx, appt.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AssigneeID)
	assert.Equal(t, int64(81), *got.AssigneeID)
	assert.False(t, got.NeedsManualReassignment)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.MarkNeedsManualTx(tx, appt.ID)
	}))
	got, err = repo.FindByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssigneeID)
	assert.True(t, got.NeedsManualReassignment)
}

func TestFindByIDNotFound(t *testing.T) {
	client := openTestDB(t)
	repo := NewAppointmentRepository(client)

	_, err := repo.FindByID(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestTeamUpsertAndSpecialtyFilter(t *testing.T) {
	client := openTestDB(t)
	repo := NewTeamRepository(client)
	ctx := context.Background()

	seed := []*models.TeamMember{
		{ID: 78, Specialties: pq.Int64Array{7, 9}, IsAvailable: true},
		{ID: 81, Specialties: pq.Int64Array{7}, IsAvailable: true},
		{ID: 90, Specialties: pq.Int64Array{7}, IsAvailable: false},
		{ID: 95, Specialties: pq.Int64Array{12}, IsAvailable: true},
	}
	for _, m := range seed {
		require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
			return repo.UpsertTx(tx, m)
		}))
	}

	members, err := repo.AvailableBySpecialty(client.DB(), 7)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, int64(78), members[0].ID, "selection order is deterministic by id")
	assert.Equal(t, int64(81), members[1].ID)

	// A later event flips member 78 unavailable; the upsert replaces the row.
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.UpsertTx(tx, &models.TeamMember{ID: 78, Specialties: pq.Int64Array{7, 9}, IsAvailable: false})
	}))
	members, err = repo.AvailableBySpecialty(client.DB(), 7)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, int64(81), members[0].ID)

	got, err := repo.FindByID(ctx, 78)
	require.NoError(t, err)
	assert.False(t, got.IsAvailable)
}
