package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/internal/scheduling"
	"github.com/verdantops/verdant-events/pkg/consumer"
	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/events/payloads"
	"github.com/verdantops/verdant-events/pkg/logger"
	"github.com/verdantops/verdant-events/pkg/outbox"
)

// ReassignmentWorkflow reacts to availability changes from the user service.
// Every event refreshes the team member projection; an is_available=false
// event additionally walks the member's future appointments and tries to
// hand each one to another qualified member.
type ReassignmentWorkflow struct {
	registry     *events.Registry
	outbox       *outbox.Service
	appointments *scheduling.AppointmentRepository
	team         *scheduling.TeamRepository
	strategy     ReassignmentStrategy
	now          func() time.Time
	logg         *logger.Logger
	source       string
}

func NewReassignmentWorkflow(
	registry *events.Registry,
	outboxSvc *outbox.Service,
	appointments *scheduling.AppointmentRepository,
	team *scheduling.TeamRepository,
	strategy ReassignmentStrategy,
	logg *logger.Logger,
	source string,
) (*ReassignmentWorkflow, error) {
	if registry == nil || outboxSvc == nil || appointments == nil || team == nil || logg == nil {
		return nil, errors.New("registry, outbox service, repositories and logger are required")
	}
	if strategy == nil {
		strategy = FirstQualified{}
	}
	return &ReassignmentWorkflow{
		registry:     registry,
		outbox:       outboxSvc,
		appointments: appointments,
		team:         team,
		strategy:     strategy,
		now:          func() time.Time { return time.Now().UTC() },
		logg:         logg,
		source:       source,
	}, nil
}

func (w *ReassignmentWorkflow) Handle(ctx context.Context, tx *gorm.DB, evt *events.Event) error {
	resolved, err := w.registry.Resolve(evt)
	if err != nil {
		return consumer.Permanent(err)
	}
	change, ok := resolved.Payload.(*payloads.TeamMemberAvailabilityChanged)
	if !ok {
		return consumer.Permanent(fmt.Errorf("unexpected payload type %T", resolved.Payload))
	}

	member := &models.TeamMember{
		ID:          change.MemberID,
		Specialties: pq.Int64Array(change.Specialties),
		IsAvailable: change.IsAvailable,
	}
	if err := w.team.UpsertTx(tx, member); err != nil {
		return err
	}
	if change.IsAvailable {
		return nil
	}

	appts, err := w.appointments.UpcomingByAssignee(tx, change.MemberID, w.now())
	if err != nil {
		return err
	}

	for _, appt := range appts {
		if err := w.reassignOne(ctx, tx, evt, change.MemberID, appt); err != nil {
			return err
		}
	}
	return nil
}

// reassignOne hands one appointment to a new member or parks it for manual
// dispatch. Either way exactly one reassignment event leaves per appointment.
func (w *ReassignmentWorkflow) reassignOne(ctx context.Context, tx *gorm.DB, evt *events.Event, previousMember int64, appt models.Appointment) error {
	candidates, err := w.team.AvailableBySpecialty(tx, appt.ServiceID)
	if err != nil {
		return err
	}
	eligible := candidates[:0]
	for _, c := range candidates {
		if c.ID != previousMember {
			eligible = append(eligible, c)
		}
	}

	outcome := &payloads.AppointmentReassigned{
		AppointmentID:    appt.ID,
		PreviousMemberID: previousMember,
	}

	if newMember, found := w.strategy.Select(appt, eligible); found {
		if err := w.appointments.ReassignTx(tx, appt.ID, newMember); err != nil {
			return err
		}
		outcome.NewMemberID = &newMember
	} else {
		if err := w.appointments.MarkNeedsManualTx(tx, appt.ID); err != nil {
			return err
		}
		outcome.NeedsManual = true
		logCtx := w.logg.WithField(ctx, "appointment_id", appt.ID.String())
		w.logg.Warn(logCtx, "no qualified member available, appointment parked for manual reassignment")
	}

	_, err = w.outbox.Encode(ctx, tx, enums.EventAppointmentReassigned, w.source, evt.CorrelationID, outcome, appt.ID.String())
	return err
}
