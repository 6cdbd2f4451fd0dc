package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/internal/scheduling"
	"github.com/verdantops/verdant-events/pkg/clients"
	"github.com/verdantops/verdant-events/pkg/consumer"
	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
	pkgerrors "github.com/verdantops/verdant-events/pkg/errors"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/events/payloads"
	"github.com/verdantops/verdant-events/pkg/logger"
	"github.com/verdantops/verdant-events/pkg/outbox"
)

const confirmationTemplate = "appointment_confirmation"

// AppointmentCreatedWorkflow fans a new appointment out to its downstream
// services: a confirmation send request for Notification and a forecast
// tracking request for Weather. Both leave as new outbox events in the
// handler's transaction, never as synchronous calls, so a slow downstream
// cannot block the chain.
type AppointmentCreatedWorkflow struct {
	registry     *events.Registry
	outbox       *outbox.Service
	appointments *scheduling.AppointmentRepository
	users        *clients.UserClient
	catalog      *clients.CatalogClient
	lookupWait   time.Duration
	logg         *logger.Logger
	source       string
}

func NewAppointmentCreatedWorkflow(
	registry *events.Registry,
	outboxSvc *outbox.Service,
	appointments *scheduling.AppointmentRepository,
	users *clients.UserClient,
	catalog *clients.CatalogClient,
	lookupWait time.Duration,
	logg *logger.Logger,
	source string,
) (*AppointmentCreatedWorkflow, error) {
	if registry == nil || outboxSvc == nil || appointments == nil || logg == nil {
		return nil, errors.New("registry, outbox service, appointment repository and logger are required")
	}
	if lookupWait <= 0 {
		lookupWait = 5 * time.Second
	}
	return &AppointmentCreatedWorkflow{
		registry:     registry,
		outbox:       outboxSvc,
		appointments: appointments,
		users:        users,
		catalog:      catalog,
		lookupWait:   lookupWait,
		logg:         logg,
		source:       source,
	}, nil
}

// Handle runs inside the consumer's transaction.
func (w *AppointmentCreatedWorkflow) Handle(ctx context.Context, tx *gorm.DB, evt *events.Event) error {
	resolved, err := w.registry.Resolve(evt)
	if err != nil {
		return consumer.Permanent(err)
	}
	payload, ok := resolved.Payload.(*payloads.AppointmentCreated)
	if !ok {
		return consumer.Permanent(fmt.Errorf("unexpected payload type %T", resolved.Payload))
	}

	if err := w.validateReferences(ctx, payload); err != nil {
		return err
	}

	if err := w.recordAppointment(ctx, tx, payload); err != nil {
		return err
	}

	notification := &payloads.NotificationDispatchRequested{
		ClientID:       payload.ClientID,
		TemplateID:     confirmationTemplate,
		AppointmentIDs: []uuid.UUID{payload.AppointmentID},
		Variables: map[string]string{
			"scheduled_at": payload.ScheduledAt.UTC().Format(time.RFC3339),
			"postcode":     payload.Postcode,
		},
	}
	if _, err := w.outbox.Encode(ctx, tx, enums.EventNotificationRequested, w.source, evt.CorrelationID, notification, payload.ClientID.String()); err != nil {
		return err
	}

	forecast := &payloads.ForecastCheckRequested{
		AppointmentID: payload.AppointmentID,
		ScheduledAt:   payload.ScheduledAt,
		Postcode:      payload.Postcode,
	}
	if _, err := w.outbox.Encode(ctx, tx, enums.EventForecastCheckRequested, w.source, evt.CorrelationID, forecast, payload.AppointmentID.String()); err != nil {
		return err
	}

	return nil
}

// validateReferences checks the client and service against their owning
// services in parallel, each under its own deadline. A missing reference is
// permanent; an unreachable service degrades to proceeding on trust, since
// blocking confirmations on a catalog outage is worse than a late correction.
func (w *AppointmentCreatedWorkflow) validateReferences(ctx context.Context, payload *payloads.AppointmentCreated) error {
	if w.users == nil && w.catalog == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if w.users != nil {
		g.Go(func() error {
			lookupCtx, cancel := context.WithTimeout(gctx, w.lookupWait)
			defer cancel()
			_, err := w.users.GetClient(lookupCtx, payload.ClientID)
			return w.classifyLookup(ctx, "client lookup", err)
		})
	}
	if w.catalog != nil {
		g.Go(func() error {
			lookupCtx, cancel := context.WithTimeout(gctx, w.lookupWait)
			defer cancel()
			_, err := w.catalog.GetService(lookupCtx, payload.ServiceID)
			return w.classifyLookup(ctx, "service lookup", err)
		})
	}
	return g.Wait()
}

func (w *AppointmentCreatedWorkflow) classifyLookup(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		switch typed.Code() {
		case pkgerrors.CodeNotFound, pkgerrors.CodeValidation:
			return consumer.Permanent(fmt.Errorf("%s: %w", op, err))
		case pkgerrors.CodeDependency:
			w.logg.Warn(ctx, op+" degraded, proceeding without confirmation")
			return nil
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// recordAppointment mirrors the booking into the local table. A redelivered
// event finds its own row and is a no-op; a different appointment occupying
// the slot is a genuine double booking and permanent.
func (w *AppointmentCreatedWorkflow) recordAppointment(ctx context.Context, tx *gorm.DB, payload *payloads.AppointmentCreated) error {
	var existing int64
	if err := tx.Model(&models.Appointment{}).Where("id = ?", payload.AppointmentID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return nil
	}

	appt := &models.Appointment{
		ID:          payload.AppointmentID,
		ClientID:    payload.ClientID,
		ServiceID:   payload.ServiceID,
		ScheduledAt: payload.ScheduledAt.UTC(),
		Postcode:    payload.Postcode,
		Status:      enums.AppointmentScheduled,
		WeatherRisk: enums.WeatherRiskUnknown,
		Notes:       payload.Notes,
	}
	err := w.appointments.CreateTx(tx, appt)
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeConflict {
		return consumer.Permanent(err)
	}
	return err
}
