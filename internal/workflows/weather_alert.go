package workflows

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/internal/scheduling"
	"github.com/verdantops/verdant-events/pkg/consumer"
	"github.com/verdantops/verdant-events/pkg/enums"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/events/payloads"
	"github.com/verdantops/verdant-events/pkg/logger"
	"github.com/verdantops/verdant-events/pkg/outbox"
)

const weatherRiskTemplate = "weather_risk_notice"

// WeatherAlertWorkflow scans appointments against an alert window and flags
// the ones at risk. Flags only ever move toward at_risk here; clearing them
// is a separate explicit event this workflow does not handle.
type WeatherAlertWorkflow struct {
	registry     *events.Registry
	outbox       *outbox.Service
	appointments *scheduling.AppointmentRepository
	logg         *logger.Logger
	source       string
}

func NewWeatherAlertWorkflow(
	registry *events.Registry,
	outboxSvc *outbox.Service,
	appointments *scheduling.AppointmentRepository,
	logg *logger.Logger,
	source string,
) (*WeatherAlertWorkflow, error) {
	if registry == nil || outboxSvc == nil || appointments == nil || logg == nil {
		return nil, errors.New("registry, outbox service, appointment repository and logger are required")
	}
	return &WeatherAlertWorkflow{
		registry:     registry,
		outbox:       outboxSvc,
		appointments: appointments,
		logg:         logg,
		source:       source,
	}, nil
}

func (w *WeatherAlertWorkflow) Handle(ctx context.Context, tx *gorm.DB, evt *events.Event) error {
	resolved, err := w.registry.Resolve(evt)
	if err != nil {
		return consumer.Permanent(err)
	}
	alert, ok := resolved.Payload.(*payloads.WeatherAlertUpdated)
	if !ok {
		return consumer.Permanent(fmt.Errorf("unexpected payload type %T", resolved.Payload))
	}
	if alert.ValidTo.Before(alert.ValidFrom) {
		return consumer.Permanent(fmt.Errorf("alert %s window ends before it starts", alert.AlertID))
	}

	// Window bounds are inclusive on both ends.
	appts, err := w.appointments.FindScheduledInWindow(tx, alert.Areas, alert.ValidFrom, alert.ValidTo)
	if err != nil {
		return err
	}

	// Newly flagged appointments grouped by client; already-flagged ones are
	// skipped entirely so reprocessing and overlapping alerts stay silent.
	flaggedByClient := map[uuid.UUID][]uuid.UUID{}
	for _, appt := range appts {
		changed, err := w.appointments.FlagAtRiskTx(tx, appt.ID)
		if err != nil {
			return err
		}
		if !changed {
			continue
		}

		riskEvent := &payloads.AppointmentRiskFlagged{
			AppointmentID: appt.ID,
			ClientID:      appt.ClientID,
			AlertID:       alert.AlertID,
			Risk:          string(enums.WeatherRiskAtRisk),
		}
		if _, err := w.outbox.Encode(ctx, tx, enums.EventAppointmentRiskFlagged, w.source, evt.CorrelationID, riskEvent, appt.ID.String()); err != nil {
			return err
		}
		flaggedByClient[appt.ClientID] = append(flaggedByClient[appt.ClientID], appt.ID)
	}

	// One aggregated notice per client, not one per appointment.
	clientIDs := make([]uuid.UUID, 0, len(flaggedByClient))
	for clientID := range flaggedByClient {
		clientIDs = append(clientIDs, clientID)
	}
	sort.Slice(clientIDs, func(i, j int) bool { return clientIDs[i].String() < clientIDs[j].String() })

	for _, clientID := range clientIDs {
		notice := &payloads.NotificationDispatchRequested{
			ClientID:       clientID,
			TemplateID:     weatherRiskTemplate,
			AppointmentIDs: flaggedByClient[clientID],
			Variables: map[string]string{
				"alert_id": alert.AlertID,
				"severity": alert.Severity,
			},
		}
		if _, err := w.outbox.Encode(ctx, tx, enums.EventNotificationRequested, w.source, evt.CorrelationID, notice, clientID.String()); err != nil {
			return err
		}
	}

	if len(flaggedByClient) > 0 {
		logCtx := w.logg.WithFields(ctx, map[string]any{
			"alert_id":         alert.AlertID,
			"clients_notified": len(flaggedByClient),
		})
		w.logg.Info(logCtx, "weather alert impact recorded")
	}
	return nil
}
