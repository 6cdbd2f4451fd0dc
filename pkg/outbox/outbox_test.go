package outbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/events/payloads"
)

func openTestDB(t *testing.T) *db.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.OutboxEvent{}, &models.EventDLQ{}))

	client := db.FromConn(conn)
	t.Cleanup(func() {
		sqlDB, _ := conn.DB()
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	})
	return client
}

func testRegistry(t *testing.T) *events.Registry {
	t.Helper()
	reg, err := events.NewRegistry(
		events.Definition{
			Type:       enums.EventAppointmentCreated,
			Aggregate:  enums.AggregateAppointment,
			Topic:      "verdant-scheduling-events",
			NewPayload: func() any { return &payloads.AppointmentCreated{} },
		},
	)
	require.NoError(t, err)
	return reg
}

func insertPending(t *testing.T, client *db.Client, aggregateID string, occurredAt time.Time) uuid.UUID {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	row := models.OutboxEvent{
		ID:            id,
		EventType:     enums.EventAppointmentCreated,
		AggregateType: enums.AggregateAppointment,
		AggregateID:   aggregateID,
		Payload:       []byte(`{"id":"` + id.String() + `"}`),
		Status:        enums.OutboxStatusPending,
		NextAttemptAt: occurredAt,
		OccurredAt:    occurredAt,
	}
	require.NoError(t, client.DB().Create(&row).Error)
	return id
}

func TestEmitVisibleOnlyAfterCommit(t *testing.T) {
	client := openTestDB(t)
	repo := NewRepository(client)
	reg := testRegistry(t)
	svc, err := NewService(reg, repo, nil)
	require.NoError(t, err)

	ctx := context.Background()
	payload := &payloads.AppointmentCreated{
		AppointmentID: uuid.New(),
		ClientID:      uuid.New(),
		ServiceID:     23,
		ScheduledAt:   time.Now().Add(48 * time.Hour).UTC(),
		Postcode:      "SW1A 1AA",
	}

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := svc.Encode(ctx, tx, enums.EventAppointmentCreated, "scheduling", "", payload, payload.AppointmentID.String()); err != nil {
			return err
		}
		return fmt.Errorf("business mutation failed")
	})
	require.Error(t, err)

	rows, err := repo.FetchPublishable(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, rows, "aborted transaction must leave no outbox row")

	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		_, err := svc.Encode(ctx, tx, enums.EventAppointmentCreated, "scheduling", "cor-abc", payload, payload.AppointmentID.String())
		return err
	})
	require.NoError(t, err)

	rows, err = repo.FetchPublishable(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventAppointmentCreated, rows[0].EventType)
	assert.Equal(t, payload.AppointmentID.String(), rows[0].AggregateID)

	evt, err := reg.Decode(rows[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, "cor-abc", evt.CorrelationID)
}

func TestEmitRejectsUnknownType(t *testing.T) {
	client := openTestDB(t)
	repo := NewRepository(client)
	svc, err := NewService(testRegistry(t), repo, nil)
	require.NoError(t, err)

	evt := &events.Event{
		ID:         uuid.NewString(),
		Type:       enums.EventWeatherAlertUpdated,
		Source:     "weather",
		OccurredAt: time.Now().UTC(),
		Data:       []byte(`{}`),
	}
	err = client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, evt, "alert-1")
	})
	assert.ErrorIs(t, err, events.ErrUnknownEventType)
}

func TestFetchPublishableHeadOfAggregateOnly(t *testing.T) {
	client := openTestDB(t)
	repo := NewRepository(client)
	base := time.Now().UTC().Add(-time.Hour)

	firstA := insertPending(t, client, "appt-a", base)
	insertPending(t, client, "appt-a", base.Add(time.Minute))
	firstB := insertPending(t, client, "appt-b", base.Add(2*time.Minute))

	rows, err := repo.FetchPublishable(context.Background(), 10, time.Now())
	require.NoError(t, err)
	require.Len(t, rows, 2, "only the oldest pending row per aggregate is publishable")
	assert.Equal(t, firstA, rows[0].ID)
	assert.Equal(t, firstB, rows[1].ID)
}

func TestFetchPublishableRespectsNextAttemptAt(t *testing.T) {
	client := openTestDB(t)
	repo := NewRepository(client)
	now := time.Now().UTC()

	id := insertPending(t, client, "appt-a", now.Add(-time.Hour))
	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return repo.MarkRetryTx(tx, id, "publish timeout", now.Add(10*time.Minute))
	}))

	rows, err := repo.FetchPublishable(context.Background(), 10, now)
	require.NoError(t, err)
	assert.Empty(t, rows, "retrying row is invisible until its backoff elapses")

	rows, err = repo.FetchPublishable(context.Background(), 10, now.Add(11*time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "publish timeout", *rows[0].LastError)
}

func TestRetryingHeadBlocksSuccessors(t *testing.T) {
	client := openTestDB(t)
	repo := NewRepository(client)
	now := time.Now().UTC()

	head := insertPending(t, client, "appt-a", now.Add(-2*time.Hour))
	insertPending(t, client, "appt-a", now.Add(-time.Hour))

	require.NoError(t, client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return repo.MarkRetryTx(tx, head, "broker unavailable", now.Add(time.Hour))
	}))

	rows, err := repo.FetchPublishable(context.Background(), 10, now)
	require.NoError(t, err)
	assert.Empty(t, rows, "successor must wait while its head retries")
}

func TestMarkPublishedAndFailedLifecycle(t *testing.T) {
	client := openTestDB(t)
	repo := NewRepository(client)
	ctx := context.Background()
	now := time.Now().UTC()

	id := insertPending(t, client, "appt-a", now.Add(-time.Hour))

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.MarkPublishedTx(tx, id, now)
	}))
	row, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.OutboxStatusPublished, row.Status)
	require.NotNil(t, row.PublishedAt)

	second := insertPending(t, client, "appt-a", now.Add(-30*time.Minute))
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, second, "schema rejected")
	}))

	rows, err := repo.FetchPublishable(ctx, 10, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, rows)

	n, err := repo.PendingCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.RequeueTx(tx, second, now)
	}))
	rows, err = repo.FetchPublishable(ctx, 10, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, second, rows[0].ID)
}

func TestDLQInsertIdempotentPerConsumer(t *testing.T) {
	client := openTestDB(t)
	dlq := NewDLQRepository(client)
	ctx := context.Background()

	eventID := uuid.New()
	entry := models.EventDLQ{
		EventID:      eventID,
		Consumer:     "scheduling-worker",
		Stage:        enums.DLQStageConsume,
		EventType:    enums.EventWeatherAlertUpdated,
		Payload:      []byte(`{"id":"x"}`),
		Reason:       enums.DLQReasonMaxAttempts,
		AttemptCount: 5,
	}
	require.NoError(t, dlq.Insert(ctx, entry))
	require.NoError(t, dlq.Insert(ctx, entry), "redelivered failure must not add a second row")

	entries, err := dlq.List(ctx, enums.DLQStageConsume, false, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, eventID, entries[0].EventID)

	// Same event dead-lettered by the publisher is a distinct entry.
	publisherEntry := entry
	publisherEntry.ID = uuid.New()
	publisherEntry.Consumer = ""
	publisherEntry.Stage = enums.DLQStagePublish
	require.NoError(t, dlq.Insert(ctx, publisherEntry))

	entries, err = dlq.List(ctx, "", false, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

type recordingPublisher struct {
	topic string
	data  []byte
	attrs map[string]string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, data []byte, attrs map[string]string) error {
	p.topic = topic
	p.data = data
	p.attrs = attrs
	return nil
}

type consumedResetter struct{}

func (consumedResetter) ClearTx(tx *gorm.DB, eventID uuid.UUID, consumerName string) error {
	return tx.Where("event_id = ? AND consumer_name = ?", eventID, consumerName).
		Delete(&models.ConsumedEvent{}).Error
}

type recordingGuard struct {
	released []string
}

func (g *recordingGuard) Release(_ context.Context, consumerName, eventID string) error {
	g.released = append(g.released, consumerName+"/"+eventID)
	return nil
}

func TestReplayConsumeStageClearsMarksAndRepublishes(t *testing.T) {
	client := openTestDB(t)
	require.NoError(t, client.DB().AutoMigrate(&models.ConsumedEvent{}))
	reg := testRegistry(t)
	dlq := NewDLQRepository(client)
	ctx := context.Background()

	evt, err := reg.Encode(enums.EventAppointmentCreated, "scheduling", "cor-replay", &payloads.AppointmentCreated{
		AppointmentID: uuid.New(),
		ClientID:      uuid.New(),
		ServiceID:     23,
		ScheduledAt:   time.Now().Add(48 * time.Hour).UTC(),
		Postcode:      "SW1A 1AA",
	})
	require.NoError(t, err)
	data, err := evt.Marshal()
	require.NoError(t, err)
	eventID := uuid.MustParse(evt.ID)

	require.NoError(t, client.DB().Create(&models.ConsumedEvent{
		EventID:      eventID,
		ConsumerName: "scheduling-worker",
		Outcome:      enums.ConsumeOutcomeDeadLettered,
		ProcessedAt:  time.Now().UTC(),
	}).Error)

	entry := models.EventDLQ{
		ID:        uuid.New(),
		EventID:   eventID,
		Consumer:  "scheduling-worker",
		Stage:     enums.DLQStageConsume,
		EventType: enums.EventAppointmentCreated,
		Payload:   data,
		Reason:    enums.DLQReasonMaxAttempts,
	}
	require.NoError(t, dlq.Insert(ctx, entry))

	pub := &recordingPublisher{}
	guard := &recordingGuard{}
	rep := NewReplayer(client, reg, NewRepository(client), dlq, pub, consumedResetter{}, guard, nil)

	require.NoError(t, rep.Replay(ctx, entry.ID))
	assert.Equal(t, "verdant-scheduling-events", pub.topic)
	assert.Equal(t, data, pub.data)
	assert.Equal(t, evt.ID, pub.attrs["event_id"])
	assert.Equal(t, []string{"scheduling-worker/" + evt.ID}, guard.released)

	var n int64
	require.NoError(t, client.DB().Model(&models.ConsumedEvent{}).Count(&n).Error)
	assert.Zero(t, n, "processed-mark must be cleared so the redelivery runs the handler")

	assert.ErrorIs(t, rep.Replay(ctx, entry.ID), ErrAlreadyReplayed)
}

func TestReplayPublishStageRequeues(t *testing.T) {
	client := openTestDB(t)
	repo := NewRepository(client)
	dlq := NewDLQRepository(client)
	ctx := context.Background()
	now := time.Now().UTC()

	id := insertPending(t, client, "appt-a", now.Add(-time.Hour))
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return repo.MarkFailedTx(tx, id, "max attempts reached")
	}))

	entry := models.EventDLQ{
		ID:        uuid.New(),
		EventID:   id,
		Stage:     enums.DLQStagePublish,
		EventType: enums.EventAppointmentCreated,
		Payload:   []byte(`{}`),
		Reason:    enums.DLQReasonMaxAttempts,
	}
	require.NoError(t, dlq.Insert(ctx, entry))

	rep := NewReplayer(client, testRegistry(t), repo, dlq, &recordingPublisher{}, nil, nil, nil)
	require.NoError(t, rep.Replay(ctx, entry.ID))

	rows, err := repo.FetchPublishable(ctx, 10, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, id, rows[0].ID)
}

func TestReplayRejectsMalformedEntries(t *testing.T) {
	client := openTestDB(t)
	dlq := NewDLQRepository(client)
	ctx := context.Background()

	entry := models.EventDLQ{
		ID:        uuid.New(),
		EventID:   uuid.New(),
		Consumer:  "scheduling-worker",
		Stage:     enums.DLQStageConsume,
		EventType: enums.EventAppointmentCreated,
		Payload:   []byte(`not json`),
		Reason:    enums.DLQReasonMalformedEnvelope,
	}
	require.NoError(t, dlq.Insert(ctx, entry))

	rep := NewReplayer(client, testRegistry(t), NewRepository(client), dlq, &recordingPublisher{}, nil, nil, nil)
	assert.ErrorIs(t, rep.Replay(ctx, entry.ID), ErrNotReplayable)
}

func TestDLQReplayBookkeeping(t *testing.T) {
	client := openTestDB(t)
	dlq := NewDLQRepository(client)
	ctx := context.Background()

	entry := models.EventDLQ{
		ID:        uuid.New(),
		EventID:   uuid.New(),
		Consumer:  "scheduling-worker",
		Stage:     enums.DLQStageConsume,
		EventType: enums.EventWeatherAlertUpdated,
		Payload:   []byte(`{}`),
		Reason:    enums.DLQReasonNonRetryable,
	}
	require.NoError(t, dlq.Insert(ctx, entry))

	n, err := dlq.CountUnreplayed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return dlq.MarkReplayedTx(tx, entry.ID, time.Now().UTC())
	}))

	entries, err := dlq.List(ctx, enums.DLQStageConsume, false, 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "replayed entries drop out of the default listing")

	entries, err = dlq.List(ctx, enums.DLQStageConsume, true, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	n, err = dlq.CountUnreplayed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
