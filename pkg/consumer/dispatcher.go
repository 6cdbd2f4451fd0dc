package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/verdantops/verdant-events/pkg/db"
	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
	"github.com/verdantops/verdant-events/pkg/events"
	"github.com/verdantops/verdant-events/pkg/logger"
	"github.com/verdantops/verdant-events/pkg/metrics"
	"github.com/verdantops/verdant-events/pkg/outbox"
)

// HandlerFunc processes one decoded event inside the dispatcher's
// transaction. Returning an error wrapped with Permanent dead-letters the
// event immediately; any other error schedules a retry.
type HandlerFunc func(ctx context.Context, tx *gorm.DB, evt *events.Event) error

// Dispatcher drives a subscription: it decodes envelopes, enforces
// at-most-once handler effects per event, and applies the retry and
// dead-letter policy. One dispatcher serves one consumer name.
type Dispatcher struct {
	name     string
	registry *events.Registry
	client   *db.Client
	consumed *ConsumedRepository
	guard    *IdempotencyGuard
	attempts *AttemptCounter
	dlq      *outbox.DLQRepository
	metrics  *metrics.EventMetrics
	logg     *logger.Logger

	maxAttempts int64
	handlers    map[enums.EventType]HandlerFunc
	locks       *keyLock
}

type DispatcherParams struct {
	Name        string
	Registry    *events.Registry
	Client      *db.Client
	Consumed    *ConsumedRepository
	Guard       *IdempotencyGuard
	Attempts    *AttemptCounter
	DLQ         *outbox.DLQRepository
	Metrics     *metrics.EventMetrics
	Logger      *logger.Logger
	MaxAttempts int64
}

func NewDispatcher(p DispatcherParams) (*Dispatcher, error) {
	if p.Name == "" {
		return nil, errors.New("consumer name required")
	}
	if p.Registry == nil {
		return nil, errors.New("event registry required")
	}
	if p.Client == nil {
		return nil, errors.New("db client required")
	}
	if p.Consumed == nil {
		return nil, errors.New("consumed repository required")
	}
	if p.DLQ == nil {
		return nil, errors.New("dlq repository required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger required")
	}
	if p.MaxAttempts <= 0 {
		return nil, errors.New("max attempts must be positive")
	}
	return &Dispatcher{
		name:        p.Name,
		registry:    p.Registry,
		client:      p.Client,
		consumed:    p.Consumed,
		guard:       p.Guard,
		attempts:    p.Attempts,
		dlq:         p.DLQ,
		metrics:     p.Metrics,
		logg:        p.Logger,
		maxAttempts: p.MaxAttempts,
		handlers:    map[enums.EventType]HandlerFunc{},
		locks:       newKeyLock(),
	}, nil
}

// Handle registers fn for eventType. Registration happens at boot, before
// Run; a second registration for the same type is a programming error.
func (d *Dispatcher) Handle(eventType enums.EventType, fn HandlerFunc) error {
	if fn == nil {
		return errors.New("handler required")
	}
	if _, exists := d.handlers[eventType]; exists {
		return fmt.Errorf("%w: %s", events.ErrDuplicateRegistration, eventType)
	}
	d.handlers[eventType] = fn
	return nil
}

// Run pumps the subscription until the context is canceled.
func (d *Dispatcher) Run(ctx context.Context, sub *pubsub.Subscriber) error {
	if sub == nil {
		return errors.New("subscription required")
	}
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := d.Process(ctx, msg.Data, msg.Attributes)
		if result.Nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

// Result reports the delivery decision for one message.
type Result struct {
	Nack bool
}

// Process runs the full pipeline for one delivery: decode, dedupe, handle,
// and classify the outcome. Exported so tests and replays can drive it
// without a live subscription.
func (d *Dispatcher) Process(ctx context.Context, data []byte, attrs map[string]string) Result {
	logCtx := d.logg.WithConsumer(ctx, d.name)

	evt, err := d.registry.Decode(data)
	if err != nil {
		if errors.Is(err, events.ErrMalformedEnvelope) || errors.Is(err, events.ErrUnsupportedVersion) {
			if dlErr := d.deadLetterRaw(logCtx, data, attrs, err); dlErr != nil {
				d.logg.Error(logCtx, "dead letter write failed", dlErr)
				return Result{Nack: true}
			}
			return Result{}
		}
		d.logg.Error(logCtx, "envelope decode failed", err)
		return Result{Nack: true}
	}

	logCtx = d.logg.WithEventID(logCtx, evt.ID)
	if evt.CorrelationID != "" {
		logCtx = d.logg.WithCorrelationID(logCtx, evt.CorrelationID)
	}
	logCtx = d.logg.WithField(logCtx, "event_type", string(evt.Type))

	handler, ok := d.handlers[evt.Type]
	if !ok {
		// Subscriptions can carry more event types than one consumer cares
		// about; unhandled types are acked, not dead-lettered.
		return Result{}
	}

	eventID, err := uuid.Parse(evt.ID)
	if err != nil {
		if dlErr := d.deadLetterRaw(logCtx, data, attrs, fmt.Errorf("%w: event id is not a uuid", events.ErrMalformedEnvelope)); dlErr != nil {
			d.logg.Error(logCtx, "dead letter write failed", dlErr)
			return Result{Nack: true}
		}
		return Result{}
	}

	lockKey := attrs["aggregate_id"]
	if lockKey == "" {
		lockKey = evt.ID
	}
	d.locks.Lock(lockKey)
	defer d.locks.Unlock(lockKey)

	if d.guard != nil {
		// The mark is only written after the durable record committed, so a
		// hit here is safe to ack without a database round trip.
		done, guardErr := d.guard.WasProcessed(logCtx, d.name, evt.ID)
		if guardErr != nil {
			// Redis down degrades to the durable check.
			d.logg.Warn(logCtx, "idempotency fast path unavailable")
		} else if done {
			d.logg.Info(logCtx, "event already processed")
			return Result{}
		}
	}

	done, err := d.consumed.WasConsumed(logCtx, eventID, d.name)
	if err != nil {
		d.logg.Error(logCtx, "consumed lookup failed", err)
		return Result{Nack: true}
	}
	if done {
		d.markGuard(logCtx, evt.ID)
		d.logg.Info(logCtx, "event already processed")
		return Result{}
	}

	start := time.Now()
	err = d.client.WithTx(logCtx, func(tx *gorm.DB) error {
		if err := handler(logCtx, tx, evt); err != nil {
			return err
		}
		return d.consumed.MarkTx(tx, eventID, d.name, enums.ConsumeOutcomeSucceeded)
	})
	d.metrics.ObserveHandlerDuration(d.name, string(evt.Type), time.Since(start))

	switch {
	case err == nil:
		d.metrics.IncConsumed(d.name, string(evt.Type))
		d.markGuard(logCtx, evt.ID)
		d.resetAttempts(logCtx, evt.ID)
		d.logg.Info(logCtx, "event processed")
		return Result{}

	case errors.Is(err, ErrAlreadyConsumed):
		// A concurrent delivery finished first.
		return Result{}

	case IsPermanent(err):
		d.metrics.IncHandlerFailure(d.name, string(evt.Type), "permanent")
		d.logg.Error(logCtx, "handler failed permanently", err)
		if dlErr := d.deadLetter(logCtx, evt, eventID, enums.DLQReasonNonRetryable, err, 1); dlErr != nil {
			d.logg.Error(logCtx, "dead letter write failed", dlErr)
			return Result{Nack: true}
		}
		return Result{}

	default:
		d.metrics.IncHandlerFailure(d.name, string(evt.Type), "transient")

		attempt := d.countAttempt(logCtx, evt.ID)
		if attempt >= d.maxAttempts {
			d.logg.Error(logCtx, "retry budget exhausted", err)
			if dlErr := d.deadLetter(logCtx, evt, eventID, enums.DLQReasonMaxAttempts, err, attempt); dlErr != nil {
				d.logg.Error(logCtx, "dead letter write failed", dlErr)
				return Result{Nack: true}
			}
			return Result{}
		}
		d.logg.Warn(logCtx, fmt.Sprintf("handler failed, attempt %d of %d", attempt, d.maxAttempts))
		return Result{Nack: true}
	}
}

func (d *Dispatcher) countAttempt(ctx context.Context, eventID string) int64 {
	if d.attempts == nil {
		return 1
	}
	n, err := d.attempts.Incr(ctx, d.name, eventID)
	if err != nil {
		d.logg.Warn(ctx, "attempt counter unavailable")
		return 1
	}
	return n
}

func (d *Dispatcher) resetAttempts(ctx context.Context, eventID string) {
	if d.attempts == nil {
		return
	}
	if err := d.attempts.Reset(ctx, d.name, eventID); err != nil {
		d.logg.Warn(ctx, "attempt counter reset failed")
	}
}

func (d *Dispatcher) markGuard(ctx context.Context, eventID string) {
	if d.guard == nil {
		return
	}
	if err := d.guard.MarkProcessed(ctx, d.name, eventID); err != nil {
		d.logg.Warn(ctx, "idempotency mark failed")
	}
}

// deadLetter records a terminal failure: the DLQ entry and the consumption
// record commit atomically, so a redelivery after this point is a no-op. A
// non-nil return means nothing was recorded and the delivery must be nacked.
func (d *Dispatcher) deadLetter(ctx context.Context, evt *events.Event, eventID uuid.UUID, reason enums.DLQReason, cause error, attemptCount int64) error {
	payload, err := evt.Marshal()
	if err != nil {
		payload = evt.Data
	}
	msg := cause.Error()
	entry := models.EventDLQ{
		EventID:      eventID,
		Consumer:     d.name,
		Stage:        enums.DLQStageConsume,
		EventType:    evt.Type,
		Payload:      payload,
		Reason:       reason,
		ErrorMessage: &msg,
		AttemptCount: int(attemptCount),
		FailedAt:     time.Now().UTC(),
	}
	err = d.client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := d.dlq.InsertTx(tx, entry); err != nil {
			return err
		}
		if err := d.consumed.MarkTx(tx, eventID, d.name, enums.ConsumeOutcomeDeadLettered); err != nil && !errors.Is(err, ErrAlreadyConsumed) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.metrics.IncDeadLettered(string(enums.DLQStageConsume), string(reason))
	d.markGuard(ctx, evt.ID)
	d.resetAttempts(ctx, evt.ID)
	return nil
}

// deadLetterRaw handles envelopes that never decoded. The DLQ event id is
// derived deterministically from the raw bytes so redeliveries collapse onto
// one entry. A non-nil return means the entry was not recorded.
func (d *Dispatcher) deadLetterRaw(ctx context.Context, data []byte, attrs map[string]string, cause error) error {
	eventID := rawEventID(data, attrs)
	payload := data
	if !json.Valid(payload) {
		// The payload column is jsonb; store undecodable bytes as a string.
		payload, _ = json.Marshal(string(data))
	}
	msg := cause.Error()
	entry := models.EventDLQ{
		EventID:      eventID,
		Consumer:     d.name,
		Stage:        enums.DLQStageConsume,
		EventType:    enums.EventType(attrs["event_type"]),
		Payload:      payload,
		Reason:       enums.DLQReasonMalformedEnvelope,
		ErrorMessage: &msg,
		AttemptCount: 1,
		FailedAt:     time.Now().UTC(),
	}
	if err := d.dlq.Insert(ctx, entry); err != nil {
		return err
	}
	d.metrics.IncDeadLettered(string(enums.DLQStageConsume), string(enums.DLQReasonMalformedEnvelope))
	d.logg.Error(ctx, "envelope rejected", cause)
	return nil
}

func rawEventID(data []byte, attrs map[string]string) uuid.UUID {
	if id, err := uuid.Parse(attrs["event_id"]); err == nil {
		return id
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &probe); err == nil {
		if id, err := uuid.Parse(probe.ID); err == nil {
			return id
		}
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, data)
}
