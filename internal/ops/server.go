// Package ops exposes the operational surface of the event workers: liveness
// and readiness probes, Prometheus metrics, and a small dead-letter admin API
// for inspecting and replaying failed events.
package ops

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verdantops/verdant-events/pkg/db/models"
	"github.com/verdantops/verdant-events/pkg/enums"
	pkgerrors "github.com/verdantops/verdant-events/pkg/errors"
	"github.com/verdantops/verdant-events/pkg/logger"
	"github.com/verdantops/verdant-events/pkg/outbox"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Pinger is the health check surface a dependency exposes.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dlqLister interface {
	List(ctx context.Context, stage enums.DLQStage, includeReplayed bool, limit int) ([]models.EventDLQ, error)
	CountUnreplayed(ctx context.Context) (int64, error)
}

type dlqReplayer interface {
	Replay(ctx context.Context, id uuid.UUID) error
}

// RouterParams carries the dependencies of the ops router. Nil pingers are
// skipped by readiness; a nil DLQ repository or replayer disables the
// /api/v1/dlq routes.
type RouterParams struct {
	Logger   *logger.Logger
	DB       Pinger
	Redis    Pinger
	PubSub   Pinger
	DLQ      dlqLister
	Replayer dlqReplayer
	Gatherer prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		recoverer(logg),
		requestID(logg),
		logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", healthLive())
		r.Get("/ready", healthReady(logg, params.DB, params.Redis, params.PubSub))
	})

	gatherer := params.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	if params.DLQ != nil {
		r.Route("/api/v1/dlq", func(r chi.Router) {
			r.Get("/", listDeadLetters(params.DLQ, logg))
			if params.Replayer != nil {
				r.Post("/{entryId}/replay", replayDeadLetter(params.Replayer, logg))
			}
		})
	}

	return r
}

func healthLive() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeSuccess(w, map[string]string{"status": "live"})
	}
}

func healthReady(logg *logger.Logger, db, redis, pubsub Pinger) http.HandlerFunc {
	checks := []struct {
		name   string
		pinger Pinger
	}{
		{"db", db},
		{"redis", redis},
		{"pubsub", pubsub},
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := make(map[string]string, len(checks))
		ready := true
		for _, check := range checks {
			if check.pinger == nil {
				continue
			}
			if err := check.pinger.Ping(ctx); err != nil {
				status[check.name] = "down"
				ready = false
				if logg != nil {
					logg.Error(logg.WithField(ctx, "dependency", check.name), "readiness check failed", err)
				}
				continue
			}
			status[check.name] = "up"
		}

		if !ready {
			writeError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeDependency, "dependency unavailable").WithDetails(status))
			return
		}
		writeSuccess(w, status)
	}
}

type deadLetterView struct {
	ID           uuid.UUID       `json:"id"`
	EventID      uuid.UUID       `json:"event_id"`
	Consumer     string          `json:"consumer,omitempty"`
	Stage        enums.DLQStage  `json:"stage"`
	EventType    enums.EventType `json:"event_type"`
	Reason       enums.DLQReason `json:"reason"`
	ErrorMessage string          `json:"error_message,omitempty"`
	AttemptCount int             `json:"attempt_count"`
	FailedAt     time.Time       `json:"failed_at"`
	ReplayedAt   *time.Time      `json:"replayed_at,omitempty"`
}

func listDeadLetters(dlq dlqLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		q := r.URL.Query()

		var stage enums.DLQStage
		switch raw := q.Get("stage"); raw {
		case "", string(enums.DLQStagePublish), string(enums.DLQStageConsume):
			stage = enums.DLQStage(raw)
		default:
			writeError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stage must be publish or consume"))
			return
		}

		includeReplayed := q.Get("include_replayed") == "true"

		limit := defaultListLimit
		if raw := q.Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > maxListLimit {
				writeError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be between 1 and 500"))
				return
			}
			limit = parsed
		}

		entries, err := dlq.List(ctx, stage, includeReplayed, limit)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}
		pending, err := dlq.CountUnreplayed(ctx)
		if err != nil {
			writeError(ctx, logg, w, err)
			return
		}

		views := make([]deadLetterView, 0, len(entries))
		for _, entry := range entries {
			view := deadLetterView{
				ID:           entry.ID,
				EventID:      entry.EventID,
				Consumer:     entry.Consumer,
				Stage:        entry.Stage,
				EventType:    entry.EventType,
				Reason:       entry.Reason,
				AttemptCount: entry.AttemptCount,
				FailedAt:     entry.FailedAt,
				ReplayedAt:   entry.ReplayedAt,
			}
			if entry.ErrorMessage != nil {
				view.ErrorMessage = *entry.ErrorMessage
			}
			views = append(views, view)
		}

		writeSuccess(w, map[string]any{
			"entries":          views,
			"unreplayed_total": pending,
		})
	}
}

func replayDeadLetter(replayer dlqReplayer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := uuid.Parse(chi.URLParam(r, "entryId"))
		if err != nil {
			writeError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "entry id must be a uuid"))
			return
		}

		switch err := replayer.Replay(ctx, id); {
		case err == nil:
			writeSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "replayed"})
		case errors.Is(err, outbox.ErrAlreadyReplayed):
			writeError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "entry already replayed"))
		case errors.Is(err, outbox.ErrNotReplayable):
			writeError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error()))
		default:
			writeError(ctx, logg, w, err)
		}
	}
}
