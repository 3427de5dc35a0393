package scheduler

import (
	"context"
	"fmt"

	calendar "crm_automation_backend/internal/calendar/repository"
	"crm_automation_backend/internal/events"
	"crm_automation_backend/platform/apperr"
	"crm_automation_backend/platform/config"
	"crm_automation_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EventStore is the calendar access the reminder handler needs.
type EventStore interface {
	GetByID(ctx context.Context, eventID uuid.UUID) (calendar.Event, error)
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	events EventStore
	bus    events.Bus
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, pool *pgxpool.Pool, bus events.Bus, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		events: calendar.New(pool),
		bus:    bus,
		log:    log,
	}

	mux.HandleFunc(TaskCallReminder, w.handleCallReminder)

	return w, nil
}

// handleCallReminder re-checks the booked call before announcing it; calls
// canceled or completed between booking and reminder are dropped silently.
func (w *Worker) handleCallReminder(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseCallReminderPayload(task)
	if err != nil {
		return err
	}

	eventID, err := uuid.Parse(payload.EventID)
	if err != nil {
		return err
	}
	tenantID, err := uuid.Parse(payload.TenantID)
	if err != nil {
		return err
	}

	event, err := w.events.GetByID(ctx, eventID)
	if apperr.GetKind(err) == apperr.KindNotFound {
		w.log.Warn("reminder for deleted event", "event_id", payload.EventID)
		return nil
	}
	if err != nil {
		return err
	}
	if event.Status != calendar.StatusScheduled {
		return nil
	}

	return w.bus.PublishSync(ctx, events.CallReminderDue{
		BaseEvent: events.NewBaseEvent(),
		EventID:   event.ID,
		LeadID:    event.LeadID,
		TenantID:  tenantID,
		StartTime: event.StartTime,
	})
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
