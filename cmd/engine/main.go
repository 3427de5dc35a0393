// Command engine runs the progression rule engine and the call reminder
// worker as a standalone process, separate from the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crm_automation_backend/internal/audit"
	"crm_automation_backend/internal/automation"
	"crm_automation_backend/internal/classifier"
	"crm_automation_backend/internal/email"
	"crm_automation_backend/internal/events"
	leadrepo "crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/internal/scheduler"
	"crm_automation_backend/internal/scheduling"
	"crm_automation_backend/platform/config"
	"crm_automation_backend/platform/db"
	"crm_automation_backend/platform/logger"
	"crm_automation_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting engine", "env", cfg.Env, "interval", cfg.EngineInterval.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	audit.NewSubscriber(log).Register(eventBus)
	sender := email.NewSender(cfg, log)
	email.NewReminderNotifier(leadrepo.New(pool), sender, log).Register(eventBus)
	val := validator.New()

	var reminderScheduler scheduling.ReminderScheduler
	if cfg.RedisURL != "" {
		reminderClient, err := scheduler.NewClient(cfg)
		if err != nil {
			log.Error("failed to initialize reminder scheduler client", "error", err)
			panic("failed to initialize reminder scheduler client: " + err.Error())
		}
		defer reminderClient.Close()
		reminderScheduler = reminderClient
	} else {
		log.Warn("REDIS_URL not configured; call reminders disabled")
	}

	var ai automation.AI
	if cfg.IsAIEnabled() {
		gemini, err := classifier.NewGemini(ctx, cfg, log)
		if err != nil {
			log.Error("failed to initialize Gemini classifier", "error", err)
			panic("failed to initialize Gemini classifier: " + err.Error())
		}
		ai = gemini
	}

	automationModule, err := automation.NewModule(ctx, pool, eventBus, val, cfg, log, sender, reminderScheduler, ai)
	if err != nil {
		log.Error("failed to initialize automation module", "error", err)
		panic("failed to initialize automation module: " + err.Error())
	}

	if err := automationModule.SeedDefaultRules(ctx, log); err != nil {
		log.Error("failed to seed default rules", "error", err)
	}

	engine := automationModule.Engine()
	engine.Start(ctx)
	defer engine.Stop()

	// The reminder worker consumes asynq tasks and republishes them as
	// domain events. It blocks until shutdown.
	if cfg.RedisURL != "" {
		worker, err := scheduler.NewWorker(cfg, pool, eventBus, log)
		if err != nil {
			log.Error("failed to initialize reminder worker", "error", err)
			panic("failed to initialize reminder worker: " + err.Error())
		}
		worker.Run(ctx)
	} else {
		<-ctx.Done()
	}

	log.Info("engine shutting down")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		log.Warn("operation failed, retrying", "operation", name, "attempt", attempt, "error", lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}
