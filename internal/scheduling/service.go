// Package scheduling finds free calendar slots and auto-books follow-up
// calls for qualified leads.
package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	calendar "crm_automation_backend/internal/calendar/repository"
	"crm_automation_backend/internal/events"
	"crm_automation_backend/internal/leads/repository"
	"crm_automation_backend/internal/qualification"
	"crm_automation_backend/platform/logger"
	"crm_automation_backend/platform/phone"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// followUpDurations maps a follow-up type to its call length.
var followUpDurations = map[string]time.Duration{
	qualification.FollowUpClosing:   60 * time.Minute,
	qualification.FollowUpDemo:      45 * time.Minute,
	qualification.FollowUpProposal:  45 * time.Minute,
	qualification.FollowUpDiscovery: 30 * time.Minute,
	qualification.FollowUpFollowUp:  30 * time.Minute,
	qualification.FollowUpNurturing: 15 * time.Minute,
}

const defaultCallDuration = 30 * time.Minute

// batchRate paces batch auto-scheduling so a large qualified set does not
// hammer the store.
var batchRate = rate.Every(200 * time.Millisecond)

// eventTitle includes the lead's dial number so agents can call straight
// from the calendar entry.
func eventTitle(followUpType string, lead repository.Lead) string {
	title := fmt.Sprintf("%s call with %s", followUpType, lead.Name)
	if lead.Phone != nil && *lead.Phone != "" {
		title += " (" + phone.NormalizeE164(*lead.Phone) + ")"
	}
	return title
}

func callDuration(followUpType string) time.Duration {
	if d, ok := followUpDurations[followUpType]; ok {
		return d
	}
	return defaultCallDuration
}

// EventStore is the calendar access the scheduler needs.
type EventStore interface {
	ListBlockingForAssignee(ctx context.Context, assigneeID uuid.UUID, from, to time.Time) ([]calendar.Event, error)
	Create(ctx context.Context, event calendar.Event) (calendar.Event, error)
}

// LeadStore is the lead access the scheduler needs.
type LeadStore interface {
	GetByID(ctx context.Context, leadID, tenantID uuid.UUID) (repository.Lead, error)
	SetNextFollowUp(ctx context.Context, leadID, tenantID uuid.UUID, at time.Time) error
}

// Qualifier supplies call recommendations and the qualified-lead set.
type Qualifier interface {
	Recommend(ctx context.Context, leadID, tenantID uuid.UUID) (qualification.Recommendation, error)
	Detect(ctx context.Context, tenantID uuid.UUID, criteria qualification.Criteria) ([]qualification.Result, error)
}

// ReminderScheduler enqueues call reminders for booked events. Optional;
// a nil scheduler disables reminders.
type ReminderScheduler interface {
	ScheduleCallReminder(ctx context.Context, eventID, tenantID uuid.UUID, startTime time.Time) error
}

// ScheduleResult reports one auto-schedule attempt. Soft failures carry a
// reason instead of an error.
type ScheduleResult struct {
	Success   bool       `json:"success"`
	LeadID    uuid.UUID  `json:"leadId"`
	EventID   *uuid.UUID `json:"eventId,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// BatchResult aggregates a batch auto-schedule pass.
type BatchResult struct {
	Processed int              `json:"processed"`
	Scheduled int              `json:"scheduled"`
	Errors    int              `json:"errors"`
	Results   []ScheduleResult `json:"results"`
}

// Config carries the slot-search defaults.
type Config interface {
	GetBusinessHoursStart() int
	GetBusinessHoursEnd() int
	GetWorkingDays() []time.Weekday
	GetCalendarTimezone() string
	GetSchedulingDaysAhead() int
}

// Service books follow-up calls into assignee calendars.
type Service struct {
	events    EventStore
	leads     LeadStore
	qualifier Qualifier
	reminders ReminderScheduler
	bus       events.Bus
	log       *logger.Logger
	hours     BusinessHours
	daysAhead int
	now       func() time.Time

	// calendars serializes find-then-book per assignee so two concurrent
	// bookings cannot take the same slot.
	calendars keyedMutex
}

// New creates a new scheduling service. reminders may be nil.
func New(eventStore EventStore, leadStore LeadStore, qualifier Qualifier, reminders ReminderScheduler, bus events.Bus, cfg Config, log *logger.Logger) (*Service, error) {
	loc, err := time.LoadLocation(cfg.GetCalendarTimezone())
	if err != nil {
		return nil, fmt.Errorf("failed to load calendar timezone %q: %w", cfg.GetCalendarTimezone(), err)
	}

	return &Service{
		events:    eventStore,
		leads:     leadStore,
		qualifier: qualifier,
		reminders: reminders,
		bus:       bus,
		log:       log,
		hours: BusinessHours{
			StartHour:   cfg.GetBusinessHoursStart(),
			EndHour:     cfg.GetBusinessHoursEnd(),
			WorkingDays: cfg.GetWorkingDays(),
			Location:    loc,
		},
		daysAhead: cfg.GetSchedulingDaysAhead(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// FindFreeSlots returns up to ten free start times for a call of the given
// duration in the assignee's calendar.
func (s *Service) FindFreeSlots(ctx context.Context, assigneeID uuid.UUID, duration time.Duration) ([]time.Time, error) {
	now := s.now()
	existing, err := s.events.ListBlockingForAssignee(ctx, assigneeID, now, now.AddDate(0, 0, s.daysAhead))
	if err != nil {
		return nil, fmt.Errorf("failed to load assignee calendar: %w", err)
	}
	return findSlots(existing, duration, s.hours, s.daysAhead, now), nil
}

// AutoSchedule books the earliest free slot for a lead's recommended
// follow-up call. No-action recommendations and full calendars come back as
// soft failures.
func (s *Service) AutoSchedule(ctx context.Context, leadID, tenantID uuid.UUID) (ScheduleResult, error) {
	result := ScheduleResult{LeadID: leadID}

	rec, err := s.qualifier.Recommend(ctx, leadID, tenantID)
	if err != nil {
		return result, fmt.Errorf("failed to get call recommendation: %w", err)
	}
	if rec.Action == qualification.ActionNoAction {
		result.Reason = fmt.Sprintf("no call recommended: %s", rec.Reasoning)
		return result, nil
	}

	lead, err := s.leads.GetByID(ctx, leadID, tenantID)
	if err != nil {
		return result, err
	}
	if lead.AssignedTo == nil {
		result.Reason = "lead has no assignee to book a call with"
		return result, nil
	}
	assigneeID := *lead.AssignedTo

	unlock := s.calendars.lock(assigneeID.String())
	defer unlock()

	duration := callDuration(rec.FollowUpType)
	slots, err := s.FindFreeSlots(ctx, assigneeID, duration)
	if err != nil {
		return result, err
	}
	if len(slots) == 0 {
		result.Reason = "no available time slots"
		return result, nil
	}

	start := slots[0]
	event := calendar.Event{
		ID:               uuid.New(),
		TenantID:         tenantID,
		LeadID:           leadID,
		AssigneeID:       assigneeID,
		Title:            eventTitle(rec.FollowUpType, lead),
		StartTime:        start,
		EndTime:          start.Add(duration),
		Status:           calendar.StatusScheduled,
		Automated:        true,
		SentimentTrigger: lead.SentimentScore,
		FollowUpType:     rec.FollowUpType,
	}

	created, err := s.events.Create(ctx, event)
	if err != nil {
		return result, fmt.Errorf("failed to book call: %w", err)
	}

	if err := s.leads.SetNextFollowUp(ctx, leadID, tenantID, start); err != nil {
		s.log.DatabaseError("set next follow-up", err)
	}

	if s.reminders != nil {
		if err := s.reminders.ScheduleCallReminder(ctx, created.ID, tenantID, start); err != nil {
			s.log.Warn("failed to enqueue call reminder",
				"event_id", created.ID.String(), "error", err.Error())
		}
	}

	s.bus.Publish(ctx, events.CallScheduled{
		BaseEvent:    events.NewBaseEvent(),
		EventID:      created.ID,
		LeadID:       leadID,
		TenantID:     tenantID,
		AssigneeID:   assigneeID,
		StartTime:    created.StartTime,
		EndTime:      created.EndTime,
		FollowUpType: rec.FollowUpType,
		Automated:    true,
	})

	result.Success = true
	result.EventID = &created.ID
	result.StartTime = &created.StartTime
	return result, nil
}

// AutoScheduleQualified runs the detector and books calls for every
// qualified lead, pacing calls so the store is not overloaded. Per-lead
// failures are collected, never propagated.
func (s *Service) AutoScheduleQualified(ctx context.Context, tenantID uuid.UUID) (BatchResult, error) {
	qualified, err := s.qualifier.Detect(ctx, tenantID, qualification.Criteria{})
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to detect qualified leads: %w", err)
	}

	limiter := rate.NewLimiter(batchRate, 1)
	batch := BatchResult{Results: make([]ScheduleResult, 0, len(qualified))}

	for _, q := range qualified {
		if err := limiter.Wait(ctx); err != nil {
			return batch, err
		}
		batch.Processed++

		result, err := s.AutoSchedule(ctx, q.LeadID, tenantID)
		if err != nil {
			batch.Errors++
			result = ScheduleResult{LeadID: q.LeadID, Reason: err.Error()}
			s.log.Error("auto-schedule failed",
				"lead_id", q.LeadID.String(), "error", err.Error())
		} else if result.Success {
			batch.Scheduled++
		}
		batch.Results = append(batch.Results, result)
	}

	s.log.Info("batch auto-schedule finished",
		"processed", batch.Processed, "scheduled", batch.Scheduled, "errors", batch.Errors)
	return batch, nil
}

// keyedMutex provides one mutex per string key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
