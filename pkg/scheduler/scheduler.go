// Package scheduler runs outreach workflows on cron schedules. Each
// schedule binds one definition to a cron expression; firing creates and
// starts a fresh instance through the outreach service.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DeepakChander/10x-Linkedin-Outreach-sub000/pkg/services"
	"github.com/robfig/cron/v3"
)

// ErrScheduleExists indicates a schedule is already registered for the
// definition.
var ErrScheduleExists = errors.New("schedule already registered for definition")

// Schedule binds one workflow definition to a cron expression.
type Schedule struct {
	DefinitionID   string    `json:"definition_id"`
	UserID         string    `json:"user_id"`
	CronExpression string    `json:"cron_expression"`
	NextDueAt      time.Time `json:"next_due_at"`
}

// Scheduler owns the cron runner. Overlapping fires for one schedule are
// skipped rather than stacked, so a slow workflow never piles up
// duplicate instances.
type Scheduler struct {
	service *services.Outreach
	logger  *slog.Logger
	cron    *cron.Cron

	mutex   sync.RWMutex
	entries map[string]cron.EntryID // definition id -> cron entry
	specs   map[string]Schedule
}

func NewScheduler(service *services.Outreach, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service: service,
		logger:  logger.With("module", "scheduler"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		entries: make(map[string]cron.EntryID),
		specs:   make(map[string]Schedule),
	}
}

// Add registers a cron schedule for a definition. The expression is
// validated before registration.
func (s *Scheduler) Add(schedule Schedule) error {
	parsed, err := cron.ParseStandard(schedule.CronExpression)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule.CronExpression, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.entries[schedule.DefinitionID]; exists {
		return fmt.Errorf("definition %s: %w", schedule.DefinitionID, ErrScheduleExists)
	}

	definitionID := schedule.DefinitionID
	userID := schedule.UserID

	entryID, err := s.cron.AddFunc(schedule.CronExpression, func() {
		s.fire(definitionID, userID)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job for definition %s: %w", definitionID, err)
	}

	schedule.NextDueAt = parsed.Next(time.Now().UTC())
	s.entries[definitionID] = entryID
	s.specs[definitionID] = schedule

	s.logger.Info("Schedule registered",
		"definition_id", definitionID, "cron", schedule.CronExpression, "next_due_at", schedule.NextDueAt)

	return nil
}

// Remove drops the schedule for a definition, if any.
func (s *Scheduler) Remove(definitionID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if entryID, exists := s.entries[definitionID]; exists {
		s.cron.Remove(entryID)
		delete(s.entries, definitionID)
		delete(s.specs, definitionID)
	}
}

// Schedules returns a snapshot of the registered schedules with their
// next fire times.
func (s *Scheduler) Schedules() []Schedule {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	schedules := make([]Schedule, 0, len(s.specs))

	for definitionID, schedule := range s.specs {
		if entryID, ok := s.entries[definitionID]; ok {
			entry := s.cron.Entry(entryID)
			if !entry.Next.IsZero() {
				schedule.NextDueAt = entry.Next
			}
		}

		schedules = append(schedules, schedule)
	}

	return schedules
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", "schedules", len(s.entries))
}

// Stop stops the cron runner and waits for in-flight fires to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()

	select {
	case <-stopped.Done():
		s.logger.Info("Scheduler stopped")

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(definitionID, userID string) {
	ctx := context.Background()
	logger := s.logger.With("definition_id", definitionID)

	instanceID, err := s.service.Run(ctx, definitionID, userID)
	if err != nil {
		logger.Error("Scheduled run failed to start", "error", err)

		return
	}

	logger.Info("Scheduled run started", "instance_id", instanceID)
}
