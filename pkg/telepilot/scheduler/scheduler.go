// Package scheduler runs recurring operator prompts on cron schedules and
// delivers the results over the chat transport.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/telepilotdev/telepilot/pkg/telepilot/channels"
	"github.com/telepilotdev/telepilot/pkg/telepilot/operator"
)

// Job is one recurring prompt.
type Job struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Spec      string    `json:"spec"`
	Prompt    string    `json:"prompt"`
	CreatedAt time.Time `json:"created_at"`
}

// Runner executes a prompt through the agentic loop.
type Runner interface {
	Run(ctx context.Context, conversationID string, userContent any, policy operator.Policy) (*operator.RunResult, error)
}

// Sender delivers results back to the chat.
type Sender interface {
	Send(ctx context.Context, chatID string, msg *channels.OutgoingMessage) error
	SendMedia(ctx context.Context, chatID string, media *channels.MediaMessage) error
}

// Scheduler owns the cron runtime and the persisted job set.
type Scheduler struct {
	store  *Store
	runner Runner
	sender Sender
	policy operator.Policy
	logger *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a Scheduler. Jobs persisted in the store are scheduled on Start.
func New(store *Store, runner Runner, sender Sender, policy operator.Policy, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		runner:  runner,
		sender:  sender,
		policy:  policy,
		logger:  logger.With("component", "scheduler"),
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads persisted jobs, schedules them, and starts the cron runtime.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("loading scheduled jobs: %w", err)
	}
	for _, job := range jobs {
		if err := s.schedule(ctx, job); err != nil {
			// A job with a spec that no longer parses must not block the rest.
			s.logger.Error("skipping unschedulable job", "id", job.ID, "spec", job.Spec, "error", err)
		}
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(jobs))
	return nil
}

// Stop halts the cron runtime, waiting for in-flight runs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Add validates, persists, and schedules a new recurring prompt.
func (s *Scheduler) Add(ctx context.Context, chatID, spec, prompt string) (*Job, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	job := &Job{
		ID:        uuid.New().String()[:8],
		ChatID:    chatID,
		Spec:      spec,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.Save(ctx, job); err != nil {
		return nil, fmt.Errorf("persisting job: %w", err)
	}
	if err := s.schedule(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job added", "id", job.ID, "spec", spec, "chat_id", chatID)
	return job, nil
}

// Remove unschedules and deletes a job.
func (s *Scheduler) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return s.store.Delete(ctx, id)
}

// List returns the persisted jobs.
func (s *Scheduler) List(ctx context.Context) ([]*Job, error) {
	return s.store.List(ctx)
}

func (s *Scheduler) schedule(ctx context.Context, job *Job) error {
	entryID, err := s.cron.AddFunc(job.Spec, func() {
		s.execute(ctx, job)
	})
	if err != nil {
		return fmt.Errorf("scheduling job %s: %w", job.ID, err)
	}
	s.mu.Lock()
	s.entries[job.ID] = entryID
	s.mu.Unlock()
	return nil
}

// execute runs one firing of a job end to end. Failures are reported to the
// chat and logged; they never stop the schedule.
func (s *Scheduler) execute(ctx context.Context, job *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in scheduled job", "id", job.ID, "panic", r)
		}
	}()

	s.logger.Info("running scheduled job", "id", job.ID, "chat_id", job.ChatID)

	// Scheduled runs use a synthetic conversation so they do not pollute the
	// operator's interactive history.
	res, err := s.runner.Run(ctx, "scheduled:"+job.ID, job.Prompt, s.policy)
	if err != nil {
		s.logger.Error("scheduled job failed", "id", job.ID, "error", err)
		s.send(ctx, job.ChatID, fmt.Sprintf("Scheduled task %s failed: %v", job.ID, err))
		return
	}

	s.send(ctx, job.ChatID, res.FinalText)
	for _, m := range res.Media {
		if err := s.sender.SendMedia(ctx, job.ChatID, &channels.MediaMessage{
			Type:     channels.MessageImage,
			FilePath: m.FilePath,
			Caption:  m.Caption,
		}); err != nil {
			s.logger.Error("delivering scheduled media failed", "id", job.ID, "error", err)
		}
	}
}

func (s *Scheduler) send(ctx context.Context, chatID, text string) {
	if text == "" {
		return
	}
	if err := s.sender.Send(ctx, chatID, &channels.OutgoingMessage{Content: text}); err != nil {
		s.logger.Error("delivering scheduled result failed", "chat_id", chatID, "error", err)
	}
}
