// Package scheduler owns "when to run"; the lifecycle manager owns "what
// to run". The two meet only through the Job function type, so the cycle
// logic is testable without a real timer.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks
type Scheduler struct {
	cron    *cron.Cron
	baseCtx context.Context
	jobs    map[string]cron.EntryID
}

// New creates a new scheduler. Jobs that are still running when their next
// tick fires are skipped, never overlapped. Each run's context derives from
// baseCtx, so cancelling it tells an in-flight job to wind down; Stop alone
// only prevents new ticks.
func New(baseCtx context.Context) *Scheduler {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	return &Scheduler{
		cron:    c,
		baseCtx: baseCtx,
		jobs:    make(map[string]cron.EntryID),
	}
}

// AddIntervalJob adds a job that runs every `every` duration.
func (s *Scheduler) AddIntervalJob(name string, every time.Duration, job Job) error {
	return s.addJob(name, fmt.Sprintf("@every %s", every), job)
}

// AddDailyJob adds a job that runs once a day at the given "15:04" time.
func (s *Scheduler) AddDailyJob(name, timeStr string, job Job) error {
	t, err := time.Parse("15:04", timeStr)
	if err != nil {
		return fmt.Errorf("invalid time format %s: %w", timeStr, err)
	}
	return s.addJob(name, fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour()), job)
}

func (s *Scheduler) addJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(s.baseCtx, 30*time.Minute)
		defer cancel()

		log.Printf("[scheduler] Starting job: %s", name)
		start := time.Now()

		if err := job(ctx); err != nil {
			log.Printf("[scheduler] Job %s failed: %v", name, err)
		} else {
			log.Printf("[scheduler] Job %s completed in %v", name, time.Since(start))
		}
	})

	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	log.Printf("[scheduler] Added job: %s (schedule: %s)", name, schedule)

	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		log.Printf("[scheduler] Removed job: %s", name)
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	log.Println("[scheduler] Starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. No new ticks fire after Stop; the returned
// context is done once in-flight jobs complete.
func (s *Scheduler) Stop() context.Context {
	log.Println("[scheduler] Stopping scheduler")
	return s.cron.Stop()
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(entries))

	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}

	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}
