package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
	"github.com/saltyorg/quicksell/internal/models"
)

// Default schedules
const (
	DefaultExpirySchedule   = "@every 10m"
	DefaultOptimizeSchedule = "@daily"
)

// Config holds the cron expressions of the maintenance jobs. An empty
// expression disables the job.
type Config struct {
	ExpirySchedule   string
	OptimizeSchedule string
}

// DefaultConfig returns the default schedules
func DefaultConfig() Config {
	return Config{
		ExpirySchedule:   DefaultExpirySchedule,
		OptimizeSchedule: DefaultOptimizeSchedule,
	}
}

// Scheduler runs periodic maintenance against the store
type Scheduler struct {
	db      *database.Manager
	models  *models.Models
	config  Config
	cron    *cron.Cron
	entries map[string]cron.EntryID
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	now     func() time.Time
}

// NewScheduler creates a scheduler that has not been started
func NewScheduler(db *database.Manager, m *models.Models, cfg Config) *Scheduler {
	return &Scheduler{
		db:      db,
		models:  m,
		config:  cfg,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		now:     time.Now,
	}
}

// Start registers the configured jobs and starts the cron scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	jobs := []struct {
		name     string
		schedule string
		run      func(ctx context.Context) error
	}{
		{"expire_listings", s.config.ExpirySchedule, func(ctx context.Context) error {
			_, err := s.ExpireListings(ctx)
			return err
		}},
		{"optimize", s.config.OptimizeSchedule, s.db.Optimize},
	}
	for _, j := range jobs {
		if j.schedule == "" {
			continue
		}
		id, err := s.cron.AddFunc(j.schedule, s.wrap(j.name, j.run))
		if err != nil {
			s.removeAll()
			return fmt.Errorf("invalid schedule %q for %s: %w", j.schedule, j.name, err)
		}
		s.entries[j.name] = id
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.cron.Start()

	log.Info().
		Str("expiry", s.config.ExpirySchedule).
		Str("optimize", s.config.OptimizeSchedule).
		Msg("Job scheduler started")
	return nil
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.removeAll()
	s.running = false
	log.Info().Msg("Job scheduler stopped")
}

// Next returns the next activation of a job, or the zero time when it is
// not scheduled.
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

func (s *Scheduler) removeAll() {
	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

func (s *Scheduler) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// wrap adapts a job to a cron func, logging its outcome.
func (s *Scheduler) wrap(name string, run func(ctx context.Context) error) func() {
	return func() {
		start := time.Now()
		if err := run(s.jobContext()); err != nil {
			log.Error().Err(err).Str("job", name).Msg("Scheduled job failed")
			return
		}
		log.Debug().Str("job", name).Dur("duration", time.Since(start)).Msg("Scheduled job finished")
	}
}

// ExpireListings closes every active listing whose expiry has passed. All
// changes are made in one session and the number of closed listings is
// returned.
func (s *Scheduler) ExpireListings(ctx context.Context) (int, error) {
	var closed int
	err := s.db.StartSession(ctx, func(ctx context.Context, sess *database.Session) error {
		closed = 0
		expired, err := s.models.Listings.FetchList(ctx, sess,
			entity.Eq("state", models.ListingActive),
			entity.Lt("ts_expires", s.now().UTC()),
		)
		if err != nil {
			return err
		}
		for _, l := range expired {
			if err := s.models.Listings.Update(ctx, sess, l, entity.Fields{"state": models.ListingClosed}); err != nil {
				return fmt.Errorf("failed to close listing %s: %w", l.UUID, err)
			}
			closed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if closed > 0 {
		log.Info().Int("count", closed).Msg("Closed expired listings")
	}
	return closed, nil
}
