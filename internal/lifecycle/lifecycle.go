// Package lifecycle drives the publish cycle: fetch the oldest unused post,
// publish it with bounded retries, record every attempt, and replenish the
// pool when it runs low.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/ibeckermayer/dripfeed/internal/catalog"
	"github.com/ibeckermayer/dripfeed/internal/config"
	"github.com/ibeckermayer/dripfeed/internal/expander"
	"github.com/ibeckermayer/dripfeed/internal/generator"
	"github.com/ibeckermayer/dripfeed/internal/publisher"
	"github.com/ibeckermayer/dripfeed/internal/store"
)

// Store is the slice of the post store the manager needs. The concrete
// *store.Store satisfies it; tests may substitute their own.
type Store interface {
	NextUnused(ctx context.Context, botID string) (*store.Post, error)
	MarkUsed(ctx context.Context, botID, postID, externalRef string) error
	Counts(ctx context.Context, botID string) (store.Counts, error)
	InsertBatch(ctx context.Context, botID string, posts []store.Post) (store.InsertResult, error)
	RecordAttempt(ctx context.Context, a store.Attempt) error
	Stats(ctx context.Context, botID string) (*store.BotStats, error)
	MarkReplenished(ctx context.Context, botID string, at time.Time) error
}

var (
	// ErrNotInitialized is returned when a cycle is requested before Init.
	ErrNotInitialized = errors.New("lifecycle manager not initialized")
	// ErrCycleInFlight is returned when a cycle is requested while another
	// is still running. Cycles never overlap; callers just try again later.
	ErrCycleInFlight = errors.New("publish cycle already in flight")
)

// Manager owns the publish cycle. Construct with New, call Init once, then
// RunCycle on every timer tick.
type Manager struct {
	botID    string
	cfg      config.BotConfig
	genCount int
	st       Store
	pub      publisher.Client
	gen      generator.Client // nil when generation is disabled

	cycleMu      sync.Mutex // single-flight lock around the full cycle
	replenishing atomic.Bool
	wg           sync.WaitGroup // in-flight async replenishments

	initialized    atomic.Bool
	consecFailures atomic.Int64
}

// New wires the manager. gen may be nil; the template expander then
// handles all replenishment.
func New(st Store, pub publisher.Client, gen generator.Client, cfg *config.Config) *Manager {
	return &Manager{
		botID:    cfg.Bot.BotID,
		cfg:      cfg.Bot,
		genCount: cfg.Generation.BatchCount,
		st:       st,
		pub:      pub,
		gen:      gen,
	}
}

// Init validates the publish client's credentials. A publisher failure is
// fatal. A generator failure only disables the generator path: template
// replenishment keeps the bot alive.
func (m *Manager) Init(ctx context.Context) error {
	if err := m.pub.Init(ctx); err != nil {
		return fmt.Errorf("publish client init failed: %w", err)
	}
	if m.gen != nil {
		if err := m.gen.Init(ctx); err != nil {
			log.Printf("[lifecycle] generator init failed, falling back to templates: %v", err)
			m.gen = nil
		}
	}
	m.initialized.Store(true)
	return nil
}

// Initialized reports whether Init has completed successfully.
func (m *Manager) Initialized() bool {
	return m.initialized.Load()
}

// RunCycle executes one publish cycle: Fetching, then Publishing or a
// synchronous Replenishing when the pool is empty, then the post-cycle
// depletion check. Overlapping calls return ErrCycleInFlight rather than
// queueing. Errors inside the cycle are logged and returned but must never
// crash the caller's timer.
func (m *Manager) RunCycle(ctx context.Context) error {
	if !m.initialized.Load() {
		return ErrNotInitialized
	}
	if !m.cycleMu.TryLock() {
		return ErrCycleInFlight
	}
	defer m.cycleMu.Unlock()

	post, err := m.st.NextUnused(ctx, m.botID)
	if err != nil {
		// Storage errors abort the cycle; the next tick retries.
		return fmt.Errorf("failed to fetch next post: %w", err)
	}

	if post == nil {
		// Empty pool: no post this cycle. Replenish synchronously and let
		// the next tick publish.
		log.Printf("[lifecycle] no unused posts for bot %s, replenishing", m.botID)
		if err := m.Replenish(ctx); err != nil {
			log.Printf("[lifecycle] replenishment failed: %v", err)
		}
		return nil
	}

	m.publishWithRetries(ctx, post)

	counts, err := m.st.Counts(ctx, m.botID)
	if err != nil {
		return fmt.Errorf("failed to count posts: %w", err)
	}
	// Strict comparison: a pool that was above the threshold before this
	// cycle and landed exactly on it does not trigger yet; the next
	// publish will.
	if counts.Remaining < m.cfg.ReplenishmentThreshold {
		log.Printf("[lifecycle] %d posts remaining (threshold %d), triggering replenishment",
			counts.Remaining, m.cfg.ReplenishmentThreshold)
		m.replenishAsync()
	}
	return nil
}

// publishWithRetries attempts to publish the post up to MaxRetries times
// with a flat delay between attempts. Every attempt is recorded before the
// retry decision. Fatal errors do not short-circuit the chain; they burn
// through the same retry budget as transient ones. On exhaustion the post
// stays unused and waits its turn on a future cycle.
func (m *Manager) publishWithRetries(ctx context.Context, post *store.Post) {
	content := strings.TrimSpace(post.Content)
	if content == "" || utf8.RuneCountInString(content) > expander.MaxPostLen {
		log.Printf("[lifecycle] post %s has invalid content (%d runes), skipping publish",
			post.ID, utf8.RuneCountInString(content))
		m.recordAttempt(ctx, post.ID, 1, false, "", "content failed pre-publish validation", 0)
		m.consecFailures.Add(1)
		return
	}

	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		start := time.Now()
		ref, err := m.pub.Publish(ctx, content)
		elapsed := time.Since(start).Milliseconds()

		if err == nil {
			m.recordAttempt(ctx, post.ID, attempt, true, ref, "", elapsed)
			if err := m.st.MarkUsed(ctx, m.botID, post.ID, ref); err != nil {
				log.Printf("[lifecycle] published post %s (ref %s) but failed to mark used: %v", post.ID, ref, err)
				return
			}
			log.Printf("[lifecycle] published post %s as %s on attempt %d", post.ID, ref, attempt)
			m.consecFailures.Store(0)
			return
		}

		m.recordAttempt(ctx, post.ID, attempt, false, "", err.Error(), elapsed)
		log.Printf("[lifecycle] publish attempt %d/%d for post %s failed: %v",
			attempt, m.cfg.MaxRetries, post.ID, err)

		if attempt < m.cfg.MaxRetries {
			if !sleepCtx(ctx, time.Duration(m.cfg.RetryDelayMs)*time.Millisecond) {
				log.Printf("[lifecycle] shutdown requested, abandoning retries for post %s", post.ID)
				m.consecFailures.Add(1)
				return
			}
		}
	}

	log.Printf("[lifecycle] exhausted %d attempts for post %s, leaving unused", m.cfg.MaxRetries, post.ID)
	m.consecFailures.Add(1)
}

// recordAttempt appends to the attempt log. Log failures are logged and
// swallowed: observability must not break publishing.
func (m *Manager) recordAttempt(ctx context.Context, postID string, attempt int, success bool, tweetID, errMsg string, ms int64) {
	err := m.st.RecordAttempt(ctx, store.Attempt{
		BotID:          m.botID,
		PostID:         postID,
		AttemptNumber:  attempt,
		Success:        success,
		TweetID:        tweetID,
		ErrorMessage:   errMsg,
		ResponseTimeMs: ms,
	})
	if err != nil {
		log.Printf("[lifecycle] failed to record attempt for post %s: %v", postID, err)
	}
}

// replenishAsync fires a replenishment without blocking the current cycle.
func (m *Manager) replenishAsync() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := m.Replenish(ctx); err != nil {
			log.Printf("[lifecycle] async replenishment failed: %v", err)
		}
	}()
}

// Replenish generates a fresh batch of posts and inserts it. When a
// generator is configured it contributes a batch alongside the template
// expansion; a generator failure degrades to templates only. Concurrent
// calls coalesce: if a replenishment is already running this is a no-op.
func (m *Manager) Replenish(ctx context.Context) error {
	if !m.replenishing.CompareAndSwap(false, true) {
		log.Printf("[lifecycle] replenishment already in progress, skipping")
		return nil
	}
	defer m.replenishing.Store(false)

	var batch []store.Post

	if m.gen != nil {
		generated, err := m.gen.GenerateBatch(ctx, m.genCount, catalog.Topics())
		if err != nil {
			log.Printf("[lifecycle] generation failed, continuing with templates: %v", err)
		} else {
			for _, g := range generated {
				batch = append(batch, store.Post{
					Content:          g.Content,
					Category:         string(g.Topic),
					GenerationCost:   g.Cost,
					GenerationTokens: g.TokensUsed,
					GenerationModel:  g.Model,
				})
			}
		}
	}

	for _, topic := range catalog.Topics() {
		expanded, err := expander.Expand(topic, m.cfg.PerTopicCount)
		if err != nil {
			return fmt.Errorf("failed to expand topic %s: %w", topic, err)
		}
		for _, content := range expanded {
			batch = append(batch, store.Post{Content: content, Category: string(topic)})
		}
	}

	res, err := m.st.InsertBatch(ctx, m.botID, batch)
	if err != nil {
		return fmt.Errorf("failed to insert replenishment batch: %w", err)
	}
	if err := m.st.MarkReplenished(ctx, m.botID, time.Now()); err != nil {
		return fmt.Errorf("failed to record replenishment: %w", err)
	}

	log.Printf("[lifecycle] replenished bot %s: %d inserted, %d duplicates skipped",
		m.botID, res.Inserted, res.SkippedDuplicates)
	return nil
}

// Status is the admin-surface snapshot. Its fields are chosen so "the bot
// is stuck" is visible without log inspection.
type Status struct {
	Initialized         bool      `json:"initialized"`
	BotID               string    `json:"bot_id"`
	RemainingPosts      int       `json:"remaining_posts"`
	LastPostAt          time.Time `json:"last_post_at,omitzero"`
	LastReplenishmentAt time.Time `json:"last_replenishment_at,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Status reports the manager's health from the cached stats row.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	stats, err := m.st.Stats(ctx, m.botID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Initialized:         m.initialized.Load(),
		BotID:               m.botID,
		RemainingPosts:      stats.RemainingPosts,
		LastPostAt:          stats.LastPostAt,
		LastReplenishmentAt: stats.LastReplenishmentAt,
		ConsecutiveFailures: int(m.consecFailures.Load()),
	}, nil
}

// Wait blocks until in-flight async replenishments finish. Call during
// shutdown before closing the store.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		// Still honor an already-cancelled context.
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
