package lifecycle

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/dripfeed/internal/catalog"
	"github.com/ibeckermayer/dripfeed/internal/config"
	"github.com/ibeckermayer/dripfeed/internal/generator"
	"github.com/ibeckermayer/dripfeed/internal/publisher"
	"github.com/ibeckermayer/dripfeed/internal/store"
)

// stubPublisher scripts per-call outcomes. A nil entry means success.
type stubPublisher struct {
	mu        sync.Mutex
	initErr   error
	errs      []error
	ref       string
	calls     int
	onPublish func(call int)
}

func (p *stubPublisher) Init(ctx context.Context) error { return p.initErr }

func (p *stubPublisher) Publish(ctx context.Context, content string) (string, error) {
	p.mu.Lock()
	call := p.calls
	p.calls++
	hook := p.onPublish
	p.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if call < len(p.errs) && p.errs[call] != nil {
		return "", p.errs[call]
	}
	return p.ref, nil
}

func (p *stubPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// stubGenerator returns a fixed batch or error.
type stubGenerator struct {
	initErr error
	batch   []generator.Generated
	err     error
	calls   int
}

func (g *stubGenerator) Init(ctx context.Context) error { return g.initErr }

func (g *stubGenerator) GenerateBatch(ctx context.Context, count int, topics []catalog.Topic) ([]generator.Generated, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.batch, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Bot.BotID = "bot-a"
	cfg.Bot.RetryDelayMs = 0           // no flat delay in tests
	cfg.Bot.ReplenishmentThreshold = 0 // boundary tests opt in explicitly
	cfg.X.AccessToken = "token"
	return cfg
}

func newTestManager(t *testing.T, pub publisher.Client, gen generator.Client, cfg *config.Config) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "dripfeed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	m := New(st, pub, gen, cfg)
	require.NoError(t, m.Init(context.Background()))
	return m, st
}

func seedPosts(t *testing.T, st *store.Store, botID string, n int) {
	t.Helper()
	posts := make([]store.Post, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, store.Post{Content: fmt.Sprintf("Seed post number %d.", i)})
	}
	res, err := st.InsertBatch(context.Background(), botID, posts)
	require.NoError(t, err)
	require.Equal(t, n, res.Inserted)
}

func TestSingleCycleSuccess(t *testing.T) {
	pub := &stubPublisher{ref: "ext-123"}
	m, st := newTestManager(t, pub, nil, testConfig())
	ctx := context.Background()

	_, err := st.InsertBatch(ctx, "bot-a", []store.Post{{Content: "Test post one."}})
	require.NoError(t, err)

	require.NoError(t, m.RunCycle(ctx))
	m.Wait()

	assert.Equal(t, 1, pub.callCount())

	// The post flipped to used with the external ref.
	p, err := st.NextUnused(ctx, "bot-a")
	require.NoError(t, err)
	assert.Nil(t, p, "no unused post should remain before replenishment lands")

	attempts, err := st.RecentAttempts(ctx, "bot-a", 10)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, "ext-123", attempts[0].TweetID)
	assert.Equal(t, 1, attempts[0].AttemptNumber)

	stats, err := st.Stats(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.UsedPosts)
	assert.False(t, stats.LastPostAt.IsZero())
}

func TestRetryBound(t *testing.T) {
	transient := &publisher.TransientError{Status: 429, Msg: "rate limited"}
	pub := &stubPublisher{errs: []error{transient, transient, transient, transient, transient}}

	cfg := testConfig()
	m, st := newTestManager(t, pub, nil, cfg)
	ctx := context.Background()

	_, err := st.InsertBatch(ctx, "bot-a", []store.Post{{Content: "Doomed post."}})
	require.NoError(t, err)

	require.NoError(t, m.RunCycle(ctx))
	m.Wait()

	// Exactly maxRetries attempts, all logged, post still unused.
	assert.Equal(t, cfg.Bot.MaxRetries, pub.callCount())
	attempts, err := st.RecentAttempts(ctx, "bot-a", 10)
	require.NoError(t, err)
	assert.Len(t, attempts, cfg.Bot.MaxRetries)

	p, err := st.NextUnused(ctx, "bot-a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Doomed post.", p.Content)
	assert.False(t, p.Used)
}

func TestFatalErrorDoesNotShortCircuitRetries(t *testing.T) {
	fatal := &publisher.FatalError{Status: 403, Msg: "duplicate content"}
	pub := &stubPublisher{errs: []error{fatal, fatal, fatal}}

	cfg := testConfig()
	m, st := newTestManager(t, pub, nil, cfg)
	ctx := context.Background()

	_, err := st.InsertBatch(ctx, "bot-a", []store.Post{{Content: "Rejected post."}})
	require.NoError(t, err)

	require.NoError(t, m.RunCycle(ctx))
	m.Wait()

	// Fatal failures burn the whole retry budget, same as transient ones.
	assert.Equal(t, cfg.Bot.MaxRetries, pub.callCount())
}

func TestCancellationStopsRetriesBetweenAttempts(t *testing.T) {
	transient := &publisher.TransientError{Status: 503, Msg: "unavailable"}
	ctx, cancel := context.WithCancel(context.Background())
	pub := &stubPublisher{
		errs:      []error{transient, transient, transient},
		onPublish: func(int) { cancel() },
	}

	m, st := newTestManager(t, pub, nil, testConfig())
	_, err := st.InsertBatch(context.Background(), "bot-a", []store.Post{{Content: "Interrupted post."}})
	require.NoError(t, err)

	// The context is cancelled during the first attempt. The attempt runs
	// to completion, but the retry loop must not start another.
	assert.Error(t, m.RunCycle(ctx))
	m.Wait()

	assert.Equal(t, 1, pub.callCount())

	p, err := st.NextUnused(context.Background(), "bot-a")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.False(t, p.Used)
}

func TestEmptyPoolReplenishesSynchronously(t *testing.T) {
	pub := &stubPublisher{ref: "ext-1"}
	m, st := newTestManager(t, pub, nil, testConfig())
	ctx := context.Background()

	require.NoError(t, m.RunCycle(ctx))
	m.Wait()

	// Nothing was published this cycle, but the pool was refilled.
	assert.Zero(t, pub.callCount())
	counts, err := st.Counts(ctx, "bot-a")
	require.NoError(t, err)
	assert.Greater(t, counts.Remaining, 0)

	// The next cycle publishes normally.
	require.NoError(t, m.RunCycle(ctx))
	m.Wait()
	assert.Equal(t, 1, pub.callCount())
}

func TestReplenishmentTriggerBoundary(t *testing.T) {
	t.Run("at threshold triggers", func(t *testing.T) {
		cfg := testConfig()
		cfg.Bot.ReplenishmentThreshold = 50
		pub := &stubPublisher{ref: "ext-1"}
		m, st := newTestManager(t, pub, nil, cfg)
		ctx := context.Background()

		seedPosts(t, st, "bot-a", 50)

		require.NoError(t, m.RunCycle(ctx))
		m.Wait()

		// 49 remaining after the publish: replenishment fired.
		counts, err := st.Counts(ctx, "bot-a")
		require.NoError(t, err)
		assert.Greater(t, counts.Total, 50, "replenishment should have inserted new posts")
	})

	t.Run("above threshold does not trigger", func(t *testing.T) {
		cfg := testConfig()
		cfg.Bot.ReplenishmentThreshold = 50
		pub := &stubPublisher{ref: "ext-1"}
		m, st := newTestManager(t, pub, nil, cfg)
		ctx := context.Background()

		seedPosts(t, st, "bot-a", 51)

		require.NoError(t, m.RunCycle(ctx))
		m.Wait()

		// 50 remaining after the publish: exactly at the threshold, no
		// replenishment yet.
		counts, err := st.Counts(ctx, "bot-a")
		require.NoError(t, err)
		assert.Equal(t, 51, counts.Total)
		assert.Equal(t, 50, counts.Remaining)
	})
}

func TestRunCycleBeforeInit(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "dripfeed.db"))
	require.NoError(t, err)
	defer st.Close()

	m := New(st, &stubPublisher{}, nil, testConfig())
	assert.ErrorIs(t, m.RunCycle(context.Background()), ErrNotInitialized)
}

func TestRunCycleSingleFlight(t *testing.T) {
	pub := &stubPublisher{ref: "ext-1"}
	m, _ := newTestManager(t, pub, nil, testConfig())

	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	assert.ErrorIs(t, m.RunCycle(context.Background()), ErrCycleInFlight)
}

func TestInitFailsOnPublisherAuthError(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "dripfeed.db"))
	require.NoError(t, err)
	defer st.Close()

	pub := &stubPublisher{initErr: &publisher.FatalError{Status: 401, Msg: "bad token"}}
	m := New(st, pub, nil, testConfig())
	assert.Error(t, m.Init(context.Background()))
	assert.False(t, m.Initialized())
}

func TestGeneratorInitFailureDisablesGenerator(t *testing.T) {
	gen := &stubGenerator{initErr: fmt.Errorf("no key")}
	pub := &stubPublisher{ref: "ext-1"}
	m, _ := newTestManager(t, pub, gen, testConfig())

	require.NoError(t, m.Replenish(context.Background()))
	assert.Zero(t, gen.calls, "disabled generator must not be called")
}

func TestReplenishWithGenerator(t *testing.T) {
	gen := &stubGenerator{batch: []generator.Generated{
		{Content: "Generated wisdom about shipping.", Topic: catalog.TopicCoding, TokensUsed: 120, Cost: 0.004, Model: "claude-sonnet-4-20250514"},
		{Content: "Generated wisdom about resting.", Topic: catalog.TopicWellness, TokensUsed: 110, Cost: 0.003, Model: "claude-sonnet-4-20250514"},
	}}
	pub := &stubPublisher{ref: "ext-1"}
	m, st := newTestManager(t, pub, gen, testConfig())
	ctx := context.Background()

	require.NoError(t, m.Replenish(ctx))
	assert.Equal(t, 1, gen.calls)

	stats, err := st.Stats(ctx, "bot-a")
	require.NoError(t, err)
	assert.Equal(t, 230, stats.TotalTokens)
	assert.InDelta(t, 0.007, stats.TotalCost, 1e-9)
	assert.False(t, stats.LastReplenishmentAt.IsZero())
}

func TestReplenishGeneratorFailureFallsBackToTemplates(t *testing.T) {
	gen := &stubGenerator{err: fmt.Errorf("api down")}
	pub := &stubPublisher{ref: "ext-1"}
	m, st := newTestManager(t, pub, gen, testConfig())
	ctx := context.Background()

	require.NoError(t, m.Replenish(ctx))

	counts, err := st.Counts(ctx, "bot-a")
	require.NoError(t, err)
	assert.Greater(t, counts.Total, 0, "template expansion should still fill the pool")
}

func TestStatus(t *testing.T) {
	pub := &stubPublisher{ref: "ext-1"}
	m, st := newTestManager(t, pub, nil, testConfig())
	ctx := context.Background()

	_, err := st.InsertBatch(ctx, "bot-a", []store.Post{{Content: "One post."}})
	require.NoError(t, err)

	status, err := m.Status(ctx)
	require.NoError(t, err)
	assert.True(t, status.Initialized)
	assert.Equal(t, "bot-a", status.BotID)
	assert.Equal(t, 1, status.RemainingPosts)
	assert.Zero(t, status.ConsecutiveFailures)
}
