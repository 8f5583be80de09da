package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/CTAG07/nonsense/internal/store"
	"github.com/CTAG07/nonsense/pkg/markov"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memRepo is an in-memory Repository.
type memRepo struct {
	mu      sync.Mutex
	models  map[string]*markov.Chain
	saves   int
	loadErr error
	saveErr error
}

func newMemRepo() *memRepo {
	return &memRepo{models: map[string]*markov.Chain{}}
}

func (r *memRepo) LoadModel(_ context.Context, name string) (*markov.Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	chain, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", store.ErrNotFound, name)
	}
	return chain, nil
}

func (r *memRepo) SaveModel(_ context.Context, name string, chain *markov.Chain) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.models[name] = chain
	r.saves++
	return nil
}

func (r *memRepo) get(name string) (*markov.Chain, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.models[name], r.saves
}

func testSettings() Settings {
	return Settings{
		Limits:         markov.DefaultLimits(),
		Temperature:    1.0,
		MaxTokens:      1000,
		Freq:           1,
		PingingEnabled: true,
	}
}

func testOptions() Options {
	return Options{
		Order:    1,
		SeedText: "Hello, I am a bot.",
		Settings: testSettings(),
		Rand:     markov.SharedRand(),
	}
}

// startBrain opens a brain and runs it until the test ends.
func startBrain(t *testing.T, repo Repository, opts Options) *Brain {
	t.Helper()
	b, err := Open(context.Background(), "general", repo, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return b
}

func TestOpenSeedsMissingModel(t *testing.T) {
	b, err := Open(context.Background(), "general", newMemRepo(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, b.Order())
	text, err := b.Generate()
	require.NoError(t, err)
	assert.Equal(t, "Hello, I am a bot.", text)
}

func TestOpenSeedsCorruptModel(t *testing.T) {
	repo := newMemRepo()
	repo.loadErr = fmt.Errorf("decode: %w", markov.ErrCorruptModel)
	b, err := Open(context.Background(), "general", repo, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, b.Stats().StartingTokens)

	repo.loadErr = errors.New("disk on fire")
	_, err = Open(context.Background(), "general", repo, testOptions())
	assert.Error(t, err, "unexpected load errors must not be papered over")
}

func TestOpenKeepsStoredOrder(t *testing.T) {
	repo := newMemRepo()
	stored, err := markov.Build(markov.NewDefaultTokenizer().Tokenize("one fish two fish."), 3)
	require.NoError(t, err)
	repo.models["general"] = stored

	b, err := Open(context.Background(), "general", repo, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 3, b.Order())
	assert.True(t, stored.Equal(b.Snapshot()))
}

func TestFeed(t *testing.T) {
	b := startBrain(t, nil, testOptions())
	ctx := context.Background()

	res, err := b.Feed(ctx, "the cat sat.")
	require.NoError(t, err)
	assert.True(t, res.Learned)
	assert.Empty(t, res.Reply, "auto post is off")
	assert.Equal(t, 1, b.Snapshot().Weight(markov.BeginState(1), "the"))

	for _, ignored := range []string{"", "   ", "!nonsense info", "/help", "?what"} {
		res, err = b.Feed(ctx, ignored)
		require.NoError(t, err)
		assert.False(t, res.Learned, ignored)
	}
}

func TestFeedAutoPost(t *testing.T) {
	opts := testOptions()
	opts.Settings.AutoPost = true
	opts.Settings.Freq = 3
	b := startBrain(t, nil, opts)
	ctx := context.Background()

	var replies []string
	for i := 0; i < 6; i++ {
		res, err := b.Feed(ctx, "hi there.")
		require.NoError(t, err)
		if res.Reply != "" {
			replies = append(replies, res.Reply)
		}
	}
	assert.Len(t, replies, 2, "expected a reply every third message")
}

func TestConcurrentFeedLosesNothing(t *testing.T) {
	b := startBrain(t, nil, testOptions())
	ctx := context.Background()

	const writers, messages = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < messages; i++ {
				_, err := b.Feed(ctx, "spam spam.")
				assert.NoError(t, err)
				// Readers run concurrently with the writer.
				_, _ = b.Generate()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, writers*messages, b.Snapshot().Weight(markov.BeginState(1), "spam"))
}

func TestPeriodicAndFinalSave(t *testing.T) {
	repo := newMemRepo()
	opts := testOptions()
	opts.Settings.SaveEvery = 2

	b, err := Open(context.Background(), "general", repo, opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	_, err = b.Feed(ctx, "one.")
	require.NoError(t, err)
	_, saves := repo.get("general")
	assert.Zero(t, saves)

	_, err = b.Feed(ctx, "two.")
	require.NoError(t, err)
	saved, saves := repo.get("general")
	assert.Equal(t, 1, saves)
	assert.Equal(t, 1, saved.Weight(markov.BeginState(1), "two."))

	_, err = b.Feed(ctx, "three.")
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-done)
	saved, saves = repo.get("general")
	assert.Equal(t, 2, saves, "shutdown should save the last message")
	assert.Equal(t, 1, saved.Weight(markov.BeginState(1), "three."))

	_, err = b.Feed(context.Background(), "four.")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, b.Run(context.Background()), ErrRunning)
}

func TestSaveError(t *testing.T) {
	repo := newMemRepo()
	b := startBrain(t, repo, testOptions())

	repo.mu.Lock()
	repo.saveErr = errors.New("read-only")
	repo.mu.Unlock()
	assert.Error(t, b.Save(context.Background()))

	repo.mu.Lock()
	repo.saveErr = nil
	repo.mu.Unlock()
	require.NoError(t, b.Save(context.Background()))
	saved, _ := repo.get("general")
	assert.True(t, saved.Equal(b.Snapshot()))
}

func TestTrainMergePrune(t *testing.T) {
	b := startBrain(t, nil, testOptions())
	ctx := context.Background()

	stats, err := b.Train(ctx, strings.NewReader("a b c.\n!command\na b d.\n\n/skip me\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.States)
	assert.Equal(t, 6, stats.Transitions)
	assert.Equal(t, 2, b.Snapshot().Weight(markov.NewState("a"), "b"))
	assert.Zero(t, b.Snapshot().Weight(markov.BeginState(1), "!command"))

	extra, err := markov.Build(markov.NewDefaultTokenizer().Tokenize("a b c."), 1)
	require.NoError(t, err)
	require.NoError(t, b.Merge(ctx, extra))
	assert.Equal(t, 2, b.Snapshot().Weight(markov.NewState("b"), "c."))

	wrongOrder, err := markov.Build(markov.NewDefaultTokenizer().Tokenize("a b c."), 2)
	require.NoError(t, err)
	assert.ErrorIs(t, b.Merge(ctx, wrongOrder), markov.ErrOrderMismatch)

	pruned, err := b.Prune(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pruned, b.Stats())
	assert.Zero(t, b.Snapshot().Weight(markov.NewState("b"), "d."))
	assert.Equal(t, 3, b.Snapshot().Weight(markov.NewState("a"), "b"))
}

func TestGenerateSettings(t *testing.T) {
	opts := testOptions()
	opts.SeedText = "ping <@1234> and @everyone now."
	b := startBrain(t, nil, opts)

	text, err := b.Generate()
	require.NoError(t, err)
	assert.Equal(t, "ping <@1234> and @everyone now.", text)

	s := b.Settings()
	s.PingingEnabled = false
	b.SetSettings(s)
	text, err = b.Generate()
	require.NoError(t, err)
	assert.Equal(t, "ping <@"+zeroWidthSpace+"1234> and @"+zeroWidthSpace+"everyone now.", text)

	s.Limits = markov.Limits{MinLength: 1, MaxLength: 5, MaxAttempts: 3}
	b.SetSettings(s)
	_, err = b.Generate()
	assert.ErrorIs(t, err, markov.ErrUnsatisfiable)

	text, err = b.GenerateWithin(markov.DefaultLimits(), markov.WithStart("ping"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "ping"))
}

func TestGenerateLimitsApplyToSanitizedText(t *testing.T) {
	opts := testOptions()
	opts.SeedText = "@everyone"
	opts.Settings.PingingEnabled = false
	opts.Settings.Limits = markov.Limits{MinLength: 1, MaxLength: 9, MaxAttempts: 5}
	b := startBrain(t, nil, opts)

	// Nine runes raw, ten once defused.
	_, err := b.Generate()
	assert.ErrorIs(t, err, markov.ErrUnsatisfiable)

	text, err := b.GenerateWithin(markov.Limits{MinLength: 1, MaxLength: 10, MaxAttempts: 5})
	require.NoError(t, err)
	assert.Equal(t, "@"+zeroWidthSpace+"everyone", text)
}

func TestFeedContextCancelled(t *testing.T) {
	b, err := Open(context.Background(), "general", nil, testOptions())
	require.NoError(t, err)

	// Nothing is running, so the request cannot be delivered.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.Feed(ctx, "hello.")
	assert.ErrorIs(t, err, context.Canceled)
}
