// Package brain owns a live, named model that learns from incoming messages
// while it is being sampled.
//
// Chains are immutable, so the live model is a pointer that is swapped on
// every change. All changes go through a single writer goroutine (Run), which
// makes "read the current model, combine, publish" one step per message.
// Readers sample the current snapshot without locking.
package brain

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/CTAG07/nonsense/internal/checkpoint"
	"github.com/CTAG07/nonsense/internal/config"
	"github.com/CTAG07/nonsense/internal/store"
	"github.com/CTAG07/nonsense/pkg/markov"
)

var (
	// ErrClosed is returned for requests made after Run has returned.
	ErrClosed = errors.New("brain: closed")
	// ErrRunning is returned when Run is called twice.
	ErrRunning = errors.New("brain: already running")
)

// Repository persists models by name. *store.Store and *checkpoint.Dir
// implement it.
type Repository interface {
	LoadModel(ctx context.Context, name string) (*markov.Chain, error)
	SaveModel(ctx context.Context, name string, chain *markov.Chain) error
}

// Settings are the runtime knobs of a brain. They can be swapped at any time.
type Settings struct {
	Limits         markov.Limits
	Temperature    float64
	TopK           int
	MaxTokens      int
	AutoPost       bool
	Freq           int
	PingingEnabled bool
	SaveEvery      int
}

// SettingsFrom extracts the brain settings from the model configuration.
func SettingsFrom(cfg config.ModelConfig) Settings {
	return Settings{
		Limits:         cfg.Limits,
		Temperature:    cfg.Temperature,
		TopK:           cfg.TopK,
		MaxTokens:      cfg.MaxTokens,
		AutoPost:       cfg.AutoPost,
		Freq:           cfg.Freq,
		PingingEnabled: cfg.PingingEnabled,
		SaveEvery:      cfg.SaveEvery,
	}
}

// Options configure Open.
type Options struct {
	// Order of the seed model when nothing is stored. Stored models keep theirs.
	Order int
	// SeedText trains the fallback model used when nothing usable is stored.
	SeedText  string
	Tokenizer markov.Tokenizer
	Settings  Settings
	Logger    *slog.Logger
	// Rand defaults to markov.SharedRand().
	Rand markov.Rand
}

// FeedResult reports what happened to a fed message.
type FeedResult struct {
	Learned bool   `json:"learned"`
	Reply   string `json:"reply,omitempty"`
}

type request struct {
	apply  func(*markov.Chain) (*markov.Chain, error)
	count  int
	save   bool
	result chan response
}

type response struct {
	post bool
	err  error
}

// Brain is a live model with a single writer.
type Brain struct {
	name     string
	repo     Repository
	gen      *markov.Generator
	rng      markov.Rand
	logger   *slog.Logger
	model    atomic.Pointer[markov.Chain]
	settings atomic.Pointer[Settings]
	learned  atomic.Int64
	running  atomic.Bool
	requests chan request
	done     chan struct{}

	// owned by the writer
	unsaved int
	dirty   bool
}

// Open loads the named model from repo. A missing or corrupt model is
// replaced by a seed model trained on opts.SeedText. repo may be nil for a
// model that is never persisted.
func Open(ctx context.Context, name string, repo Repository, opts Options) (*Brain, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With(slog.String("model_name", name))
	rng := opts.Rand
	if rng == nil {
		rng = markov.SharedRand()
	}

	var chain *markov.Chain
	if repo != nil {
		loaded, err := repo.LoadModel(ctx, name)
		switch {
		case err == nil:
			chain = loaded
		case isMissing(err), errors.Is(err, markov.ErrCorruptModel):
			logger.Warn("Stored model unusable, starting from seed model", slog.Any("error", err))
		default:
			return nil, fmt.Errorf("failed to load model %q: %w", name, err)
		}
	}

	order := opts.Order
	if chain != nil && chain.Order() > 0 {
		order = chain.Order()
	}
	gen, err := markov.NewGenerator(opts.Tokenizer, order)
	if err != nil {
		return nil, err
	}
	gen.SetLogger(logger)

	if chain == nil {
		if chain, err = gen.Train(opts.SeedText); err != nil {
			return nil, fmt.Errorf("failed to train seed model: %w", err)
		}
	}

	b := &Brain{
		name:     name,
		repo:     repo,
		gen:      gen,
		rng:      rng,
		logger:   logger,
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	b.model.Store(chain)
	b.SetSettings(opts.Settings)

	logger.Info("Model opened", slog.Int("order", order), slog.Int("states", chain.Len()))
	return b, nil
}

func isMissing(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, checkpoint.ErrNotFound)
}

// Name returns the model name.
func (b *Brain) Name() string { return b.name }

// Order returns the order of the live model.
func (b *Brain) Order() int { return b.gen.Order() }

// Snapshot returns the current model. The chain is immutable and stays valid
// after later updates.
func (b *Brain) Snapshot() *markov.Chain {
	return b.model.Load()
}

// Stats returns the statistics of the current model.
func (b *Brain) Stats() markov.Stats {
	return b.model.Load().Stats()
}

// Settings returns the current settings.
func (b *Brain) Settings() Settings {
	return *b.settings.Load()
}

// SetSettings swaps the runtime settings.
func (b *Brain) SetSettings(s Settings) {
	b.settings.Store(&s)
}

// Run applies changes one at a time until ctx is cancelled, then saves any
// unsaved messages and returns.
func (b *Brain) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			if b.dirty {
				saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				err := b.save(saveCtx)
				cancel()
				if err != nil {
					return fmt.Errorf("final save of %q failed: %w", b.name, err)
				}
			}
			b.logger.Info("Model closed", slog.Int64("messages_learned", b.learned.Load()))
			return nil
		case req := <-b.requests:
			req.result <- b.handle(ctx, req)
		}
	}
}

func (b *Brain) handle(ctx context.Context, req request) response {
	var res response
	if req.apply != nil {
		next, err := req.apply(b.model.Load())
		if err != nil {
			return response{err: err}
		}
		b.model.Store(next)
		b.dirty = true
	}

	if req.count > 0 {
		b.unsaved += req.count
		learned := b.learned.Add(int64(req.count))
		s := b.settings.Load()
		res.post = s.AutoPost && s.Freq > 0 && learned%int64(s.Freq) == 0
		if s.SaveEvery > 0 && b.unsaved >= s.SaveEvery {
			if err := b.save(ctx); err != nil {
				b.logger.ErrorContext(ctx, "Periodic save failed", slog.Any("error", err))
			}
		}
	}

	if req.save {
		res.err = b.save(ctx)
	}
	return res
}

func (b *Brain) save(ctx context.Context) error {
	if b.repo == nil {
		b.unsaved, b.dirty = 0, false
		return nil
	}
	if err := b.repo.SaveModel(ctx, b.name, b.model.Load()); err != nil {
		return err
	}
	b.logger.DebugContext(ctx, "Model saved", slog.Int("messages", b.unsaved))
	b.unsaved, b.dirty = 0, false
	return nil
}

func (b *Brain) do(ctx context.Context, req request) (response, error) {
	req.result = make(chan response, 1)
	select {
	case b.requests <- req:
	case <-b.done:
		return response{}, ErrClosed
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
	select {
	case res := <-req.result:
		return res, res.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// Feed learns one message and returns once the live model includes it.
// Messages that are not conversation are ignored. When auto posting is on
// and the message is the Freq-th learned one, a reply is generated; an
// unsatisfiable generation simply yields no reply.
func (b *Brain) Feed(ctx context.Context, text string) (FeedResult, error) {
	if !IsConversation(text) {
		return FeedResult{}, nil
	}
	res, err := b.do(ctx, request{
		apply: func(c *markov.Chain) (*markov.Chain, error) { return b.gen.Extend(c, text) },
		count: 1,
	})
	if err != nil {
		return FeedResult{}, err
	}

	result := FeedResult{Learned: true}
	if res.post {
		reply, err := b.Generate()
		switch {
		case err == nil:
			result.Reply = reply
		case errors.Is(err, markov.ErrUnsatisfiable):
			b.logger.DebugContext(ctx, "No reply this round", slog.Any("error", err))
		default:
			return result, err
		}
	}
	return result, nil
}

// Train learns every conversation line of r in one update and returns the
// statistics of the trained sample.
func (b *Brain) Train(ctx context.Context, r io.Reader) (markov.Stats, error) {
	filtered, err := conversationLines(r)
	if err != nil {
		return markov.Stats{}, err
	}
	sample, err := b.gen.TrainReader(filtered)
	if err != nil {
		return markov.Stats{}, err
	}
	_, err = b.do(ctx, request{
		apply: func(c *markov.Chain) (*markov.Chain, error) { return markov.Combine(c, sample) },
	})
	return sample.Stats(), err
}

// Merge adds the weights of chain to the live model. Orders must match.
func (b *Brain) Merge(ctx context.Context, chain *markov.Chain) error {
	_, err := b.do(ctx, request{
		apply: func(c *markov.Chain) (*markov.Chain, error) { return markov.Combine(c, chain) },
	})
	return err
}

// Prune drops the transitions of weight minWeight or less from the live
// model and returns its new statistics.
func (b *Brain) Prune(ctx context.Context, minWeight int) (markov.Stats, error) {
	_, err := b.do(ctx, request{
		apply: func(c *markov.Chain) (*markov.Chain, error) { return c.Prune(minWeight), nil },
	})
	if err != nil {
		return markov.Stats{}, err
	}
	return b.Stats(), nil
}

// Save writes the live model to the repository now.
func (b *Brain) Save(ctx context.Context) error {
	_, err := b.do(ctx, request{save: true})
	return err
}

// Generate renders one sentence from the current model with the current
// settings. Extra options are applied after the configured ones.
func (b *Brain) Generate(opts ...markov.SampleOption) (string, error) {
	return b.GenerateWithin(b.Settings().Limits, opts...)
}

// GenerateWithin is Generate with explicit limits. Mentions are defused
// before the length check, so the returned text always fits.
func (b *Brain) GenerateWithin(limits markov.Limits, opts ...markov.SampleOption) (string, error) {
	s := b.Settings()
	all := append([]markov.SampleOption{
		markov.WithTemperature(s.Temperature),
		markov.WithTopK(s.TopK),
		markov.WithMaxTokens(s.MaxTokens),
	}, opts...)

	var r markov.Renderer = b.gen.Tokenizer()
	if !s.PingingEnabled {
		r = SanitizingRenderer(r)
	}
	return b.gen.GenerateWith(b.model.Load(), r, b.rng, limits, all...)
}

// conversationLines keeps the lines of r that IsConversation accepts.
func conversationLines(r io.Reader) (io.Reader, error) {
	var sb strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if line := scanner.Text(); IsConversation(line) {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read training data: %w", err)
	}
	return strings.NewReader(sb.String()), nil
}
