package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CTAG07/nonsense/internal/brain"
	"github.com/CTAG07/nonsense/internal/checkpoint"
	"github.com/CTAG07/nonsense/internal/config"
	"github.com/CTAG07/nonsense/internal/store"
	"github.com/CTAG07/nonsense/pkg/markov"
)

// env is what the one-shot commands work with.
type env struct {
	cfg     config.Config
	logger  *slog.Logger
	storage *Storage
}

func loadEnv(opts *rootOptions) (*env, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, _ := newLogger(opts.stderr, cfg.Logging, opts.verbose)
	storage, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, storage: storage}, nil
}

func (e *env) close() {
	if err := e.storage.Close(); err != nil {
		e.logger.Error("Failed to close storage", "error", err)
	}
}

// sqlite returns the SQLite store when it holds the models.
func (e *env) sqlite() (*store.Store, bool) {
	sm, ok := e.storage.models.(sqliteModels)
	return sm.Store, ok
}

func (e *env) loadModel(ctx context.Context, name string) (*markov.Chain, error) {
	chain, err := e.storage.models.LoadModel(ctx, name)
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("model %q not found, train it first: %w", name, err)
	}
	return chain, err
}

// withLiveBrain runs b while fn uses it, then lets it save and stop.
func withLiveBrain(ctx context.Context, b *brain.Brain, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		return fn(gctx)
	})
	return g.Wait()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTrainCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train <model> [file...]",
		Short: "Learn every conversation line of the given files (or stdin)",
		Long: "Learn every conversation line of the given files, or of stdin when no file\n" +
			"is given. Lines that are empty or start with '/', '!' or '?' are skipped.\n" +
			"A model that does not exist yet is created from the configured seed text.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !config.ValidModelName(name) {
				return fmt.Errorf("invalid model name %q", name)
			}
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.close()

			b, err := openBrain(cmd.Context(), name, e.storage.models, e.cfg.Model, e.logger)
			if err != nil {
				return err
			}
			err = withLiveBrain(cmd.Context(), b, func(ctx context.Context) error {
				if len(args) == 1 {
					_, err := b.Train(ctx, cmd.InOrStdin())
					return err
				}
				for _, path := range args[1:] {
					if err := trainFile(ctx, b, path); err != nil {
						return err
					}
					e.logger.Info("File trained", "model_name", name, "path", path)
				}
				return nil
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), b.Stats())
		},
	}
}

func trainFile(ctx context.Context, b *brain.Brain, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	if _, err = b.Train(ctx, f); err != nil {
		return fmt.Errorf("failed to train on %s: %w", path, err)
	}
	return nil
}

func newGenerateCmd(opts *rootOptions) *cobra.Command {
	var (
		count       int
		limits      markov.Limits
		start       []string
		temperature float64
		topK        int
		seed        uint64
	)
	cmd := &cobra.Command{
		Use:   "generate <model>",
		Short: "Generate sentences from a stored model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.close()

			chain, err := e.loadModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			gen, err := markov.NewGenerator(nil, chain.Order())
			if err != nil {
				return err
			}
			gen.SetLogger(e.logger.With("model_name", args[0]))

			flags := cmd.Flags()
			if !flags.Changed("min") {
				limits.MinLength = e.cfg.Model.Limits.MinLength
			}
			if !flags.Changed("max") {
				limits.MaxLength = e.cfg.Model.Limits.MaxLength
			}
			if !flags.Changed("attempts") {
				limits.MaxAttempts = e.cfg.Model.Limits.MaxAttempts
			}
			if !flags.Changed("temperature") {
				temperature = e.cfg.Model.Temperature
			}
			if !flags.Changed("top-k") {
				topK = e.cfg.Model.TopK
			}
			sampleOpts := []markov.SampleOption{
				markov.WithTemperature(temperature),
				markov.WithTopK(topK),
				markov.WithMaxTokens(e.cfg.Model.MaxTokens),
			}
			if len(start) > 0 {
				sampleOpts = append(sampleOpts, markov.WithStart(start...))
			}
			rng := markov.SharedRand()
			if flags.Changed("seed") {
				rng = markov.NewRand(seed)
			}

			var renderer markov.Renderer = gen.Tokenizer()
			if !e.cfg.Model.PingingEnabled {
				renderer = brain.SanitizingRenderer(renderer)
			}

			out := cmd.OutOrStdout()
			for i := 0; i < count; i++ {
				text, err := gen.GenerateWith(chain, renderer, rng, limits, sampleOpts...)
				if errors.Is(err, markov.ErrUnsatisfiable) {
					e.logger.Warn("No sentence fit the limits", "attempts", limits.MaxAttempts)
					continue
				}
				if err != nil {
					return err
				}
				if _, err = fmt.Fprintln(out, text); err != nil {
					return err
				}
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.IntVarP(&count, "count", "n", 1, "number of sentences to generate")
	flags.IntVar(&limits.MinLength, "min", 0, "minimum sentence length in characters (default from config)")
	flags.IntVar(&limits.MaxLength, "max", 0, "maximum sentence length in characters (default from config)")
	flags.IntVar(&limits.MaxAttempts, "attempts", 0, "walks to try per sentence (default from config)")
	flags.StringSliceVar(&start, "start", nil, "words every sentence starts with")
	flags.Float64Var(&temperature, "temperature", 1.0, "sampling temperature (default from config)")
	flags.IntVar(&topK, "top-k", 0, "only pick among the k heaviest next tokens (default from config)")
	flags.Uint64Var(&seed, "seed", 0, "seed for reproducible output")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var output, format string
	cmd := &cobra.Command{
		Use:   "export <model>",
		Short: "Write a stored model as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.close()

			chain, err := e.loadModel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output != "" {
				if err = checkpoint.Save(output, chain); err != nil {
					return err
				}
				e.logger.Info("Model exported", "model_name", args[0], "path", output)
				return nil
			}
			switch checkpoint.Format(format) {
			case checkpoint.FormatYAML:
				return markov.ExportYAML(chain, cmd.OutOrStdout())
			case checkpoint.FormatJSON:
				return markov.ExportJSON(chain, cmd.OutOrStdout())
			default:
				return fmt.Errorf("unknown format %q", format)
			}
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write; the format follows its extension")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "format written to stdout (json or yaml)")
	return cmd
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <model> <file>",
		Short: "Merge a JSON, YAML or markovify model file into a stored model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]
			if !config.ValidModelName(name) {
				return fmt.Errorf("invalid model name %q", name)
			}
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.close()
			ctx := cmd.Context()

			chain, err := checkpoint.Load(path)
			if err != nil {
				return err
			}

			if st, ok := e.sqlite(); ok && !replace {
				if err = st.MergeModel(ctx, name, chain); err != nil {
					return err
				}
			} else {
				if !replace {
					existing, err := e.storage.models.LoadModel(ctx, name)
					switch {
					case err == nil:
						if chain, err = markov.Combine(existing, chain); err != nil {
							return err
						}
					case !errors.Is(err, checkpoint.ErrNotFound) && !errors.Is(err, store.ErrNotFound):
						return err
					}
				}
				if err = e.storage.models.SaveModel(ctx, name, chain); err != nil {
					return err
				}
			}

			merged, err := e.storage.models.LoadModel(ctx, name)
			if err != nil {
				return err
			}
			e.logger.Info("Model imported", "model_name", name, "path", path, "replace", replace)
			return printJSON(cmd.OutOrStdout(), merged.Stats())
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "replace the stored model instead of merging into it")
	return cmd
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [model...]",
		Short: "Print the statistics of stored models (all of them by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.close()
			ctx := cmd.Context()

			names := args
			if len(names) == 0 {
				if names, err = e.storage.models.ListModels(ctx); err != nil {
					return err
				}
			}
			all := make(map[string]markov.Stats, len(names))
			for _, name := range names {
				var stats markov.Stats
				if st, ok := e.sqlite(); ok {
					stats, err = st.GetStats(ctx, name)
				} else {
					var chain *markov.Chain
					if chain, err = e.loadModel(ctx, name); err == nil {
						stats = chain.Stats()
					}
				}
				if err != nil {
					return err
				}
				all[name] = stats
			}
			return printJSON(cmd.OutOrStdout(), all)
		},
	}
}

func newPruneCmd(opts *rootOptions) *cobra.Command {
	var minWeight int
	cmd := &cobra.Command{
		Use:   "prune <model>",
		Short: "Drop rare transitions from a stored model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if minWeight < 1 {
				return errors.New("--min-weight must be at least 1")
			}
			e, err := loadEnv(opts)
			if err != nil {
				return err
			}
			defer e.close()
			ctx, name := cmd.Context(), args[0]

			var stats markov.Stats
			if st, ok := e.sqlite(); ok {
				if _, err = st.PruneModel(ctx, name, minWeight); err != nil {
					return err
				}
				stats, err = st.GetStats(ctx, name)
			} else {
				var chain *markov.Chain
				if chain, err = e.loadModel(ctx, name); err != nil {
					return err
				}
				pruned := chain.Prune(minWeight)
				if err = e.storage.models.SaveModel(ctx, name, pruned); err != nil {
					return err
				}
				stats = pruned.Stats()
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
	cmd.Flags().IntVar(&minWeight, "min-weight", 1, "drop transitions of this weight or less")
	return cmd
}
