// Package pairgen turns raw conversation logs into a labeled
// contrastive dataset.
//
// Positive pairs are real adjacent (user, assistant) turns; negative
// pairs match each query with another conversation's response. The
// output is exactly twice the number of extracted positive pairs.
package pairgen

import (
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kotoba-ml/kotoba/internal/dataset"
)

// Generator extracts labeled pairs from a conversation corpus.
//
// Extraction runs per conversation on a worker pool; negative
// sampling and splitting use a seeded rng so runs are reproducible.
type Generator struct {
	rng      *rand.Rand
	poolSize int
	logger   *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithPoolSize sets the worker pool size for conversation extraction.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(g *Generator) {
		if size < 1 {
			size = 1
		}
		g.poolSize = size
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New creates a Generator seeded for reproducible sampling.
func New(seed int64, opts ...Option) *Generator {
	g := &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		poolSize: max(runtime.NumCPU(), 1),
		logger:   slog.Default().With("component", "pairgen"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ExtractPositives walks every conversation and emits one positive
// pair per matched (user, assistant) turn couple.
//
// Turns are paired in lockstep at even offsets; an offset whose roles
// don't match is skipped, and a trailing unpaired turn is dropped.
// Malformed conversations are skipped with a warning, never fatal.
// Output order follows sorted conversation IDs regardless of worker
// scheduling.
func (g *Generator) ExtractPositives(corpus Corpus) ([]dataset.ContrastivePair, error) {
	keys := make([]string, 0, len(corpus))
	for key := range corpus {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pool, err := ants.NewPool(g.poolSize)
	if err != nil {
		return nil, fmt.Errorf("pairgen: creating worker pool: %w", err)
	}
	defer pool.Release()

	results := make([][]dataset.ContrastivePair, len(keys))
	var wg sync.WaitGroup
	for i, key := range keys {
		i := i // per-iteration copy for the submitted closure (pre-go1.22 loop semantics)
		conv := corpus[key]
		if !conv.valid() {
			g.logger.Warn("skipping malformed conversation", "id", key)
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			results[i] = extractFromConversation(conv)
		}); err != nil {
			wg.Done()
			return nil, fmt.Errorf("pairgen: submitting conversation %s: %w", key, err)
		}
	}
	wg.Wait()

	var positives []dataset.ContrastivePair
	for _, pairs := range results {
		positives = append(positives, pairs...)
	}
	return positives, nil
}

// extractFromConversation pairs turns at even offsets.
func extractFromConversation(conv Conversation) []dataset.ContrastivePair {
	msgs := *conv.Messages
	var pairs []dataset.ContrastivePair
	for i := 0; i+1 < len(msgs); i += 2 {
		if *msgs[i].Role != RoleUser || *msgs[i+1].Role != RoleAssistant {
			continue
		}
		pairs = append(pairs, dataset.ContrastivePair{
			Text1: msgs[i].Content,
			Text2: msgs[i+1].Content,
			Label: 1,
		})
	}
	return pairs
}

// GenerateNegatives emits one negative per positive by pairing its
// query with the response of another randomly drawn positive.
//
// A draw identical by value to the source pair is rejected and
// redrawn, so a query is never "negatively" paired with its own true
// response. The pool must contain at least two distinct positives,
// otherwise rejection sampling cannot terminate.
func (g *Generator) GenerateNegatives(positives []dataset.ContrastivePair) ([]dataset.ContrastivePair, error) {
	if len(positives) < 2 {
		return nil, fmt.Errorf("pairgen: need at least 2 positive pairs to sample negatives, got %d", len(positives))
	}
	if allEqual(positives) {
		return nil, fmt.Errorf("pairgen: all %d positive pairs are identical, cannot sample negatives", len(positives))
	}

	negatives := make([]dataset.ContrastivePair, 0, len(positives))
	for _, src := range positives {
		var other dataset.ContrastivePair
		for {
			other = positives[g.rng.Intn(len(positives))]
			if other.Text1 != src.Text1 || other.Text2 != src.Text2 {
				break
			}
		}
		negatives = append(negatives, dataset.ContrastivePair{
			Text1: src.Text1,
			Text2: other.Text2,
			Label: 0,
		})
	}
	return negatives, nil
}

// allEqual reports whether every pair has the same texts as the first.
func allEqual(pairs []dataset.ContrastivePair) bool {
	for _, p := range pairs[1:] {
		if p.Text1 != pairs[0].Text1 || p.Text2 != pairs[0].Text2 {
			return false
		}
	}
	return true
}

// Generate extracts positives and samples one negative per positive.
// The result holds exactly twice as many pairs as positives found.
func (g *Generator) Generate(corpus Corpus) ([]dataset.ContrastivePair, error) {
	positives, err := g.ExtractPositives(corpus)
	if err != nil {
		return nil, err
	}
	g.logger.Info("extracted positive pairs", "count", len(positives), "conversations", len(corpus))

	negatives, err := g.GenerateNegatives(positives)
	if err != nil {
		return nil, err
	}
	return append(positives, negatives...), nil
}

// SplitRatios holds the train and validation fractions; the test
// split takes whatever remains.
type SplitRatios struct {
	Train      float64
	Validation float64
}

// DefaultSplitRatios is the 70/15/15 split.
var DefaultSplitRatios = SplitRatios{Train: 0.70, Validation: 0.15}

// Split shuffles pairs with the generator's rng and partitions them
// into train, validation, and test sets. The splits are disjoint and
// cover the input exactly once.
func (g *Generator) Split(pairs []dataset.ContrastivePair, ratios SplitRatios) (train, val, test []dataset.ContrastivePair) {
	shuffled := make([]dataset.ContrastivePair, len(pairs))
	for i, j := range g.rng.Perm(len(pairs)) {
		shuffled[i] = pairs[j]
	}

	trainEnd := int(float64(len(shuffled)) * ratios.Train)
	valEnd := trainEnd + int(float64(len(shuffled))*ratios.Validation)
	return shuffled[:trainEnd], shuffled[trainEnd:valEnd], shuffled[valEnd:]
}
