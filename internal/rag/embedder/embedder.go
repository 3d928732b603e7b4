package embedder

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"finderskeepers/internal/config"
	"finderskeepers/internal/embedding"
	"finderskeepers/internal/retry"
)

// ErrEmbeddingDimMismatch is returned when the embedding endpoint's response
// vector width doesn't match the configured dimension; callers must treat
// this as a hard failure, never silently truncate or pad.
var ErrEmbeddingDimMismatch = errors.New("embedding dimension mismatch")

// Embedder defines the interface for converting text to embedding vectors.
type Embedder interface {
	// EmbedBatch returns an embedding vector per input text.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns a model identifier string.
	Name() string
	// Dimension returns the embedding dimensionality (0 for variable/unknown).
	Dimension() int
	// Ping checks if the embedding service is reachable.
	Ping(ctx context.Context) error
}

// clientEmbedder wraps the embedding.EmbedText HTTP client for real
// embeddings, batching up to FK_EMBEDDING_BATCH_MAX texts per request and
// running up to FK_EMBEDDING_CONCURRENCY batches at once.
type clientEmbedder struct {
	cfg       config.EmbeddingConfig
	retryCfg  config.RetryConfig
	dim       int
	batchSize int // max texts per API call
	sem       *semaphore.Weighted
	mu        sync.Mutex    // serializes lastCall bookkeeping
	lastCall  time.Time     // last API call timestamp
	minDelay  time.Duration // minimum delay between API calls
}

// NewClient constructs an embedder that calls the configured embedding
// endpoint, honoring cfg.BatchMax/cfg.Concurrency and retrying each batch
// per retryCfg.
func NewClient(cfg config.EmbeddingConfig, retryCfg config.RetryConfig, dim int) Embedder {
	batchSize := cfg.BatchMax
	if batchSize <= 0 {
		batchSize = 32
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &clientEmbedder{
		cfg:       cfg,
		retryCfg:  retryCfg,
		dim:       dim,
		batchSize: batchSize,
		sem:       semaphore.NewWeighted(int64(concurrency)),
	}
}

func (c *clientEmbedder) Name() string   { return c.cfg.Model }
func (c *clientEmbedder) Dimension() int { return c.dim }

func (c *clientEmbedder) Ping(ctx context.Context) error {
	return embedding.CheckReachability(ctx, c.cfg)
}

func (c *clientEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) <= c.batchSize {
		return c.rateLimitedCall(ctx, texts)
	}

	numBatches := (len(texts) + c.batchSize - 1) / c.batchSize
	results := make([][][]float32, numBatches)
	errs := make([]error, numBatches)

	var wg sync.WaitGroup
	for bi := 0; bi < numBatches; bi++ {
		start := bi * c.batchSize
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			errs[bi] = err
			continue
		}
		wg.Add(1)
		go func(bi, start, end int) {
			defer wg.Done()
			defer c.sem.Release(1)
			results[bi], errs[bi] = c.rateLimitedCall(ctx, texts[start:end])
		}(bi, start, end)
	}
	wg.Wait()

	var allEmbeddings [][]float32
	for bi := 0; bi < numBatches; bi++ {
		if errs[bi] != nil {
			return nil, errs[bi]
		}
		allEmbeddings = append(allEmbeddings, results[bi]...)
	}
	return allEmbeddings, nil
}

// rateLimitedCall spaces API calls at least minDelay apart (minDelay is zero
// in clients built by NewClient, so no delay is applied), retries per
// the shared backoff policy, and checks the returned vector width against
// the configured dimension before returning.
func (c *clientEmbedder) rateLimitedCall(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	if !c.lastCall.IsZero() {
		elapsed := time.Since(c.lastCall)
		if elapsed < c.minDelay {
			time.Sleep(c.minDelay - elapsed)
		}
	}
	c.lastCall = time.Now()
	c.mu.Unlock()

	var out [][]float32
	err := retry.Do(ctx, c.retryCfg, func() error {
		vecs, err := embedding.EmbedText(ctx, c.cfg, texts)
		if err != nil {
			return err
		}
		for _, v := range vecs {
			if c.dim > 0 && len(v) != c.dim {
				return fmt.Errorf("%w: got %d, want %d", ErrEmbeddingDimMismatch, len(v), c.dim)
			}
		}
		out = vecs
		return nil
	})
	return out, err
}

// deterministicEmbedder is a lightweight, deterministic embedder suitable for tests.
// It hashes byte 3-grams into a fixed-size vector and optionally L2-normalizes.
type deterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint64
	name      string
}

// NewDeterministic constructs a deterministic embedder with the given dimension.
// If normalize is true, vectors are L2-normalized. Seed perturbs hashing.
func NewDeterministic(dim int, normalize bool, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, normalize: normalize, seed: seed, name: "deterministic"}
}

func (d *deterministicEmbedder) Name() string   { return d.name }
func (d *deterministicEmbedder) Dimension() int { return d.dim }

func (d *deterministicEmbedder) Ping(_ context.Context) error { return nil }

func (d *deterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *deterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	if len(s) == 0 {
		return v
	}
	// 3-gram hashing over bytes
	b := []byte(s)
	if len(b) < 3 {
		add(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			add(d.seed, b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v
}

func add(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	// map hash to a signed weight in [-1, 1]
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
