package resolver

import (
	"context"
	"time"

	"triw-go-srv/internal/catalog"
	"triw-go-srv/internal/models"
)

const (
	DefaultChunkSize          = 20
	DefaultInterChunkDelay    = 900 * time.Millisecond
	DefaultMaxRetriesPerChunk = 3
)

// ResolveFunc resolves one chunk of proposals.
type ResolveFunc func(ctx context.Context, proposals []models.Proposal) (resolved []models.ResolvedTrack, notFound []models.Proposal, err error)

// Chunker resolves arbitrarily large proposal lists without tripping
// provider rate limits: chunks run strictly in sequence, with a pause
// between successful chunks and bounded rate-limit retries per chunk.
// Concurrency lives inside the ResolveFunc, never across chunks.
type Chunker struct {
	Resolve            ResolveFunc
	ChunkSize          int
	InterChunkDelay    time.Duration
	MaxRetriesPerChunk int

	// OnChunk, when set, is called after each successful chunk with the
	// number of proposals processed so far and the total.
	OnChunk func(done, total int)

	sleep func(context.Context, time.Duration) error
}

func NewChunker(fn ResolveFunc) *Chunker {
	return &Chunker{
		Resolve:            fn,
		ChunkSize:          DefaultChunkSize,
		InterChunkDelay:    DefaultInterChunkDelay,
		MaxRetriesPerChunk: DefaultMaxRetriesPerChunk,
		sleep:              sleepCtx,
	}
}

// ResolveAll processes every chunk in order. A chunk that keeps getting
// rate limited is retried MaxRetriesPerChunk times (so MaxRetriesPerChunk+1
// attempts in total) before the failure aborts the whole resolution.
func (c *Chunker) ResolveAll(ctx context.Context, proposals []models.Proposal) (resolved []models.ResolvedTrack, notFound []models.Proposal, err error) {
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	sleep := c.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	policy := RetryPolicy{
		MaxAttempts: c.MaxRetriesPerChunk + 1,
		BaseDelay:   c.InterChunkDelay,
		Retryable:   catalog.IsRateLimited,
		Hint:        catalog.RetryAfterHint,
		sleep:       sleep,
	}

	for start := 0; start < len(proposals); start += size {
		end := min(start+size, len(proposals))
		chunk := proposals[start:end]

		err := policy.Do(ctx, func() error {
			res, nf, err := c.Resolve(ctx, chunk)
			if err != nil {
				return err
			}
			resolved = append(resolved, res...)
			notFound = append(notFound, nf...)
			return nil
		})
		if err != nil {
			return nil, nil, err
		}

		if c.OnChunk != nil {
			c.OnChunk(end, len(proposals))
		}

		if end < len(proposals) {
			if err := sleep(ctx, c.InterChunkDelay); err != nil {
				return nil, nil, err
			}
		}
	}
	return resolved, notFound, nil
}
