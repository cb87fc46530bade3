package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triw-go-srv/internal/catalog"
	"triw-go-srv/internal/models"
)

func proposals(n int) []models.Proposal {
	out := make([]models.Proposal, n)
	for i := range out {
		out[i] = models.Proposal{Title: fmt.Sprintf("t%02d", i), Artist: "a"}
	}
	return out
}

func noSleep(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
}

func TestChunkerSplitsAndPreservesOrder(t *testing.T) {
	var sizes []int
	var delays []time.Duration

	c := NewChunker(func(_ context.Context, chunk []models.Proposal) ([]models.ResolvedTrack, []models.Proposal, error) {
		sizes = append(sizes, len(chunk))
		out := make([]models.ResolvedTrack, len(chunk))
		for i, p := range chunk {
			out[i] = models.ResolvedTrack{Proposal: p, Match: &models.CatalogMatch{ID: p.Title}}
		}
		return out, nil, nil
	})
	c.sleep = noSleep(&delays)

	var progress []int
	c.OnChunk = func(done, total int) { progress = append(progress, done) }

	resolved, notFound, err := c.ResolveAll(context.Background(), proposals(25))

	require.NoError(t, err)
	assert.Equal(t, []int{20, 5}, sizes)
	assert.Empty(t, notFound)
	require.Len(t, resolved, 25)
	assert.Equal(t, "t00", resolved[0].Match.ID)
	assert.Equal(t, "t24", resolved[24].Match.ID)
	assert.Equal(t, []int{20, 25}, progress)
	// one pause between the two chunks, none after the last
	assert.Equal(t, []time.Duration{DefaultInterChunkDelay}, delays)
}

func TestChunkerRetriesRateLimit(t *testing.T) {
	calls := 0
	c := NewChunker(func(_ context.Context, chunk []models.Proposal) ([]models.ResolvedTrack, []models.Proposal, error) {
		calls++
		if calls <= 2 {
			return nil, nil, &catalog.StatusError{Status: http.StatusTooManyRequests, Err: errors.New("slow down")}
		}
		return nil, chunk, nil
	})
	c.MaxRetriesPerChunk = 2
	c.sleep = noSleep(nil)

	_, notFound, err := c.ResolveAll(context.Background(), proposals(3))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Len(t, notFound, 3)
}

func TestChunkerRetryBudgetExhausted(t *testing.T) {
	calls := 0
	c := NewChunker(func(context.Context, []models.Proposal) ([]models.ResolvedTrack, []models.Proposal, error) {
		calls++
		return nil, nil, &catalog.StatusError{Status: http.StatusTooManyRequests, Err: errors.New("slow down")}
	})
	c.MaxRetriesPerChunk = 2
	c.sleep = noSleep(nil)

	_, _, err := c.ResolveAll(context.Background(), proposals(1))

	require.Error(t, err)
	assert.True(t, catalog.IsRateLimited(err))
	// maxRetries+1 attempts in total
	assert.Equal(t, 3, calls)
}

func TestChunkerNonRateLimitErrorFailsFast(t *testing.T) {
	calls := 0
	c := NewChunker(func(context.Context, []models.Proposal) ([]models.ResolvedTrack, []models.Proposal, error) {
		calls++
		return nil, nil, &catalog.StatusError{Status: http.StatusUnauthorized, Err: errors.New("bad credentials")}
	})
	c.sleep = noSleep(nil)

	_, _, err := c.ResolveAll(context.Background(), proposals(1))

	require.Error(t, err)
	assert.ErrorIs(t, err, catalog.ErrCatalog)
	assert.Equal(t, 1, calls)
}

func TestChunkerUsesRetryAfterHint(t *testing.T) {
	var delays []time.Duration
	calls := 0
	c := NewChunker(func(ctx context.Context, chunk []models.Proposal) ([]models.ResolvedTrack, []models.Proposal, error) {
		calls++
		if calls == 1 {
			return nil, nil, &catalog.StatusError{
				Status:     http.StatusTooManyRequests,
				RetryAfter: 5 * time.Second,
				Err:        errors.New("slow down"),
			}
		}
		return nil, chunk, nil
	})
	c.sleep = noSleep(&delays)

	_, _, err := c.ResolveAll(context.Background(), proposals(1))

	require.NoError(t, err)
	require.Len(t, delays, 1)
	assert.Equal(t, 5*time.Second, delays[0])
}
