package audit_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triw-go-srv/internal/audit"
	"triw-go-srv/internal/evaluate"
	"triw-go-srv/internal/models"
)

func accepted(title, artist string) models.EvaluatedTrack {
	return models.EvaluatedTrack{
		Title:      title,
		Artist:     artist,
		Confidence: 0.9,
		Accepted:   true,
		Match:      &models.CatalogMatch{ID: "id-" + title},
	}
}

func intPtr(n int) *int { return &n }

func TestApplyCritiqueByKey(t *testing.T) {
	picked := []models.EvaluatedTrack{
		accepted("A", "x"),
		accepted("B", "y"),
		accepted("C", "z"),
	}

	t.Run("catalog id", func(t *testing.T) {
		out := audit.ApplyCritique(picked, models.Critique{Issues: []models.CritiqueIssue{
			{Key: "id-B", Action: models.ActionDrop},
		}})
		require.Len(t, out, 2)
		assert.Equal(t, "A", out[0].Title)
		assert.Equal(t, "C", out[1].Title)
	})

	t.Run("normalized key", func(t *testing.T) {
		out := audit.ApplyCritique(picked, models.Critique{Issues: []models.CritiqueIssue{
			{Key: models.NormKey("C", "z"), Action: models.ActionReplace},
		}})
		require.Len(t, out, 2)
		assert.Equal(t, "B", out[1].Title)
	})

	t.Run("keep is a no-op", func(t *testing.T) {
		out := audit.ApplyCritique(picked, models.Critique{Issues: []models.CritiqueIssue{
			{Key: "id-A", Action: models.ActionKeep},
		}})
		assert.Len(t, out, 3)
	})
}

func TestApplyCritiqueBareIndexMarksBothBases(t *testing.T) {
	picked := []models.EvaluatedTrack{
		accepted("A", "x"),
		accepted("B", "y"),
		accepted("C", "z"),
	}

	// index 1 could mean picked[1] (0-based) or picked[0] (1-based)
	out := audit.ApplyCritique(picked, models.Critique{Issues: []models.CritiqueIssue{
		{Index: intPtr(1), Action: models.ActionDrop},
	}})

	require.Len(t, out, 1)
	assert.Equal(t, "C", out[0].Title)
}

func TestApplyCritiqueKeyWinsOverIndex(t *testing.T) {
	picked := []models.EvaluatedTrack{
		accepted("A", "x"),
		accepted("B", "y"),
		accepted("C", "z"),
	}

	out := audit.ApplyCritique(picked, models.Critique{Issues: []models.CritiqueIssue{
		{Key: "id-C", Index: intPtr(0), Action: models.ActionDrop},
	}})

	require.Len(t, out, 2)
	assert.Equal(t, "A", out[0].Title)
	assert.Equal(t, "B", out[1].Title)
}

type stubCritic struct {
	crit models.Critique
	err  error
}

func (s stubCritic) Critique(context.Context, []models.EvaluatedTrack) (models.Critique, error) {
	return s.crit, s.err
}

type stubSource struct {
	calls   int
	exclude [][]string
}

func (s *stubSource) MoreProposals(_ context.Context, n int, exclude []string) ([]models.Proposal, error) {
	s.calls++
	s.exclude = append(s.exclude, exclude)
	out := make([]models.Proposal, n)
	for i := range out {
		out[i] = models.Proposal{Title: fmt.Sprintf("refill-%d-%d", s.calls, i), Artist: "r"}
	}
	return out, nil
}

func resolveAll(_ context.Context, props []models.Proposal) ([]models.ResolvedTrack, []models.Proposal, error) {
	out := make([]models.ResolvedTrack, len(props))
	for i, p := range props {
		out[i] = models.ResolvedTrack{Proposal: p, Match: &models.CatalogMatch{ID: "id-" + p.Title}}
	}
	return out, nil, nil
}

func TestLoopFailsOpenOnCriticError(t *testing.T) {
	picked := []models.EvaluatedTrack{accepted("A", "x"), accepted("B", "y")}

	loop := &audit.Loop{Critic: stubCritic{err: errors.New("model unavailable")}}
	out, rep := loop.Run(context.Background(), picked, 5)

	assert.Equal(t, picked, out)
	assert.Zero(t, rep.Removed)
	assert.Zero(t, rep.RoundsRun)
}

func TestLoopRefillsAfterDrop(t *testing.T) {
	picked := []models.EvaluatedTrack{
		accepted("A", "x"),
		accepted("B", "y"),
		accepted("C", "z"),
	}

	src := &stubSource{}
	loop := &audit.Loop{
		Critic: stubCritic{crit: models.Critique{Issues: []models.CritiqueIssue{
			{Key: "id-B", Action: models.ActionDrop, Reason: "weak fit"},
		}}},
		Source:  src,
		Resolve: resolveAll,
		Eval:    evaluate.Options{},
	}

	out, rep := loop.Run(context.Background(), picked, 3)

	require.Len(t, out, 3)
	assert.Equal(t, 1, rep.Flagged)
	assert.Equal(t, 1, rep.Removed)
	assert.Equal(t, 1, rep.Added)
	assert.Equal(t, 1, rep.RoundsRun)
	assert.Zero(t, rep.Deficit)

	// survivors keep their order, the refill lands at the back
	assert.Equal(t, "A", out[0].Title)
	assert.Equal(t, "C", out[1].Title)
	assert.Contains(t, out[2].Title, "refill-")

	// the dropped track is still excluded from re-proposal
	require.Len(t, src.exclude, 1)
	assert.Contains(t, src.exclude[0], models.NormKey("B", "y"))
}

func TestLoopStopsAtRoundBudget(t *testing.T) {
	picked := []models.EvaluatedTrack{accepted("A", "x")}

	src := &stubSource{}
	loop := &audit.Loop{
		Critic: stubCritic{},
		Source: src,
		// nothing ever resolves, so the deficit never shrinks
		Resolve: func(_ context.Context, props []models.Proposal) ([]models.ResolvedTrack, []models.Proposal, error) {
			return nil, props, nil
		},
		MaxRounds: 2,
	}

	out, rep := loop.Run(context.Background(), picked, 5)

	assert.Len(t, out, 1)
	assert.Equal(t, 2, rep.RoundsRun)
	assert.Equal(t, 2, src.calls)
	assert.Equal(t, 4, rep.Deficit)
}
