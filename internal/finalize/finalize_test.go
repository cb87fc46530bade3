package finalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triw-go-srv/internal/finalize"
	"triw-go-srv/internal/models"
)

func track(title, artist string, w models.Weight, durMS int) models.EvaluatedTrack {
	return models.EvaluatedTrack{
		Title:      title,
		Artist:     artist,
		URI:        "spotify:track:" + title,
		Confidence: 0.9,
		Accepted:   true,
		Reason:     "verified in catalog / title/artist match (exact) / era match",
		Weight:     w,
		Match:      &models.CatalogMatch{ID: "id-" + title, DurationMS: durMS},
	}
}

func titles(tracks []models.FinalizedTrack) []string {
	out := make([]string, len(tracks))
	for i, t := range tracks {
		out[i] = t.Title
	}
	return out
}

func TestFinalizeInterleavesRoles(t *testing.T) {
	picked := []models.EvaluatedTrack{
		track("A1", "a1", models.WeightAnchor, 200_000),
		track("A2", "a2", models.WeightAnchor, 200_000),
		track("A3", "a3", models.WeightAnchor, 200_000),
		track("D1", "d1", models.WeightDeep, 200_000),
		track("D2", "d2", models.WeightDeep, 200_000),
		track("W1", "w1", models.WeightWildcard, 200_000),
	}

	opts := finalize.DefaultOptions()
	opts.MaxTracks = 5

	res := finalize.Finalize(picked, opts)

	require.Len(t, res.Tracks, 5)
	assert.Equal(t, []string{"A1", "D1", "W1", "A2", "D2"}, titles(res.Tracks))
	assert.Equal(t, 2, res.Stats.PerRole["anchor"])
	assert.Equal(t, 2, res.Stats.PerRole["deep"])
	assert.Equal(t, 1, res.Stats.PerRole["wildcard"])
	assert.Equal(t, 5, res.Stats.UniqueArtists)
}

func TestFinalizeDedupsByTitleArtist(t *testing.T) {
	picked := []models.EvaluatedTrack{
		track("Plastic Love", "Mariya Takeuchi", models.WeightAnchor, 200_000),
		track("Plastic  Love", "MARIYA TAKEUCHI", models.WeightDeep, 210_000),
	}

	res := finalize.Finalize(picked, finalize.DefaultOptions())

	require.Len(t, res.Tracks, 1)
	assert.Equal(t, models.WeightAnchor, res.Tracks[0].Role)
}

func TestFinalizeDedupsBySharedURI(t *testing.T) {
	a := track("Plastic Love", "Mariya Takeuchi", models.WeightAnchor, 200_000)
	b := track("Plastic Love - Single Version", "Mariya Takeuchi", models.WeightDeep, 200_000)
	b.URI = a.URI

	res := finalize.Finalize([]models.EvaluatedTrack{a, b}, finalize.DefaultOptions())

	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "Plastic Love", res.Tracks[0].Title)
}

func TestFinalizeCapsTracksPerArtist(t *testing.T) {
	t.Run("strict policy", func(t *testing.T) {
		picked := []models.EvaluatedTrack{
			track("One", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
			track("Two", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
			track("Three", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
			track("Other", "Taeko Onuki", models.WeightDeep, 200_000),
		}

		opts := finalize.DefaultOptions()
		opts.ArtistPolicy = finalize.PolicyStrict

		res := finalize.Finalize(picked, opts)

		require.Len(t, res.Tracks, 3)
		byArtist := map[string]int{}
		for _, tr := range res.Tracks {
			byArtist[tr.Artist]++
		}
		assert.Equal(t, 2, byArtist["Tatsuro Yamashita"])
		assert.Equal(t, "strict", res.Stats.ArtistPolicyEffective)
	})

	t.Run("auto below dominance threshold", func(t *testing.T) {
		picked := []models.EvaluatedTrack{
			track("One", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
			track("Two", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
			track("Three", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
			track("Other", "Taeko Onuki", models.WeightDeep, 200_000),
			track("More", "Anri", models.WeightDeep, 200_000),
			track("Yet More", "Miki Matsubara", models.WeightDeep, 200_000),
		}

		res := finalize.Finalize(picked, finalize.DefaultOptions())

		require.Len(t, res.Tracks, 5)
		byArtist := map[string]int{}
		for _, tr := range res.Tracks {
			byArtist[tr.Artist]++
		}
		assert.Equal(t, 2, byArtist["Tatsuro Yamashita"])
		assert.Equal(t, "strict", res.Stats.ArtistPolicyEffective)
	})

	t.Run("auto lifts cap on dominant pool", func(t *testing.T) {
		picked := []models.EvaluatedTrack{
			track("One", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
			track("Two", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
			track("Three", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
			track("Other", "Taeko Onuki", models.WeightDeep, 200_000),
		}

		res := finalize.Finalize(picked, finalize.DefaultOptions())

		require.Len(t, res.Tracks, 4)
		assert.Equal(t, "none", res.Stats.ArtistPolicyEffective)
		assert.Equal(t, "tatsuro yamashita", res.Stats.FocusArtistAuto)
	})
}

func TestFinalizeSingleArtistTitleLiftsCap(t *testing.T) {
	picked := []models.EvaluatedTrack{
		track("One", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
		track("Two", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
		track("Three", "Tatsuro Yamashita", models.WeightAnchor, 200_000),
	}

	opts := finalize.DefaultOptions()
	opts.ProgramTitle = "Best of Tatsuro Yamashita"

	res := finalize.Finalize(picked, opts)

	require.Len(t, res.Tracks, 3)
	assert.Equal(t, "none", res.Stats.ArtistPolicyEffective)
	assert.Equal(t, "tatsuro yamashita", res.Stats.FocusArtistAuto)
	assert.NotEmpty(t, res.Stats.FocusReason)
}

func TestFinalizeDurationMode(t *testing.T) {
	picked := []models.EvaluatedTrack{
		track("Long", "a", models.WeightAnchor, 500_000),
		track("TooBig", "b", models.WeightAnchor, 400_000),
		track("Fits", "c", models.WeightAnchor, 250_000),
		track("Spare", "d", models.WeightAnchor, 250_000),
	}

	opts := finalize.DefaultOptions()
	opts.Mode = finalize.ModeDuration
	opts.TargetDurationMin = 12
	opts.LightShuffle = false

	res := finalize.Finalize(picked, opts)

	assert.Equal(t, []string{"Long", "Fits"}, titles(res.Tracks))
	assert.Equal(t, 750_000, res.ProgramDurationMS)
	target := 12 * 60_000.0
	assert.InDelta(t, target, float64(res.ProgramDurationMS), target*0.06)
}

func TestFinalizeDurationModeNeverEmpty(t *testing.T) {
	picked := []models.EvaluatedTrack{
		track("Only", "a", models.WeightAnchor, 45_000),
	}

	opts := finalize.DefaultOptions()
	opts.Mode = finalize.ModeDuration
	opts.TargetDurationMin = 60

	res := finalize.Finalize(picked, opts)
	require.Len(t, res.Tracks, 1)
}

func TestFinalizeTimelineAndReasons(t *testing.T) {
	picked := []models.EvaluatedTrack{
		track("A", "a", models.WeightAnchor, 180_000),
		track("B", "b", models.WeightAnchor, 240_000),
	}
	// no catalog duration: falls back to 3:45
	picked[1].Match.DurationMS = 0

	res := finalize.Finalize(picked, finalize.DefaultOptions())

	require.Len(t, res.Tracks, 2)
	assert.Equal(t, 1, res.Tracks[0].Index)
	assert.Equal(t, 0, res.Tracks[0].StartAtMS)
	assert.Equal(t, 180_000, res.Tracks[1].StartAtMS)
	assert.Equal(t, 225_000, res.Tracks[1].DurationMS)
	assert.Equal(t, "exists / text=exact / era=ok", res.Tracks[0].Reason)
}

func TestDetectSingleArtist(t *testing.T) {
	t.Run("title pattern", func(t *testing.T) {
		got := finalize.DetectSingleArtist("An Introduction to Taeko Onuki", "", nil)
		assert.Equal(t, finalize.ContextSingleArtist, got.Mode)
		assert.Equal(t, "taeko onuki", got.FocusArtist)
	})

	t.Run("dominant artist", func(t *testing.T) {
		picked := []models.EvaluatedTrack{
			track("1", "Anri", models.WeightAnchor, 0),
			track("2", "Anri", models.WeightAnchor, 0),
			track("3", "Anri", models.WeightAnchor, 0),
			track("4", "Meiko Nakahara", models.WeightDeep, 0),
		}
		got := finalize.DetectSingleArtist("City Pop Nights", "", picked)
		assert.Equal(t, finalize.ContextSingleArtist, got.Mode)
		assert.Equal(t, "anri", got.FocusArtist)
	})

	t.Run("mixed pool stays unknown", func(t *testing.T) {
		picked := []models.EvaluatedTrack{
			track("1", "Anri", models.WeightAnchor, 0),
			track("2", "Miki Matsubara", models.WeightAnchor, 0),
			track("3", "Momoko Kikuchi", models.WeightAnchor, 0),
		}
		got := finalize.DetectSingleArtist("City Pop Nights", "", picked)
		assert.Equal(t, finalize.ContextUnknown, got.Mode)
	})
}
