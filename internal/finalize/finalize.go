// Package finalize assembles accepted tracks into the output timeline:
// dedup, role interleave, artist-repetition control, then count- or
// duration-bounded selection.
package finalize

import (
	"fmt"
	"regexp"
	"strings"

	"triw-go-srv/internal/models"
)

type Mode string

const (
	ModeCount    Mode = "count"
	ModeDuration Mode = "duration"
)

type ArtistPolicy string

const (
	PolicyAuto   ArtistPolicy = "auto"
	PolicyStrict ArtistPolicy = "strict"
	PolicyNone   ArtistPolicy = "none"
)

const (
	defaultTrackMS = 225_000 // 3:45 when the catalog gave us nothing
	minTrackMS     = 30_000
	maxTrackMS     = 9 * 60_000
	// acceptable deviation around the duration target
	durationTolerance = 0.06
)

type Options struct {
	Mode              Mode
	MaxTracks         int // count mode
	TargetDurationMin int // duration mode
	MaxTracksHardCap  int // duration-mode safety ceiling

	MaxPerArtist    int
	PreferRoleOrder []models.Weight
	InterleaveRoles bool
	LightShuffle    bool
	ShortReason     bool
	ArtistPolicy    ArtistPolicy

	// program metadata feeding the auto single-artist detection
	ProgramTitle    string
	ProgramOverview string
}

// DefaultOptions returns the operational defaults; callers override what
// they need and pass the result to Finalize.
func DefaultOptions() Options {
	return Options{
		Mode:              ModeCount,
		MaxTracks:         10,
		TargetDurationMin: 30,
		MaxTracksHardCap:  30,
		MaxPerArtist:      2,
		PreferRoleOrder:   []models.Weight{models.WeightAnchor, models.WeightDeep, models.WeightWildcard, models.WeightUnknown},
		InterleaveRoles:   true,
		ShortReason:       true,
		ArtistPolicy:      PolicyAuto,
	}
}

// Finalize produces the ordered, deduplicated, artist-balanced timeline.
func Finalize(picked []models.EvaluatedTrack, opts Options) models.FinalizeResult {
	if len(opts.PreferRoleOrder) == 0 {
		opts.PreferRoleOrder = DefaultOptions().PreferRoleOrder
	}

	// 1) dedup, first occurrence wins; a shared URI and a shared
	// normalized artist+title both count as the same track
	seenURI := make(map[string]bool)
	seenKey := make(map[string]bool)
	dedup := make([]models.EvaluatedTrack, 0, len(picked))
	for _, e := range picked {
		k := uniqKey(e)
		if seenKey[k] || (e.URI != "" && seenURI[e.URI]) {
			continue
		}
		seenKey[k] = true
		if e.URI != "" {
			seenURI[e.URI] = true
		}
		dedup = append(dedup, e)
	}

	// 2) role-interleaved base ordering
	base := orderTracks(dedup, opts)

	// 3) auto policy: is this a single-artist feature?
	var inferred ArtistContext
	if opts.ArtistPolicy == PolicyAuto {
		inferred = DetectSingleArtist(opts.ProgramTitle, opts.ProgramOverview, base)
	}

	effective := "strict"
	focusArtist, focusReason := "", ""
	switch {
	case opts.ArtistPolicy == PolicyNone:
		effective = "none"
	case opts.ArtistPolicy == PolicyAuto && inferred.Mode == ContextSingleArtist:
		effective = "none"
		focusArtist = inferred.FocusArtist
		focusReason = inferred.Reason
	}

	// 4) enforce the per-artist cap in interleaved order
	perArtist := opts.MaxPerArtist
	if perArtist < 1 {
		perArtist = 1
	}
	counts := make(map[string]int)
	noOver := make([]models.EvaluatedTrack, 0, len(base))
	for _, e := range base {
		if effective == "none" {
			noOver = append(noOver, e)
			continue
		}
		k := artistKey(e)
		if counts[k]+1 > perArtist {
			continue
		}
		counts[k]++
		noOver = append(noOver, e)
	}

	// 5) cut to the requested shape
	durations := resolveDurations(noOver)
	selected, selDur := selectTracks(noOver, durations, opts)

	// 6) timeline
	clock := 0
	tracks := make([]models.FinalizedTrack, 0, len(selected))
	for i, e := range selected {
		d := selDur[i]
		reason := e.Reason
		if opts.ShortReason {
			reason = compactReason(reason)
		}
		ft := models.FinalizedTrack{
			Title:      e.Title,
			Artist:     e.Artist,
			URI:        e.URI,
			Index:      i + 1,
			StartAtMS:  clock,
			DurationMS: d,
			Role:       pickRole(e),
			Reason:     reason,
			Confidence: e.Confidence,
		}
		if e.Match != nil {
			ft.CoverURL = e.Match.AlbumImageURL
		}
		tracks = append(tracks, ft)
		clock += d
	}

	// 7) stats
	perRole := map[string]int{"anchor": 0, "deep": 0, "wildcard": 0, "unknown": 0}
	artists := make(map[string]bool)
	total := 0
	for _, t := range tracks {
		perRole[string(t.Role)]++
		artists[t.Artist] = true
		total += t.DurationMS
	}
	return models.FinalizeResult{
		ProgramDurationMS: total,
		Tracks:            tracks,
		Stats: models.FinalizeStats{
			TotalCandidates:       len(picked),
			AcceptedCount:         len(tracks),
			UniqueArtists:         len(artists),
			PerRole:               perRole,
			ArtistPolicyEffective: effective,
			FocusArtistAuto:       focusArtist,
			FocusReason:           focusReason,
		},
	}
}

// orderTracks groups by role and interleaves round-robin across the
// preferred order so roles alternate instead of clumping.
func orderTracks(items []models.EvaluatedTrack, opts Options) []models.EvaluatedTrack {
	if !opts.InterleaveRoles {
		grouped := groupByRole(items)
		out := make([]models.EvaluatedTrack, 0, len(items))
		for _, role := range opts.PreferRoleOrder {
			out = append(out, grouped[role]...)
		}
		return lightShuffle(out, opts.LightShuffle)
	}

	grouped := groupByRole(items)
	queues := make([][]models.EvaluatedTrack, len(opts.PreferRoleOrder))
	for i, role := range opts.PreferRoleOrder {
		queues[i] = grouped[role]
	}
	out := make([]models.EvaluatedTrack, 0, len(items))
	for any := true; any; {
		any = false
		for i := range queues {
			if len(queues[i]) == 0 {
				continue
			}
			out = append(out, queues[i][0])
			queues[i] = queues[i][1:]
			any = true
		}
	}
	return lightShuffle(out, opts.LightShuffle)
}

func groupByRole(items []models.EvaluatedTrack) map[models.Weight][]models.EvaluatedTrack {
	g := make(map[models.Weight][]models.EvaluatedTrack)
	for _, it := range items {
		g[pickRole(it)] = append(g[pickRole(it)], it)
	}
	return g
}

// lightShuffle swaps adjacent pairs for variety without a real reorder.
func lightShuffle(items []models.EvaluatedTrack, on bool) []models.EvaluatedTrack {
	if !on {
		return items
	}
	out := make([]models.EvaluatedTrack, len(items))
	copy(out, items)
	for i := 1; i < len(out); i += 2 {
		out[i], out[i-1] = out[i-1], out[i]
	}
	return out
}

// resolveDurations picks each track's playable duration, falling back to
// 3:45 and clamping to a sane [0:30, 9:00] window.
func resolveDurations(items []models.EvaluatedTrack) []int {
	out := make([]int, len(items))
	for i, it := range items {
		ms := 0
		if it.Match != nil {
			ms = it.Match.DurationMS
		}
		if ms <= 0 {
			ms = defaultTrackMS
		}
		out[i] = min(max(ms, minTrackMS), maxTrackMS)
	}
	return out
}

func selectTracks(items []models.EvaluatedTrack, durations []int, opts Options) ([]models.EvaluatedTrack, []int) {
	if opts.Mode == ModeDuration {
		hardCap := opts.MaxTracksHardCap
		if hardCap < 1 {
			hardCap = DefaultOptions().MaxTracksHardCap
		}
		targetMin := opts.TargetDurationMin
		if targetMin < 1 {
			targetMin = DefaultOptions().TargetDurationMin
		}
		targetMS := float64(targetMin) * 60_000
		lower := targetMS * (1 - durationTolerance)
		upper := targetMS * (1 + durationTolerance)

		var selected []models.EvaluatedTrack
		var selDur []int
		total := 0.0
		// greedy first-fit; a smarter subset-sum packer is a possible
		// future refinement for small pools that miss the lower bound
		for i := 0; i < len(items) && len(selected) < hardCap; i++ {
			d := durations[i]
			if total > 0 && total+float64(d) > upper {
				continue
			}
			selected = append(selected, items[i])
			selDur = append(selDur, d)
			total += float64(d)
			if total >= lower && total <= upper {
				break
			}
		}
		if len(selected) == 0 && len(items) > 0 {
			// never return an empty program when anything survived
			selected = append(selected, items[0])
			selDur = append(selDur, durations[0])
		}
		return selected, selDur
	}

	k := opts.MaxTracks
	if k < 1 {
		k = DefaultOptions().MaxTracks
	}
	k = min(k, len(items))
	return items[:k], durations[:k]
}

func pickRole(e models.EvaluatedTrack) models.Weight {
	switch e.Weight {
	case models.WeightAnchor, models.WeightDeep, models.WeightWildcard:
		return e.Weight
	}
	return models.WeightUnknown
}

func norm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func uniqKey(e models.EvaluatedTrack) string   { return artistKey(e) + "__" + norm(e.Title) }
func artistKey(e models.EvaluatedTrack) string { return norm(e.Artist) }

var reasonReplacer = strings.NewReplacer(
	"verified in catalog", "exists",
	"title/artist match (exact)", "text=exact",
	"title/artist match (fuzzy)", "text=fuzzy",
	"era match", "era=ok",
	"matches year estimate (±1y)", "year=ok",
	"year gate off", "year=off",
)

func compactReason(reason string) string {
	return reasonReplacer.Replace(reason)
}

// ===== single-artist feature detection =====

type ContextMode string

const (
	ContextSingleArtist ContextMode = "single-artist"
	ContextMultiArtist  ContextMode = "multi-artist"
	ContextUnknown      ContextMode = "unknown"
)

// ArtistContext is the typed outcome of the feature-program heuristic,
// carrying the signal that fired so callers can surface it.
type ArtistContext struct {
	Mode        ContextMode
	FocusArtist string
	Reason      string
}

var featureTitleRes = []*regexp.Regexp{
	regexp.MustCompile(`^an introduction to (.+)$`),
	regexp.MustCompile(`^the very best of (.+)$`),
	regexp.MustCompile(`^best of (.+)$`),
	regexp.MustCompile(`^(.+?) essentials$`),
	regexp.MustCompile(`^はじめての(.+)$`),
	regexp.MustCompile(`(?:入門|特集|ベスト|名曲集)\s*[:：]\s*(.+)$`),
}

// dominance share above which one artist makes the program a feature
const dominantShare = 0.6

// DetectSingleArtist decides whether the program is a single-artist
// feature using two independent signals: a title/overview pattern, or one
// artist dominating the accepted pool. Either alone is enough.
func DetectSingleArtist(title, overview string, picked []models.EvaluatedTrack) ArtistContext {
	for _, re := range featureTitleRes {
		for _, s := range []string{norm(title), norm(overview)} {
			m := re.FindStringSubmatch(s)
			if m == nil {
				continue
			}
			name := strings.TrimSpace(m[1])
			if n := len([]rune(name)); n >= 2 && n <= 64 {
				return ArtistContext{
					Mode:        ContextSingleArtist,
					FocusArtist: name,
					Reason:      fmt.Sprintf("title/overview pattern: %q", m[0]),
				}
			}
		}
	}

	if name, share := dominantArtist(picked); share >= dominantShare && name != "" {
		return ArtistContext{
			Mode:        ContextSingleArtist,
			FocusArtist: name,
			Reason:      fmt.Sprintf("one artist holds %.0f%% of the accepted pool", share*100),
		}
	}
	return ArtistContext{Mode: ContextUnknown}
}

func dominantArtist(picked []models.EvaluatedTrack) (string, float64) {
	if len(picked) == 0 {
		return "", 0
	}
	counts := make(map[string]int)
	for _, e := range picked {
		counts[artistKey(e)]++
	}
	best, bestName := 0, ""
	for name, n := range counts {
		if n > best {
			best, bestName = n, name
		}
	}
	return bestName, float64(best) / float64(len(picked))
}
