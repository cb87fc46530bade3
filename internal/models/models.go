package models

import "strings"

// Arc is a track's intended narrative position in the program.
type Arc string

const (
	ArcIntro    Arc = "intro"
	ArcBuild    Arc = "build"
	ArcPeak     Arc = "peak"
	ArcCooldown Arc = "cooldown"
	ArcOther    Arc = "other"
)

// Weight is the authorial familiarity tier of a proposal.
type Weight string

const (
	WeightAnchor   Weight = "anchor"
	WeightDeep     Weight = "deep"
	WeightWildcard Weight = "wildcard"
	WeightUnknown  Weight = "unknown"
)

// Proposal is a candidate track suggestion from the generative step.
// Immutable once resolved. Year fields use 0 for "unknown".
type Proposal struct {
	Title          string `json:"title"`
	Artist         string `json:"artist"`
	Album          string `json:"album,omitempty"`
	Arc            Arc    `json:"arc"`
	Reason         string `json:"reason,omitempty"`
	WhyPersonaFit  string `json:"why_persona_fit,omitempty"`
	WhyThemeFit    string `json:"why_theme_fit,omitempty"`
	YearGuess      int    `json:"year_guess,omitempty"`
	Weight         Weight `json:"intended_weight,omitempty"`
	PopularityHint string `json:"popularity_hint,omitempty"`
}

// CatalogMatch is the verified catalog record bound to a Proposal.
// Owned by the pipeline run, never mutated after creation.
type CatalogMatch struct {
	ID                  string   `json:"id"`
	URI                 string   `json:"uri"`
	Name                string   `json:"name"`
	Artists             []string `json:"artists"`
	ISRC                string   `json:"isrc,omitempty"`
	ReleaseYear         int      `json:"release_year,omitempty"`
	OriginalReleaseYear int      `json:"original_release_year,omitempty"`
	IsReissue           bool     `json:"is_reissue,omitempty"`
	Popularity          int      `json:"popularity,omitempty"`
	DurationMS          int      `json:"duration_ms,omitempty"`
	PreviewURL          string   `json:"preview_url,omitempty"`
	AlbumImageURL       string   `json:"album_image_url,omitempty"`
	Tempo               float64  `json:"tempo,omitempty"`
	Energy              float64  `json:"energy,omitempty"`
}

// EffectiveYear prefers the derived original release year over the year of
// the specific matched pressing. 0 when neither is known.
func (m *CatalogMatch) EffectiveYear() int {
	if m == nil {
		return 0
	}
	if m.OriginalReleaseYear != 0 {
		return m.OriginalReleaseYear
	}
	return m.ReleaseYear
}

// ResolvedTrack is a Proposal joined with its catalog resolution outcome.
// Match is nil when the catalog had nothing usable.
type ResolvedTrack struct {
	Proposal
	Match *CatalogMatch `json:"spotify,omitempty"`
}

// MatchKind classifies how a Proposal was paired with a resolved record.
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchFuzzy MatchKind = "fuzzy"
	MatchNone  MatchKind = "none"
)

// EraConstraint is a hard year-range filter supplied once per run.
type EraConstraint struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (e *EraConstraint) Contains(year int) bool {
	return e != nil && year >= e.Start && year <= e.End
}

// EvalDebug is the per-track score breakdown. UI may ignore it.
type EvalDebug struct {
	MatchKind        MatchKind `json:"match_kind"`
	ResolvedTitle    string    `json:"resolved_title,omitempty"`
	ResolvedArtist   string    `json:"resolved_artist,omitempty"`
	Popularity       int       `json:"popularity,omitempty"`
	YearGate         bool      `json:"year_gate"`
	YearGuess        int       `json:"year_guess,omitempty"`
	ReleaseYear      int       `json:"release_year,omitempty"`
	EraStart         int       `json:"era_start,omitempty"`
	EraEnd           int       `json:"era_end,omitempty"`
	EraGateApplied   bool      `json:"era_gate_applied"`
	Exists           bool      `json:"exists"`
	ExistScore       float64   `json:"exist_score"`
	MatchScore       float64   `json:"match_score"`
	YearScore        float64   `json:"year_score"`
	TotalBeforeRound float64   `json:"total_before_round"`
	HardGate         bool      `json:"hard_gate"`
}

// EvaluatedTrack is one evaluation pass over a Proposal. A Proposal may be
// re-evaluated across refill rounds; each pass produces a fresh value.
type EvaluatedTrack struct {
	Title      string        `json:"title"`
	Artist     string        `json:"artist"`
	URI        string        `json:"uri,omitempty"`
	Confidence float64       `json:"confidence"`
	Reason     string        `json:"reason"`
	Accepted   bool          `json:"accepted"`
	Arc        Arc           `json:"arc,omitempty"`
	Weight     Weight        `json:"intended_weight,omitempty"`
	Match      *CatalogMatch `json:"spotify,omitempty"`
	Debug      *EvalDebug    `json:"debug,omitempty"`
}

// FinalizedTrack is an EvaluatedTrack placed on the output timeline.
type FinalizedTrack struct {
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	URI        string  `json:"uri,omitempty"`
	Index      int     `json:"index"`
	StartAtMS  int     `json:"start_at_ms"`
	DurationMS int     `json:"duration_ms"`
	Role       Weight  `json:"role"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	CoverURL   string  `json:"cover,omitempty"`
}

// FinalizeStats summarizes one finalization output.
type FinalizeStats struct {
	TotalCandidates       int            `json:"total_candidates"`
	AcceptedCount         int            `json:"accepted_count"`
	UniqueArtists         int            `json:"unique_artists"`
	PerRole               map[string]int `json:"per_role"`
	ArtistPolicyEffective string         `json:"artist_policy_effective"`
	FocusArtistAuto       string         `json:"focus_artist_auto,omitempty"`
	FocusReason           string         `json:"focus_reason,omitempty"`
}

// FinalizeResult is the system's final output.
type FinalizeResult struct {
	ProgramDurationMS int              `json:"program_duration_ms"`
	Tracks            []FinalizedTrack `json:"tracks"`
	Stats             FinalizeStats    `json:"stats"`
}

// CritiqueAction is what the self-audit wants done with one entry.
type CritiqueAction string

const (
	ActionKeep    CritiqueAction = "keep"
	ActionDrop    CritiqueAction = "drop"
	ActionReplace CritiqueAction = "replace"
)

// CritiqueIssue flags one accepted track. Key is preferred; Index may be
// 0- or 1-based depending on the critique source, so callers treat it
// tolerantly. Index is a pointer because 0 is a valid position.
type CritiqueIssue struct {
	Index           *int           `json:"index,omitempty"`
	Key             string         `json:"key,omitempty"`
	Action          CritiqueAction `json:"action"`
	Reason          string         `json:"reason,omitempty"`
	ReplacementHint string         `json:"replacement_hint,omitempty"`
}

// Critique is the self-audit response as seen by the refill loop.
type Critique struct {
	Issues []CritiqueIssue `json:"issues"`
}

// NormKey builds the normalization-robust identity used for dedup and
// critique matching: lowercased, whitespace-collapsed title+artist.
func NormKey(title, artist string) string {
	return normField(title) + "\x1f" + normField(artist)
}

func normField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
