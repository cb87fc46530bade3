// Package evaluate partitions resolved proposals into accepted and
// rejected tracks using a small multi-factor confidence model with hard
// constraint gates. Popularity is deliberately not scored; it rides along
// as debug metadata only.
package evaluate

import (
	"fmt"
	"math"
	"strings"

	"triw-go-srv/internal/models"
)

const (
	ExistScore       = 0.40
	MatchScoreExact  = 0.25
	MatchScoreFuzzy  = 0.15
	YearScoreOnMatch = 0.25
	YearTolerance    = 1
	AcceptThreshold  = 0.50
)

// title-prefix bucket length for the fuzzy lookup structure
const bucketLen = 8

// Options controls the year hard gate. YearGate is normally on exactly
// when the upstream interpretation produced an era; Era may still be nil
// with the gate on, in which case the proposal's own year guess gates.
type Options struct {
	YearGate bool
	Era      *models.EraConstraint
}

// Result is the evaluator's two-way partition.
type Result struct {
	Picked   []models.EvaluatedTrack `json:"picked"`
	Rejected []models.EvaluatedTrack `json:"rejected"`
}

type bucketEntry struct {
	nt, na string
	row    *models.ResolvedTrack
}

// resolvedIndex gives O(1) average lookups over a resolved set: an exact
// normalized title+artist map plus title-prefix buckets for fuzzy scans.
type resolvedIndex struct {
	exact   map[string]*models.ResolvedTrack
	buckets map[string][]bucketEntry
}

func buildIndex(resolved []models.ResolvedTrack) *resolvedIndex {
	idx := &resolvedIndex{
		exact:   make(map[string]*models.ResolvedTrack, len(resolved)),
		buckets: make(map[string][]bucketEntry),
	}
	for i := range resolved {
		r := &resolved[i]
		nt, na := norm(r.Title), norm(r.Artist)
		key := nt + "\x01" + na
		if _, ok := idx.exact[key]; !ok {
			idx.exact[key] = r
		}
		b := bucketKey(nt)
		idx.buckets[b] = append(idx.buckets[b], bucketEntry{nt: nt, na: na, row: r})
	}
	return idx
}

func (idx *resolvedIndex) find(p models.Proposal) (*models.ResolvedTrack, models.MatchKind) {
	t, a := norm(p.Title), norm(p.Artist)

	if hit, ok := idx.exact[t+"\x01"+a]; ok {
		return hit, models.MatchExact
	}

	// Fuzzy: only entries sharing the title prefix bucket are scanned.
	for _, e := range idx.buckets[bucketKey(t)] {
		titleOK := e.nt == t || strings.HasPrefix(e.nt, t) || strings.HasPrefix(t, e.nt)
		artistOK := strings.Contains(e.na, a) || strings.Contains(a, e.na)
		if titleOK && artistOK {
			return e.row, models.MatchFuzzy
		}
	}
	return nil, models.MatchNone
}

// Evaluate scores every proposal against the resolved set. Each call makes
// fresh EvaluatedTracks; re-evaluations across refill rounds never merge.
func Evaluate(proposals []models.Proposal, resolved []models.ResolvedTrack, opts Options) Result {
	var res Result
	idx := buildIndex(resolved)

	for _, p := range proposals {
		row, kind := idx.find(p)
		if row == nil || row.Match == nil {
			res.Rejected = append(res.Rejected, unresolvedTrack(p, opts))
			continue
		}

		conf := 0.0
		var reasons []string
		m := row.Match

		// A) existence, the highest-priority signal
		exists := m.ID != ""
		existScore := 0.0
		if exists {
			conf += ExistScore
			existScore = ExistScore
			reasons = append(reasons, "verified in catalog")
		}

		// B) text-match precision
		matchScore := 0.0
		switch kind {
		case models.MatchExact:
			conf += MatchScoreExact
			matchScore = MatchScoreExact
			reasons = append(reasons, "title/artist match (exact)")
		case models.MatchFuzzy:
			conf += MatchScoreFuzzy
			matchScore = MatchScoreFuzzy
			reasons = append(reasons, "title/artist match (fuzzy)")
		}

		// C) year, a hard constraint while the gate is on
		yearScore := 0.0
		release := m.EffectiveYear()
		hardReject := false
		if opts.YearGate {
			switch {
			case opts.Era != nil && release != 0:
				if !opts.Era.Contains(release) {
					hardReject = true
					reasons = append(reasons, fmt.Sprintf("outside era %d-%d", opts.Era.Start, opts.Era.End))
				} else {
					conf += YearScoreOnMatch
					yearScore = YearScoreOnMatch
					reasons = append(reasons, "era match")
				}
			case p.YearGuess != 0 && release != 0:
				if abs(release-p.YearGuess) <= YearTolerance {
					conf += YearScoreOnMatch
					yearScore = YearScoreOnMatch
					reasons = append(reasons, fmt.Sprintf("matches year estimate (±%dy)", YearTolerance))
				} else {
					hardReject = true
					reasons = append(reasons, "year estimate mismatch (hard gate)")
				}
			default:
				// Gate on with nothing to check against: failing safe beats
				// letting unverifiable tracks through.
				hardReject = true
				reasons = append(reasons, "insufficient year data under active gate")
			}
		} else {
			reasons = append(reasons, "year gate off")
		}

		totalBeforeRound := conf
		confidence := round2(conf)
		accepted := confidence >= AcceptThreshold
		if hardReject {
			accepted = false
			confidence = math.Min(confidence, 0.49)
		}

		firstArtist := ""
		if len(m.Artists) > 0 {
			firstArtist = m.Artists[0]
		}
		out := models.EvaluatedTrack{
			Title:      p.Title,
			Artist:     p.Artist,
			URI:        m.URI,
			Confidence: confidence,
			Reason:     strings.Join(reasons, " / "),
			Accepted:   accepted,
			Arc:        p.Arc,
			Weight:     p.Weight,
			Match:      m,
			Debug: &models.EvalDebug{
				MatchKind:        kind,
				ResolvedTitle:    m.Name,
				ResolvedArtist:   firstArtist,
				Popularity:       m.Popularity,
				YearGate:         opts.YearGate,
				YearGuess:        p.YearGuess,
				ReleaseYear:      release,
				EraStart:         eraStart(opts.Era),
				EraEnd:           eraEnd(opts.Era),
				EraGateApplied:   opts.Era != nil,
				Exists:           exists,
				ExistScore:       existScore,
				MatchScore:       matchScore,
				YearScore:        yearScore,
				TotalBeforeRound: totalBeforeRound,
				HardGate:         hardReject,
			},
		}

		if accepted {
			res.Picked = append(res.Picked, out)
		} else {
			res.Rejected = append(res.Rejected, out)
		}
	}
	return res
}

func unresolvedTrack(p models.Proposal, opts Options) models.EvaluatedTrack {
	return models.EvaluatedTrack{
		Title:    p.Title,
		Artist:   p.Artist,
		Reason:   "unresolved in catalog",
		Accepted: false,
		Arc:      p.Arc,
		Weight:   p.Weight,
		Debug: &models.EvalDebug{
			MatchKind:      models.MatchNone,
			YearGate:       opts.YearGate,
			YearGuess:      p.YearGuess,
			EraStart:       eraStart(opts.Era),
			EraEnd:         eraEnd(opts.Era),
			EraGateApplied: opts.Era != nil,
		},
	}
}

func norm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func bucketKey(nt string) string {
	r := []rune(nt)
	if len(r) > bucketLen {
		r = r[:bucketLen]
	}
	return string(r)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func eraStart(e *models.EraConstraint) int {
	if e == nil {
		return 0
	}
	return e.Start
}

func eraEnd(e *models.EraConstraint) int {
	if e == nil {
		return 0
	}
	return e.End
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
