// Package audit runs the post-evaluation quality pass: ask a critic to
// flag weak entries, drop them, then refill the shortfall with fresh
// proposals until the target size is met or the round budget runs out.
package audit

import (
	"context"
	"log"
	"math"
	"time"

	"triw-go-srv/internal/evaluate"
	"triw-go-srv/internal/models"
	"triw-go-srv/internal/resolver"
)

const (
	// refill lookups use smaller, gentler chunks than the main pass
	refillChunkSize  = 12
	refillChunkDelay = 800 * time.Millisecond
	refillMaxRetries = 2

	// per refill round: at least 2 proposals, at most 8
	refillAskMin = 2
	refillAskMax = 8

	DefaultMaxRounds = 2
)

// Critic reviews an accepted list and flags entries to drop or replace.
type Critic interface {
	Critique(ctx context.Context, tracks []models.EvaluatedTrack) (models.Critique, error)
}

// ProposalSource supplies fresh candidates for a refill round. Keys in
// exclude identify tracks the source must not propose again.
type ProposalSource interface {
	MoreProposals(ctx context.Context, n int, exclude []string) ([]models.Proposal, error)
}

// Loop wires the critic, the proposal source and the resolver into the
// audit-refill cycle.
type Loop struct {
	Critic    Critic
	Source    ProposalSource
	Resolve   resolver.ResolveFunc
	Eval      evaluate.Options
	MaxRounds int
}

// Report summarizes what one Run did, for logging and run artifacts.
type Report struct {
	Flagged   int `json:"flagged"`
	Removed   int `json:"removed"`
	Added     int `json:"added"`
	RoundsRun int `json:"rounds_run"`
	Deficit   int `json:"deficit"`
}

// Run critiques picked, removes flagged entries and refills toward
// target. A failing critic is not fatal: the input list survives as-is.
func (l *Loop) Run(ctx context.Context, picked []models.EvaluatedTrack, target int) ([]models.EvaluatedTrack, Report) {
	var rep Report
	if len(picked) == 0 || l.Critic == nil {
		return picked, rep
	}

	crit, err := l.Critic.Critique(ctx, picked)
	if err != nil {
		log.Printf("audit: critique failed, keeping list unchanged: %v", err)
		return picked, rep
	}
	rep.Flagged = flaggedCount(crit)

	kept := ApplyCritique(picked, crit)
	rep.Removed = len(picked) - len(kept)

	if l.Source == nil || l.Resolve == nil {
		rep.Deficit = max(0, target-len(kept))
		return kept, rep
	}

	seen := make(map[string]bool, len(picked))
	for _, e := range picked {
		seen[models.NormKey(e.Title, e.Artist)] = true
	}

	chunker := resolver.NewChunker(l.Resolve)
	chunker.ChunkSize = refillChunkSize
	chunker.InterChunkDelay = refillChunkDelay
	chunker.MaxRetriesPerChunk = refillMaxRetries

	rounds := l.MaxRounds
	if rounds < 1 {
		rounds = DefaultMaxRounds
	}
	for round := 0; round < rounds; round++ {
		deficit := target - len(kept)
		if deficit <= 0 {
			break
		}
		rep.RoundsRun++

		ask := min(refillAskMax, max(refillAskMin, int(math.Ceil(1.5*float64(deficit)))))
		exclude := make([]string, 0, len(seen))
		for k := range seen {
			exclude = append(exclude, k)
		}

		props, err := l.Source.MoreProposals(ctx, ask, exclude)
		if err != nil {
			log.Printf("audit: refill round %d proposal fetch failed: %v", round+1, err)
			break
		}
		props = dropSeen(props, seen)
		if len(props) == 0 {
			break
		}

		resolved, _, err := chunker.ResolveAll(ctx, props)
		if err != nil {
			log.Printf("audit: refill round %d resolve failed: %v", round+1, err)
			break
		}

		res := evaluate.Evaluate(props, resolved, l.Eval)
		for _, e := range res.Picked {
			if len(kept) >= target {
				break
			}
			k := models.NormKey(e.Title, e.Artist)
			if seen[k] {
				continue
			}
			seen[k] = true
			kept = append(kept, e)
			rep.Added++
		}
	}

	rep.Deficit = max(0, target-len(kept))
	return kept, rep
}

// ApplyCritique removes entries flagged drop or replace. Key matching is
// preferred; a bare numeric index cannot be trusted to be 0- or 1-based,
// so it marks both candidate positions.
func ApplyCritique(picked []models.EvaluatedTrack, crit models.Critique) []models.EvaluatedTrack {
	if len(crit.Issues) == 0 {
		return picked
	}

	remove := make([]bool, len(picked))
	for _, iss := range crit.Issues {
		if iss.Action != models.ActionDrop && iss.Action != models.ActionReplace {
			continue
		}
		if iss.Key != "" {
			if matched := markByKey(picked, remove, iss.Key); matched {
				continue
			}
		}
		if iss.Index != nil {
			for _, i := range []int{*iss.Index, *iss.Index - 1} {
				if i >= 0 && i < len(remove) {
					remove[i] = true
				}
			}
		}
	}

	out := make([]models.EvaluatedTrack, 0, len(picked))
	for i, e := range picked {
		if !remove[i] {
			out = append(out, e)
		}
	}
	return out
}

// markByKey flags every entry whose catalog ID or normalized identity
// matches key. Reports whether anything matched.
func markByKey(picked []models.EvaluatedTrack, remove []bool, key string) bool {
	matched := false
	for i, e := range picked {
		if e.Match != nil && e.Match.ID != "" && e.Match.ID == key {
			remove[i] = true
			matched = true
			continue
		}
		if models.NormKey(e.Title, e.Artist) == key {
			remove[i] = true
			matched = true
		}
	}
	return matched
}

func flaggedCount(crit models.Critique) int {
	n := 0
	for _, iss := range crit.Issues {
		if iss.Action == models.ActionDrop || iss.Action == models.ActionReplace {
			n++
		}
	}
	return n
}

func dropSeen(props []models.Proposal, seen map[string]bool) []models.Proposal {
	out := props[:0]
	for _, p := range props {
		if !seen[models.NormKey(p.Title, p.Artist)] {
			out = append(out, p)
		}
	}
	return out
}
