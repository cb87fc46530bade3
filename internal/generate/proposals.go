package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"triw-go-srv/internal/models"
)

// Brief is the curatorial request the generative step works from.
type Brief struct {
	Theme   string
	Persona string
	Era     *models.EraConstraint
	Count   int
}

const proposalSystem = `You are a music curator building a themed track list.
Respond with JSON only: {"tracks":[{"title","artist","album","arc","reason","why_persona_fit","why_theme_fit","year_guess","intended_weight","popularity_hint"}]}.
arc is one of intro|build|peak|cooldown|other. intended_weight is one of anchor|deep|wildcard.
Prefer real, catalog-findable recordings. Never invent titles.`

const critiqueSystem = `You review a themed track list for weak fits.
Respond with JSON only: {"issues":[{"key","index","action","reason","replacement_hint"}]}.
action is one of keep|drop|replace. key repeats the track's "key" field verbatim.
Flag only genuine problems. An empty issues array is a fine answer.`

// Proposals asks for brief.Count candidate tracks.
func (c *Client) Proposals(ctx context.Context, brief Brief) ([]models.Proposal, error) {
	raw, err := c.chat(ctx, proposalSystem, briefPrompt(brief, nil), 0.8)
	if err != nil {
		return nil, err
	}
	return parseProposals(raw)
}

func briefPrompt(brief Brief, exclude []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Theme: %s\n", brief.Theme)
	if brief.Persona != "" {
		fmt.Fprintf(&b, "Curator persona: %s\n", brief.Persona)
	}
	if brief.Era != nil {
		fmt.Fprintf(&b, "Era: originally released %d-%d only\n", brief.Era.Start, brief.Era.End)
	}
	n := brief.Count
	if n < 1 {
		n = 12
	}
	fmt.Fprintf(&b, "Propose exactly %d tracks.\n", n)
	if len(exclude) > 0 {
		b.WriteString("Do NOT propose any of these (title \x1f artist keys):\n")
		for _, k := range exclude {
			fmt.Fprintf(&b, "- %s\n", strings.ReplaceAll(k, "\x1f", " / "))
		}
	}
	return b.String()
}

// Source adapts the client into a refill proposal source bound to one
// brief.
func (c *Client) Source(brief Brief) *Source {
	return &Source{c: c, brief: brief}
}

type Source struct {
	c     *Client
	brief Brief
}

func (s *Source) MoreProposals(ctx context.Context, n int, exclude []string) ([]models.Proposal, error) {
	brief := s.brief
	brief.Count = n
	raw, err := s.c.chat(ctx, proposalSystem, briefPrompt(brief, exclude), 0.9)
	if err != nil {
		return nil, err
	}
	return parseProposals(raw)
}

// Critique asks the model to flag weak entries in an accepted list.
func (c *Client) Critique(ctx context.Context, tracks []models.EvaluatedTrack) (models.Critique, error) {
	type row struct {
		Key        string  `json:"key"`
		Index      int     `json:"index"`
		Title      string  `json:"title"`
		Artist     string  `json:"artist"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	}
	rows := make([]row, len(tracks))
	for i, t := range tracks {
		rows[i] = row{
			Key:        models.NormKey(t.Title, t.Artist),
			Index:      i,
			Title:      t.Title,
			Artist:     t.Artist,
			Confidence: t.Confidence,
			Reason:     t.Reason,
		}
	}
	payload, err := json.Marshal(map[string]any{"tracks": rows})
	if err != nil {
		return models.Critique{}, err
	}

	raw, err := c.chat(ctx, critiqueSystem, string(payload), 0.2)
	if err != nil {
		return models.Critique{}, err
	}
	return parseCritique(raw)
}
