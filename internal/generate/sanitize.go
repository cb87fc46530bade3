package generate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"triw-go-srv/internal/models"
)

// safeParseJSON decodes model output that may be wrapped in prose or
// markdown fences: try as-is first, then the widest {...} or [...] slice.
func safeParseJSON(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}

	start := strings.IndexAny(raw, "{[")
	end := strings.LastIndexAny(raw, "}]")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON payload in completion")
	}
	return json.Unmarshal([]byte(raw[start:end+1]), v)
}

// flexInt tolerates numbers arriving as JSON numbers or quoted strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// "1998?" and friends: salvage a leading integer
		for i, r := range s {
			if r < '0' || r > '9' {
				n, err = strconv.Atoi(s[:i])
				break
			}
		}
		if err != nil {
			*f = 0
			return nil
		}
	}
	*f = flexInt(n)
	return nil
}

type rawProposal struct {
	Title          string  `json:"title"`
	Artist         string  `json:"artist"`
	Album          string  `json:"album"`
	Arc            string  `json:"arc"`
	Reason         string  `json:"reason"`
	WhyPersonaFit  string  `json:"why_persona_fit"`
	WhyThemeFit    string  `json:"why_theme_fit"`
	YearGuess      flexInt `json:"year_guess"`
	IntendedWeight string  `json:"intended_weight"`
	PopularityHint string  `json:"popularity_hint"`
}

type proposalEnvelope struct {
	Tracks    []rawProposal `json:"tracks"`
	Proposals []rawProposal `json:"proposals"`
}

// parseProposals applies the schema-with-defaults pass: missing or
// unrecognized fields get safe defaults, entries without both a title
// and an artist are dropped.
func parseProposals(raw string) ([]models.Proposal, error) {
	var env proposalEnvelope
	if err := safeParseJSON(raw, &env); err != nil {
		// a bare array is also acceptable
		var list []rawProposal
		if err2 := safeParseJSON(raw, &list); err2 != nil {
			return nil, err
		}
		env.Tracks = list
	}
	items := env.Tracks
	if len(items) == 0 {
		items = env.Proposals
	}

	out := make([]models.Proposal, 0, len(items))
	for _, r := range items {
		title := strings.TrimSpace(r.Title)
		artist := strings.TrimSpace(r.Artist)
		if title == "" || artist == "" {
			continue
		}
		out = append(out, models.Proposal{
			Title:          title,
			Artist:         artist,
			Album:          strings.TrimSpace(r.Album),
			Arc:            normArc(r.Arc),
			Reason:         strings.TrimSpace(r.Reason),
			WhyPersonaFit:  strings.TrimSpace(r.WhyPersonaFit),
			WhyThemeFit:    strings.TrimSpace(r.WhyThemeFit),
			YearGuess:      int(r.YearGuess),
			Weight:         normWeight(r.IntendedWeight),
			PopularityHint: strings.TrimSpace(r.PopularityHint),
		})
	}
	return out, nil
}

func normArc(s string) models.Arc {
	switch models.Arc(strings.ToLower(strings.TrimSpace(s))) {
	case models.ArcIntro:
		return models.ArcIntro
	case models.ArcBuild:
		return models.ArcBuild
	case models.ArcPeak:
		return models.ArcPeak
	case models.ArcCooldown:
		return models.ArcCooldown
	}
	return models.ArcOther
}

func normWeight(s string) models.Weight {
	switch models.Weight(strings.ToLower(strings.TrimSpace(s))) {
	case models.WeightAnchor:
		return models.WeightAnchor
	case models.WeightDeep:
		return models.WeightDeep
	case models.WeightWildcard:
		return models.WeightWildcard
	}
	return models.WeightUnknown
}

type rawIssue struct {
	Index           *flexInt `json:"index"`
	Key             string   `json:"key"`
	Action          string   `json:"action"`
	Reason          string   `json:"reason"`
	ReplacementHint string   `json:"replacement_hint"`
}

type critiqueEnvelope struct {
	Issues []rawIssue `json:"issues"`
}

func parseCritique(raw string) (models.Critique, error) {
	var env critiqueEnvelope
	if err := safeParseJSON(raw, &env); err != nil {
		var list []rawIssue
		if err2 := safeParseJSON(raw, &list); err2 != nil {
			return models.Critique{}, err
		}
		env.Issues = list
	}

	out := models.Critique{Issues: make([]models.CritiqueIssue, 0, len(env.Issues))}
	for _, r := range env.Issues {
		iss := models.CritiqueIssue{
			Key:             strings.TrimSpace(r.Key),
			Action:          normAction(r.Action),
			Reason:          strings.TrimSpace(r.Reason),
			ReplacementHint: strings.TrimSpace(r.ReplacementHint),
		}
		if r.Index != nil {
			i := int(*r.Index)
			iss.Index = &i
		}
		out.Issues = append(out.Issues, iss)
	}
	return out, nil
}

func normAction(s string) models.CritiqueAction {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drop", "remove", "delete":
		return models.ActionDrop
	case "replace", "swap":
		return models.ActionReplace
	}
	return models.ActionKeep
}
