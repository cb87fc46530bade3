package catalog

import (
	"math"
	"regexp"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/zmb3/spotify/v2"
)

// Candidate scoring for search reranking. Weights favor the original
// recording over covers, remixes and late reissues.

var (
	parenQualifierRe = regexp.MustCompile(`(?i)\s*\(([^)]*?(remaster|remastered|live|acoustic|edit|version|remix|re[-\s]?recorded)[^)]*?)\)\s*`)
	dashQualifierRe  = regexp.MustCompile(`(?i)\s*-\s*(\d{4}\s+)?(remaster|remastered|live|acoustic|edit|version|remix|re[-\s]?recorded).*$`)
	quoteRe          = regexp.MustCompile("[“”\"’']")
	featSuffixRe     = regexp.MustCompile(`(?i)\s+f(ea)?t\.?\s.+$`)
	coverishEnRe     = regexp.MustCompile(`(?i)\b(remix|cover|tribute|mix|re[-\s]?recorded)\b`)
	coverishJaRe     = regexp.MustCompile(`(カバー|リミックス|ベスト|トリビュート)`)
	yearPrefixRe     = regexp.MustCompile(`^\d{4}`)
)

// normTitle lowercases and strips remaster/live/remix style qualifiers and
// quote characters while keeping genuine subtitles.
func normTitle(s string) string {
	s = strings.ToLower(s)
	s = parenQualifierRe.ReplaceAllString(s, " ")
	s = dashQualifierRe.ReplaceAllString(s, "")
	s = quoteRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// normArtist lowercases and drops "feat./ft." guest suffixes.
func normArtist(s string) string {
	s = strings.ToLower(s)
	s = featSuffixRe.ReplaceAllString(s, "")
	s = quoteRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		out[t] = true
	}
	return out
}

func tokenOverlap(a, b map[string]bool) int {
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	return n
}

// releaseYearFrom pulls the year out of a Spotify release date, which may
// be "2006", "2006-04" or "2006-04-18". 0 when unparseable.
func releaseYearFrom(date string) int {
	m := yearPrefixRe.FindString(date)
	if m == "" {
		return 0
	}
	y := 0
	for _, r := range m {
		y = y*10 + int(r-'0')
	}
	return y
}

// titleMatchScore: 2 = exact after normalization, 1.5 = substring
// containment, 1 = prefix/suffix match, 0 = no match.
func titleMatchScore(candTitle, targetNorm string) float64 {
	if targetNorm == "" {
		return 0
	}
	nt := normTitle(candTitle)
	switch {
	case nt == targetNorm:
		return 2
	case strings.HasPrefix(nt, targetNorm) || strings.HasPrefix(targetNorm, nt):
		return 1
	case strings.Contains(nt, targetNorm) || strings.Contains(targetNorm, nt):
		return 1.5
	}
	return 0
}

// artistScore: 2 with exact/containment match, 1 for any shared token.
func artistScore(candArtists []string, targetRaw string) (exact bool, score float64) {
	target := normArtist(targetRaw)
	targetTok := tokenSet(target)
	partial := 0.0
	for _, a := range candArtists {
		na := normArtist(a)
		if na == target || strings.Contains(na, target) || strings.Contains(target, na) {
			return true, 2
		}
		if tokenOverlap(tokenSet(na), targetTok) > 0 {
			partial = 1
		}
	}
	return false, partial
}

// yearProximityScore rewards candidates near the proposal's year guess:
// 3/2/1/0 for divergence of <=3/<=6/<=10/more years.
func yearProximityScore(candYear, yearGuess int) float64 {
	if candYear == 0 || yearGuess == 0 {
		return 0
	}
	switch d := abs(candYear - yearGuess); {
	case d <= 3:
		return 3
	case d <= 6:
		return 2
	case d <= 10:
		return 1
	}
	return 0
}

func looksLikeCoverOrRemix(name string) bool {
	return coverishEnRe.MatchString(name) || coverishJaRe.MatchString(name)
}

// coverPenalty suppresses spurious cover/remix/tribute matches: -4 for no
// artist match, -5 when the name reads like a cover, and -2/-3 more when
// both the artist misses and the year diverges widely.
func coverPenalty(cand spotify.FullTrack, targetArtistRaw string, yearGuess int) float64 {
	exact, _ := artistScore(artistNames(cand), targetArtistRaw)
	y := releaseYearFrom(cand.Album.ReleaseDate)
	nameBad := looksLikeCoverOrRemix(cand.Name) || looksLikeCoverOrRemix(cand.Album.Name)

	pen := 0.0
	if !exact {
		pen -= 4
	}
	if nameBad {
		pen -= 5
	}
	if !exact && yearGuess != 0 && y != 0 {
		switch d := abs(y - yearGuess); {
		case d >= 15:
			pen -= 3
		case d >= 10:
			pen -= 2
		}
	}
	return pen
}

var jaroWinkler = metrics.NewJaroWinkler()

// scoreOne is the composite per-candidate score. A negative-infinity
// result means the candidate failed the strict title floor.
func scoreOne(cand spotify.FullTrack, titleNorm, targetArtistRaw string, yearGuess int, requireTitle bool) float64 {
	tScore := titleMatchScore(cand.Name, titleNorm)
	if requireTitle && tScore == 0 {
		return math.Inf(-1)
	}

	_, aScore := artistScore(artistNames(cand), targetArtistRaw)
	yScore := yearProximityScore(releaseYearFrom(cand.Album.ReleaseDate), yearGuess)
	pen := coverPenalty(cand, targetArtistRaw, yearGuess)

	// Fine-grained tiebreaks: popularity, then Jaro-Winkler similarity of
	// the full "artist title" string. Both stay well under one coarse
	// scoring step.
	pop := float64(cand.Popularity) / 200
	sim := strutil.Similarity(
		normArtist(strings.Join(artistNames(cand), " "))+" "+normTitle(cand.Name),
		normArtist(targetArtistRaw)+" "+titleNorm,
		jaroWinkler,
	) * 0.4

	return tScore*3 + aScore*4 + yScore*5 + pop + sim + pen
}

// rerank picks the best candidate. With requireTitle, candidates whose
// title doesn't match at all are ineligible and rerank may return nil.
func rerank(items []spotify.FullTrack, titleNorm, targetArtistRaw string, yearGuess int, requireTitle bool) *spotify.FullTrack {
	var best *spotify.FullTrack
	bestScore := math.Inf(-1)
	for i := range items {
		s := scoreOne(items[i], titleNorm, targetArtistRaw, yearGuess, requireTitle)
		if s > bestScore {
			best = &items[i]
			bestScore = s
		}
	}
	if requireTitle && math.IsInf(bestScore, -1) {
		return nil
	}
	return best
}

func artistNames(t spotify.FullTrack) []string {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	return names
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
