package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/time/rate"

	"triw-go-srv/internal/models"
)

const searchLimit = 20

// Client wraps the Spotify Web API client with the multi-stage search and
// reranking used to bind free-text proposals to catalog records.
type Client struct {
	sp      *spotify.Client
	limiter *rate.Limiter
	market  string
	mb      *MusicBrainz
}

type Option func(*Client)

// WithMarket sets the preferred market for the tighter search stages.
func WithMarket(market string) Option {
	return func(c *Client) { c.market = market }
}

// WithMusicBrainz enables the secondary origin-year lookup.
func WithMusicBrainz(mb *MusicBrainz) Option {
	return func(c *Client) { c.mb = mb }
}

func New(sp *spotify.Client, opts ...Option) *Client {
	c := &Client{
		sp: sp,
		// Stay politely under the web API quota even before the chunked
		// orchestrator paces whole batches.
		limiter: rate.NewLimiter(rate.Every(120*time.Millisecond), 4),
		market:  "JP",
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// FindBestMatch resolves a proposal to its best catalog record, or nil
// when nothing matched. It never fails on a miss; the returned error is
// always a transport/auth/rate-limit failure.
//
// Queries run tightest first: quoted raw title+artist, quoted normalized
// title+artist, unquoted pair, then title-only, with the market scope
// loosening over the last stages. The first stage producing a candidate
// that clears the strict title floor wins; only when every stage misses
// does a single loose pass score the accumulated pool with no floor.
func (c *Client) FindBestMatch(ctx context.Context, p models.Proposal) (*models.CatalogMatch, error) {
	titleNorm := normTitle(p.Title)

	type stage struct {
		query  string
		market string
	}
	stages := []stage{
		{fmt.Sprintf("track:%q artist:%q", p.Title, p.Artist), c.market},
		{fmt.Sprintf("track:%q artist:%q", titleNorm, p.Artist), c.market},
		{p.Title + " " + p.Artist, c.market},
		{p.Title, c.market},
		{p.Title, ""},
		{titleNorm, ""},
	}

	var pool []spotify.FullTrack
	for _, st := range stages {
		items, err := c.search(ctx, st.query, st.market)
		if err != nil {
			return nil, err
		}
		if best := rerank(items, titleNorm, p.Artist, p.YearGuess, true); best != nil {
			return toMatch(best), nil
		}
		pool = append(pool, items...)
	}

	// Last resort: best available record without the title floor.
	if best := rerank(pool, titleNorm, p.Artist, p.YearGuess, false); best != nil {
		return toMatch(best), nil
	}
	return nil, nil
}

func (c *Client) search(ctx context.Context, query, market string) ([]spotify.FullTrack, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	opts := []spotify.RequestOption{spotify.Limit(searchLimit)}
	if market != "" {
		opts = append(opts, spotify.Market(market))
	}
	res, err := c.sp.Search(ctx, query, spotify.SearchTypeTrack, opts...)
	if err != nil {
		return nil, classifyErr(err)
	}
	if res.Tracks == nil {
		return nil, nil
	}
	return res.Tracks.Tracks, nil
}

// OriginalReleaseYear estimates the earliest release year of the recording
// behind an ISRC by scanning the catalog's ISRC cluster and, when enabled,
// MusicBrainz. 0 means no usable estimate.
func (c *Client) OriginalReleaseYear(ctx context.Context, isrc string) (int, error) {
	if isrc == "" {
		return 0, nil
	}
	items, err := c.search(ctx, "isrc:"+isrc, c.market)
	if err != nil {
		return 0, err
	}
	minYear := 0
	for _, it := range items {
		y := releaseYearFrom(it.Album.ReleaseDate)
		if y != 0 && (minYear == 0 || y < minYear) {
			minYear = y
		}
	}

	// MusicBrainz may know an earlier pressing; its failures never mask
	// the catalog-derived estimate.
	if c.mb != nil {
		if mbYear := c.mb.EarliestReleaseYear(ctx, isrc); mbYear != 0 && (minYear == 0 || mbYear < minYear) {
			minYear = mbYear
		}
	}
	return minYear, nil
}

// AudioFeatures fetches tempo/energy descriptors for up to 100 tracks.
func (c *Client) AudioFeatures(ctx context.Context, ids []spotify.ID) (map[spotify.ID]*spotify.AudioFeatures, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	feats, err := c.sp.GetAudioFeatures(ctx, ids...)
	if err != nil {
		return nil, classifyErr(err)
	}
	out := make(map[spotify.ID]*spotify.AudioFeatures, len(feats))
	for _, f := range feats {
		if f != nil {
			out[f.ID] = f
		}
	}
	return out, nil
}

func toMatch(t *spotify.FullTrack) *models.CatalogMatch {
	m := &models.CatalogMatch{
		ID:          string(t.ID),
		URI:         string(t.URI),
		Name:        t.Name,
		Artists:     artistNames(*t),
		ISRC:        t.ExternalIDs["isrc"],
		ReleaseYear: releaseYearFrom(t.Album.ReleaseDate),
		Popularity:  int(t.Popularity),
		DurationMS:  int(t.Duration),
		PreviewURL:  t.PreviewURL,
	}
	if len(t.Album.Images) > 0 {
		m.AlbumImageURL = t.Album.Images[0].URL
	}
	return m
}
