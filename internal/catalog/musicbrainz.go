package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

// MusicBrainz is an optional secondary source for original-release-year
// estimates. Lookups are best-effort: any failure yields 0, never an error,
// since the catalog-derived estimate already exists.
type MusicBrainz struct {
	client  *http.Client
	limiter *rate.Limiter
}

func NewMusicBrainz() *MusicBrainz {
	return &MusicBrainz{
		client: &http.Client{Timeout: 5 * time.Second},
		// 1 req/s per MB guidelines
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type mbRecordingResponse struct {
	Recordings []struct {
		ID       string `json:"id"`
		Score    int    `json:"score"`
		Releases []struct {
			Date string `json:"date"`
		} `json:"releases"`
	} `json:"recordings"`
}

// EarliestReleaseYear returns the oldest plausible release year across all
// MusicBrainz releases of the recording with the given ISRC, or 0.
func (m *MusicBrainz) EarliestReleaseYear(ctx context.Context, isrc string) int {
	if err := m.limiter.Wait(ctx); err != nil {
		return 0
	}

	searchURL := fmt.Sprintf(
		"https://musicbrainz.org/ws/2/recording?query=%s&fmt=json",
		url.QueryEscape("isrc:"+isrc),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return 0
	}
	// MusicBrainz requires a descriptive User-Agent
	req.Header.Set("User-Agent", "TRIW-GO-SRV/1.0 (year-origin-check)")

	resp, err := m.client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0
	}

	var res mbRecordingResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0
	}

	minYear := 0
	for _, rec := range res.Recordings {
		for _, rel := range rec.Releases {
			y := releaseYearFrom(rel.Date)
			if y < 1900 || y > 2100 {
				continue
			}
			if minYear == 0 || y < minYear {
				minYear = y
			}
		}
	}
	return minYear
}
