// Package registry caches successful catalog resolutions in SQLite so
// repeated runs skip the search ladder for proposals already seen.
// Every function tolerates a nil *sql.DB: caching is an optimization,
// never a requirement.
package registry

import (
	"database/sql"
	_ "embed"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"

	"triw-go-srv/internal/models"
)

//go:embed schema.sql
var schema string

// InitDatabase runs the embedded schema and sets performance PRAGMAs.
func InitDatabase(db *sql.DB) error {
	if db == nil {
		return nil
	}
	// WAL mode so cache writes don't block concurrent lookups mid-run
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA cache_size=-2000;"); err != nil {
		return err
	}
	_, err := db.Exec(schema)
	return err
}

// Get returns the cached match for a normalized proposal key, or nil on a
// cache miss. Lookup failure is indistinguishable from a miss by design.
func Get(db *sql.DB, normKey string) *models.CatalogMatch {
	if db == nil || normKey == "" {
		return nil
	}

	var (
		m           models.CatalogMatch
		artistsJSON string
	)
	err := db.QueryRow(`
		SELECT spotify_id, uri, name, artists, COALESCE(isrc, ''),
		       COALESCE(release_year, 0), COALESCE(original_year, 0),
		       COALESCE(popularity, 0), COALESCE(duration_ms, 0),
		       COALESCE(preview_url, ''), COALESCE(image_url, '')
		FROM resolve_cache WHERE norm_key = ?`, normKey).
		Scan(&m.ID, &m.URI, &m.Name, &artistsJSON, &m.ISRC,
			&m.ReleaseYear, &m.OriginalReleaseYear,
			&m.Popularity, &m.DurationMS, &m.PreviewURL, &m.AlbumImageURL)
	if err != nil {
		// sql.ErrNoRows and corrupt rows alike read as cache misses; the
		// resolver simply re-searches.
		return nil
	}
	if json.Unmarshal([]byte(artistsJSON), &m.Artists) != nil {
		return nil
	}
	m.IsReissue = m.OriginalReleaseYear != 0 && m.ReleaseYear != 0 &&
		m.OriginalReleaseYear != m.ReleaseYear
	return &m
}

// Put upserts a resolved match under its normalized proposal key, using
// COALESCE so a later write without an origin year keeps the earlier one.
func Put(db *sql.DB, normKey string, m *models.CatalogMatch) error {
	if db == nil || normKey == "" || m == nil {
		return nil
	}
	artistsJSON, err := json.Marshal(m.Artists)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
	INSERT INTO resolve_cache
		(norm_key, spotify_id, uri, name, artists, isrc, release_year,
		 original_year, popularity, duration_ms, preview_url, image_url,
		 last_updated)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(norm_key) DO UPDATE SET
		spotify_id    = excluded.spotify_id,
		uri           = excluded.uri,
		name          = excluded.name,
		artists       = excluded.artists,
		isrc          = COALESCE(NULLIF(excluded.isrc, ''), resolve_cache.isrc),
		release_year  = excluded.release_year,
		original_year = COALESCE(NULLIF(excluded.original_year, 0), resolve_cache.original_year),
		popularity    = excluded.popularity,
		duration_ms   = excluded.duration_ms,
		preview_url   = excluded.preview_url,
		image_url     = excluded.image_url,
		last_updated  = CURRENT_TIMESTAMP;`,
		normKey, m.ID, m.URI, m.Name, string(artistsJSON), m.ISRC,
		m.ReleaseYear, m.OriginalReleaseYear, m.Popularity, m.DurationMS,
		m.PreviewURL, m.AlbumImageURL)
	return err
}
