// Package resolver turns free-text proposals into catalog-verified tracks.
// Per-proposal lookups fan out concurrently; batches above provider quota
// size go through the Chunker.
package resolver

import (
	"context"
	"database/sql"
	"log"

	"github.com/zmb3/spotify/v2"
	"golang.org/x/sync/errgroup"

	"triw-go-srv/internal/catalog"
	"triw-go-srv/internal/models"
	"triw-go-srv/internal/registry"
)

// lookups per proposal batch that may be in flight at once
const maxConcurrentLookups = 6

type Resolver struct {
	catalog *catalog.Client
	db      *sql.DB // resolution cache, may be nil
}

func New(c *catalog.Client, db *sql.DB) *Resolver {
	return &Resolver{catalog: c, db: db}
}

// Resolve binds each proposal to its best catalog record. Proposals with
// no usable match land in notFound; they are an outcome, not an error.
// A transport/auth/rate-limit failure aborts the whole batch.
func (r *Resolver) Resolve(ctx context.Context, proposals []models.Proposal) (resolved []models.ResolvedTrack, notFound []models.Proposal, err error) {
	matches := make([]*models.CatalogMatch, len(proposals))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, p := range proposals {
		i, p := i, p
		g.Go(func() error {
			m, err := r.resolveOne(gctx, p)
			if err != nil {
				return err
			}
			matches[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	r.attachAudioFeatures(ctx, matches)

	for i, p := range proposals {
		if matches[i] == nil {
			notFound = append(notFound, p)
			continue
		}
		resolved = append(resolved, models.ResolvedTrack{Proposal: p, Match: matches[i]})
	}
	return resolved, notFound, nil
}

func (r *Resolver) resolveOne(ctx context.Context, p models.Proposal) (*models.CatalogMatch, error) {
	key := models.NormKey(p.Title, p.Artist)
	if cached := registry.Get(r.db, key); cached != nil {
		return cached, nil
	}

	m, err := r.catalog.FindBestMatch(ctx, p)
	if err != nil || m == nil {
		return nil, err
	}

	// Derive the earliest known release year from the ISRC cluster. A
	// failure here is not worth losing the match over.
	if orig, err := r.catalog.OriginalReleaseYear(ctx, m.ISRC); err == nil && orig != 0 {
		m.OriginalReleaseYear = orig
		m.IsReissue = m.ReleaseYear != 0 && orig != m.ReleaseYear
	}

	if err := registry.Put(r.db, key, m); err != nil {
		log.Printf("resolve cache write failed for %q: %v", p.Title, err)
	}
	return m, nil
}

// attachAudioFeatures fills tempo/energy best-effort; the descriptors are
// debug metadata and their absence never fails a resolution.
func (r *Resolver) attachAudioFeatures(ctx context.Context, matches []*models.CatalogMatch) {
	var ids []spotify.ID
	for _, m := range matches {
		if m != nil && m.Tempo == 0 {
			ids = append(ids, spotify.ID(m.ID))
		}
	}
	feats, err := r.catalog.AudioFeatures(ctx, ids)
	if err != nil {
		log.Printf("audio features fetch skipped: %v", err)
		return
	}
	for _, m := range matches {
		if m == nil {
			continue
		}
		if f, ok := feats[spotify.ID(m.ID)]; ok {
			m.Tempo = float64(f.Tempo)
			m.Energy = float64(f.Energy)
		}
	}
}
