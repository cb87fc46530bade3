package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"triw-go-srv/internal/audit"
	"triw-go-srv/internal/catalog"
	"triw-go-srv/internal/evaluate"
	"triw-go-srv/internal/finalize"
	"triw-go-srv/internal/generate"
	"triw-go-srv/internal/models"
	"triw-go-srv/internal/registry"
	"triw-go-srv/internal/resolver"
	"triw-go-srv/internal/runlog"
)

/* =========================
   Recovery Middleware
   ========================= */

func RecoveryMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("PANIC: %v\n%s", err, debug.Stack())
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next(w, r)
	}
}

/* =========================
   Types
   ========================= */

type MixtapeRequest struct {
	Theme           string            `json:"theme"`
	Persona         string            `json:"persona,omitempty"`
	Era             json.RawMessage   `json:"era,omitempty"`
	Mode            string            `json:"mode,omitempty"` // count | duration
	Count           int               `json:"count,omitempty"`
	DurationMin     int               `json:"duration_min,omitempty"`
	Candidates      []models.Proposal `json:"candidates,omitempty"`
	ProgramTitle    string            `json:"program_title,omitempty"`
	ProgramOverview string            `json:"program_overview,omitempty"`
	ArtistPolicy    string            `json:"artist_policy,omitempty"` // auto | strict | none
	MaxPerArtist    int               `json:"max_per_artist,omitempty"`
	LightShuffle    bool              `json:"light_shuffle,omitempty"`
	SkipAudit       bool              `json:"skip_audit,omitempty"`
}

func envTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// targetTracks sizes the accepted pool before finalization. Duration
// mode estimates one track per 4 minutes, capped at 30.
func targetTracks(req MixtapeRequest) int {
	if req.Mode == string(finalize.ModeDuration) {
		minutes := req.DurationMin
		if minutes < 1 {
			minutes = finalize.DefaultOptions().TargetDurationMin
		}
		n := (minutes + 2) / 4
		return min(30, max(1, n))
	}
	if req.Count > 0 {
		return min(30, req.Count)
	}
	return 12
}

/* =========================
   SSE Helpers
   ========================= */

func setupSSE(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return flusher, nil
}

func sendEvent(w http.ResponseWriter, flusher http.Flusher, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Println("SSE marshal error:", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	flusher.Flush()
}

/* =========================
   Handler
   ========================= */

type server struct {
	db     *sql.DB
	cat    *catalog.Client
	gen    *generate.Client // nil when no generative backend is configured
	runDir string
}

func (s *server) handleMixtape(w http.ResponseWriter, r *http.Request) {
	/* =========================
	   CORS Preflight
	   ========================= */

	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ctx := r.Context()

	earlyFail := func(msg string, code int) {
		http.Error(w, msg, code)
	}

	/* =========================
	   Parse Request (NO SSE YET)
	   ========================= */

	var req MixtapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		earlyFail("Invalid JSON body", http.StatusBadRequest)
		return
	}

	if req.Theme == "" && len(req.Candidates) == 0 {
		earlyFail("theme or candidates required", http.StatusBadRequest)
		return
	}
	if len(req.Candidates) == 0 && s.gen == nil {
		earlyFail("no generative backend configured; supply candidates", http.StatusServiceUnavailable)
		return
	}

	era, err := models.ParseEra(req.Era)
	if err != nil {
		earlyFail("Invalid era: "+err.Error(), http.StatusBadRequest)
		return
	}

	/* =========================
	   SSE Setup (SAFE POINT)
	   ========================= */

	flusher, err := setupSSE(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	send := func(v any) { sendEvent(w, flusher, v) }

	run := runlog.New(s.runDir)
	run.Phase("request", req)
	run.Printf("mixtape run start: theme=%q mode=%q", req.Theme, req.Mode)

	fail := func(msg string, err error) {
		run.Printf("%s: %v", msg, err)
		send(map[string]string{"status": "error", "message": msg + ": " + err.Error()})
	}

	brief := generate.Brief{
		Theme:   req.Theme,
		Persona: req.Persona,
		Era:     era,
		Count:   targetTracks(req) + targetTracks(req)/2, // overshoot, evaluation prunes
	}

	/* =========================
	   Proposals
	   ========================= */

	proposals := req.Candidates
	if len(proposals) == 0 {
		send(map[string]string{"status": "generating", "message": "Drafting track proposals"})
		proposals, err = s.gen.Proposals(ctx, brief)
		if err != nil {
			fail("proposal generation failed", err)
			return
		}
	}
	if len(proposals) == 0 {
		send(map[string]string{"status": "error", "message": "no usable proposals"})
		return
	}
	run.Phase("proposals", proposals)

	/* =========================
	   Chunked Resolution
	   ========================= */

	rsv := resolver.New(s.cat, s.db)
	chunker := resolver.NewChunker(rsv.Resolve)
	chunker.OnChunk = func(done, total int) {
		select {
		case <-ctx.Done():
		default:
			send(map[string]any{"status": "resolving", "done": done, "total": total})
		}
	}

	resolved, notFound, err := chunker.ResolveAll(ctx, proposals)
	if err != nil {
		fail("catalog resolution failed", err)
		return
	}
	run.Phase("resolved", map[string]any{"resolved": resolved, "not_found": notFound})

	/* =========================
	   Evaluation
	   ========================= */

	evalOpts := evaluate.Options{YearGate: era != nil, Era: era}
	res := evaluate.Evaluate(proposals, resolved, evalOpts)
	run.Phase("evaluated", res)
	send(map[string]any{
		"status":   "evaluated",
		"picked":   len(res.Picked),
		"rejected": len(res.Rejected),
	})

	/* =========================
	   Self-Audit Refill
	   ========================= */

	picked := res.Picked
	target := targetTracks(req)
	if s.gen != nil && !req.SkipAudit {
		send(map[string]string{"status": "auditing", "message": "Reviewing accepted tracks"})
		loop := &audit.Loop{
			Critic:  s.gen,
			Source:  s.gen.Source(brief),
			Resolve: rsv.Resolve,
			Eval:    evalOpts,
		}
		var report audit.Report
		picked, report = loop.Run(ctx, picked, target)
		run.Phase("audit", report)
		send(map[string]any{"status": "audited", "report": report})
	}

	/* =========================
	   Finalize
	   ========================= */

	fopts := finalize.DefaultOptions()
	fopts.ProgramTitle = req.ProgramTitle
	fopts.ProgramOverview = req.ProgramOverview
	fopts.LightShuffle = req.LightShuffle
	if req.MaxPerArtist > 0 {
		fopts.MaxPerArtist = req.MaxPerArtist
	}
	switch req.ArtistPolicy {
	case string(finalize.PolicyStrict), string(finalize.PolicyNone):
		fopts.ArtistPolicy = finalize.ArtistPolicy(req.ArtistPolicy)
	}
	if req.Mode == string(finalize.ModeDuration) {
		fopts.Mode = finalize.ModeDuration
		if req.DurationMin > 0 {
			fopts.TargetDurationMin = req.DurationMin
		}
	} else {
		fopts.MaxTracks = target
	}

	fin := finalize.Finalize(picked, fopts)
	run.Phase("finalized", fin)
	run.Printf("mixtape run done in %s: %d tracks, %d not found",
		run.Elapsed().Round(time.Millisecond), len(fin.Tracks), len(notFound))

	/* =========================
	   Final
	   ========================= */

	send(map[string]any{
		"status": "complete",
		"meta": map[string]any{
			"run_id":    run.ID,
			"timestamp": time.Now().Format(time.RFC3339),
			"not_found": notFound,
		},
		"mixtape": fin,
	})
}

/* =========================
   Main
   ========================= */

func main() {
	// 0. Local overrides, ignored when absent
	_ = godotenv.Load()

	// 1. Validate Environment Variables (Fail fast)
	spotifyID := os.Getenv("SPOTIFY_ID")
	spotifySecret := os.Getenv("SPOTIFY_SECRET")
	if spotifyID == "" || spotifySecret == "" {
		log.Fatal("CRITICAL: SPOTIFY_ID and SPOTIFY_SECRET must be set in environment")
	}

	// 2. Database Setup
	dbPath := "./data/registry.db"
	_ = os.MkdirAll(filepath.Dir(dbPath), 0755)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer db.Close()

	if err := registry.InitDatabase(db); err != nil {
		log.Fatalf("Failed to init DB schema: %v", err)
	}

	// 3. Initialize Long-Lived Spotify Client
	ctx := context.Background()
	config := &clientcredentials.Config{
		ClientID:     spotifyID,
		ClientSecret: spotifySecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	httpClient := config.Client(ctx)
	spotifyClient := spotify.New(httpClient)

	// MusicBrainz is opt-in: its 1 req/s limiter serializes every
	// ISRC-bearing resolution, so the cost is only worth paying when the
	// operator asks for it.
	var catOpts []catalog.Option
	if envTruthy(os.Getenv("ORIGIN_MB_ENABLE")) {
		catOpts = append(catOpts, catalog.WithMusicBrainz(catalog.NewMusicBrainz()))
	}
	if market := os.Getenv("SPOTIFY_MARKET"); market != "" {
		catOpts = append(catOpts, catalog.WithMarket(market))
	}

	// 4. Optional Generative Backend
	var gen *generate.Client
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		gen = generate.NewClient(key)
		if base := os.Getenv("OPENAI_API_BASE"); base != "" {
			gen.BaseURL = base
		}
		if model := os.Getenv("OPENAI_MODEL"); model != "" {
			gen.Model = model
		}
	} else {
		log.Println("OPENAI_API_KEY not set: running in candidates-only mode")
	}

	srv := &server{
		db:     db,
		cat:    catalog.New(spotifyClient, catOpts...),
		gen:    gen,
		runDir: os.Getenv("RUNLOG_DIR"),
	}

	// 5. Routing
	http.HandleFunc("/api/v1/mixtape", RecoveryMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost && r.Method != http.MethodOptions {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		srv.handleMixtape(w, r)
	}))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("TRIW Mixtape Engine listening on :%s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}
