// Package server is the operator-facing status surface: tracked
// clans, reconciliation dashboards, cohort sync view and on-demand
// compliance verdicts.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"fwa-warsync/internal/config"
	"fwa-warsync/internal/domain"
	"fwa-warsync/internal/kv"
	"fwa-warsync/internal/metrics"
	"fwa-warsync/internal/middleware"
	"fwa-warsync/internal/repository"
	"fwa-warsync/internal/service"
	"fwa-warsync/internal/warphase"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

type StatusServer struct {
	clans      *repository.ClanRepository
	history    *repository.WarHistoryRepository
	attacks    *repository.AttackRepository
	reconciler *service.Reconciler
	ledger     *service.SyncLedger
	store      kv.Store
	metrics    *metrics.Metrics
	cfg        *config.Config
	logger     zerolog.Logger
}

func NewStatusServer(
	clans *repository.ClanRepository,
	history *repository.WarHistoryRepository,
	attacks *repository.AttackRepository,
	reconciler *service.Reconciler,
	ledger *service.SyncLedger,
	store kv.Store,
	m *metrics.Metrics,
	cfg *config.Config,
	logger zerolog.Logger,
) *StatusServer {
	return &StatusServer{
		clans:      clans,
		history:    history,
		attacks:    attacks,
		reconciler: reconciler,
		ledger:     ledger,
		store:      store,
		metrics:    m,
		cfg:        cfg,
		logger:     logger,
	}
}

func (s *StatusServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/clans", s.handleClans)
		r.Get("/clans/{tag}/sync", s.handleClanSync)
		r.Get("/clans/{tag}/compliance", s.handleCompliance)
		r.Get("/sync", s.handleCohortSync)
	})

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(r)
}

func (s *StatusServer) handleClans(w http.ResponseWriter, r *http.Request) {
	clans, err := s.clans.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, clans)
}

func (s *StatusServer) handleClanSync(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	job, err := s.reconciler.Load(r.Context(), tag)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	clan, err := s.clans.Get(r.Context(), tag)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if clan == nil {
		http.Error(w, "clan not tracked", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"clan":             clan,
		"job":              job,
		"confirmed_scrape": clan.ConfirmedScrape,
	})
}

// handleCompliance computes a fresh verdict for the clan's most
// recently recorded war. Verdicts are derived, never stored.
func (s *StatusServer) handleCompliance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tag := chi.URLParam(r, "tag")

	rec, err := s.history.GetLatest(ctx, tag)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if rec == nil {
		http.Error(w, "no recorded wars", http.StatusNotFound)
		return
	}

	clan, err := s.clans.Get(ctx, tag)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	loseStyle := domain.LoseTraditional
	if clan != nil {
		loseStyle = clan.LoseStyle
	}

	members, err := s.attacks.ListMembers(ctx, tag, rec.WarStartTime)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	attacks, err := s.attacks.ListByWar(ctx, tag, rec.WarStartTime)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// War end for window math: recorded wars carry start time; the
	// raw payload keeps the exact end, but start+24h is the game's
	// fixed battle length and is what the window rules key off.
	warEnd := rec.WarStartTime.Add(24 * time.Hour)

	verdict := service.Audit(service.AuditInput{
		MatchType:       rec.MatchType,
		ExpectedOutcome: rec.ExpectedOutcome,
		LoseStyle:       loseStyle,
		WarEnd:          warEnd,
		Members:         members,
		Attacks:         attacks,
		StrictWindow:    s.cfg.StrictWindow,
		TrueStarCap:     s.cfg.TrueStarCap,
		LoseTopCut:      s.cfg.LoseTopCutoff,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"war":     rec,
		"verdict": verdict,
	})
}

// handleCohortSync reports the alliance-wide sync number, excluding
// clans that missed the sync window so stragglers do not corrupt the
// shared number. While nobody is at war the value is ambiguous
// ("between #N and #N+1").
func (s *StatusServer) handleCohortSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	prev, err := s.ledger.Get(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	clans, err := s.clans.List(ctx)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	cohort := make([]service.ClanWarState, 0, len(clans))
	anyAtWar := false
	for _, clan := range clans {
		state := service.ClanWarState{Tag: clan.Tag, Phase: s.phaseOf(ctx, clan.Tag)}
		if state.Phase != warphase.NotInWar {
			anyAtWar = true
			if war := s.lastWarOf(ctx, clan.Tag); war != nil {
				state.WarStart = war.StartTime
			}
		}
		cohort = append(cohort, state)
	}

	missed := service.MissedSync(cohort, time.Now().UTC(), s.cfg.MissedSyncWindow)
	missedTags := make([]string, 0, len(missed))
	for tag := range missed {
		missedTags = append(missedTags, tag)
	}
	sort.Strings(missedTags)

	resp := map[string]any{
		"previous_sync": prev,
		"ambiguous":     !anyAtWar,
		"missed_sync":   missedTags,
	}
	if prev != nil {
		resp["current_sync"] = *prev + 1
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *StatusServer) phaseOf(ctx context.Context, tag string) warphase.Phase {
	raw, ok, err := s.store.Get(ctx, kv.PhaseKey(domain.NormalizeTag(tag)))
	if err != nil || !ok {
		return warphase.NotInWar
	}
	return warphase.Classify(raw)
}

func (s *StatusServer) lastWarOf(ctx context.Context, tag string) *domain.WarInfo {
	raw, ok, err := s.store.Get(ctx, kv.LastWarKey(domain.NormalizeTag(tag)))
	if err != nil || !ok {
		return nil
	}
	var war domain.WarInfo
	if err := json.Unmarshal([]byte(raw), &war); err != nil {
		return nil
	}
	return &war
}

func (s *StatusServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
