package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/lumimind/internal/assistant"
	"github.com/hyperjump/lumimind/internal/chains"
	"github.com/hyperjump/lumimind/internal/kb"
	"github.com/hyperjump/lumimind/internal/models"
	"github.com/hyperjump/lumimind/internal/privacy"
	"github.com/hyperjump/lumimind/internal/session"
)

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req assistant.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.c.Assistant.HandleTurn(r.Context(), req)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"scenarios": chains.Scenarios()})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.c.Assistant.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.c.Assistant.ResetSession(r.Context(), id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"session_id": id, "status": "reset"})
}

func (s *Server) handleConsent(w http.ResponseWriter, r *http.Request) {
	var consent models.Consent
	if err := json.NewDecoder(r.Body).Decode(&consent); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sc, err := s.c.Assistant.SetConsent(r.Context(), chi.URLParam(r, "id"), consent)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sc)
}

type rolePlayRequest struct {
	ScenarioID string `json:"scenario_id"`
}

func (s *Server) handleStartRolePlay(w http.ResponseWriter, r *http.Request) {
	var req rolePlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sc, err := s.c.Assistant.StartRolePlay(r.Context(), chi.URLParam(r, "id"), req.ScenarioID)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, sc)
}

func (s *Server) collectionStats(r *http.Request) []kb.CollectionStats {
	var out []kb.CollectionStats
	for _, name := range s.c.Knowledge.Collections() {
		st, err := s.c.Knowledge.Stats(r.Context(), name)
		if err != nil {
			s.logger.Warn("collection stats failed", zap.String("collection", name), zap.Error(err))
			continue
		}
		out = append(out, st)
	}
	return out
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"collections": s.collectionStats(r)})
}

// collectionDomain resolves the {name} parameter, answering 404 for unknown collections.
func (s *Server) collectionDomain(w http.ResponseWriter, r *http.Request) (string, models.Domain, bool) {
	name := chi.URLParam(r, "name")
	domain, ok := s.c.DomainOf(name)
	if !ok {
		s.respondError(w, http.StatusNotFound, "collection not found")
	}
	return name, domain, ok
}

type ingestRequest struct {
	Path string `json:"path,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	_, domain, ok := s.collectionDomain(w, r)
	if !ok {
		return
	}
	var req ingestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	res, err := s.c.IngestDir(r.Context(), domain, req.Path)
	if err != nil {
		s.logger.Error("ingest failed", zap.String("domain", string(domain)), zap.Error(err))
		s.respondJSON(w, statusFor(err), map[string]any{"error": err.Error(), "report": res})
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name, _, ok := s.collectionDomain(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = s.c.Config.Knowledge.TopK
	}
	res, err := s.c.Knowledge.Query(r.Context(), name, req.Query, req.TopK)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleResetCollection(w http.ResponseWriter, r *http.Request) {
	name, _, ok := s.collectionDomain(w, r)
	if !ok {
		return
	}
	if _, err := s.c.Knowledge.Reset(r.Context(), name); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"collection": name, "status": "reset"})
}

type crisisCheckRequest struct {
	Utterance string `json:"utterance"`
}

func (s *Server) handleCrisisCheck(w http.ResponseWriter, r *http.Request) {
	var req crisisCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Utterance == "" {
		s.respondError(w, http.StatusBadRequest, "utterance is required")
		return
	}
	s.respondJSON(w, http.StatusOK, s.c.Detector.Detect(r.Context(), req.Utterance))
}

type reloadRequest struct {
	Path string `json:"path,omitempty"`
}

func (s *Server) handleCrisisReload(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	n, err := s.c.Detector.ReloadKeywords(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"terms": n, "status": "reloaded"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	cfg := s.c.Config
	resp := map[string]any{
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"collections":    s.collectionStats(r),
		"providers":      s.c.LLM.Guards(),
		"crisis_terms":   s.c.Detector.Lexicon().Len(),
		"config": map[string]any{
			"llm_provider":       cfg.LLM.Provider,
			"llm_model":          cfg.LLM.Model,
			"embedding_provider": cfg.Embedding.Provider,
			"embedding_model":    s.c.Embedder.Model(),
			"session_store":      cfg.Conversation.SessionStore,
			"crisis_threshold":   cfg.Crisis.Threshold,
			"top_k":              cfg.Knowledge.TopK,
		},
	}
	if s.watch != nil {
		resp["watched_corpora"] = s.watch.Corpora()
	}
	if s.c.Stats != nil {
		if counts, err := s.c.Stats.EscalationCounts(r.Context(), time.Now().Add(-24*time.Hour)); err == nil {
			resp["escalations_24h"] = counts
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrIndexCorrupt), errors.Is(err, models.ErrEmbeddingMismatch):
		return http.StatusConflict
	case errors.Is(err, models.ErrCapabilityUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", privacy.String("error", err.Error()))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
