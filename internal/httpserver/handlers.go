package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/blackmichael/tweetwall/internal/domain"
	"github.com/goccy/go-json"
)

type submitRequest struct {
	URL         string `json:"url"`
	SubmittedBy string `json:"submittedBy"`
	Secret      string `json:"secret"`
}

// handleSubmit adds a tweet or merges a new poster into an existing one.
// 201 on create, 200 on merge or poster no-op.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}

	secret := req.Secret
	if secret == "" {
		secret = secretFromRequest(r)
	}
	if secret != s.cfg.APISecret {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing API secret")
		return
	}

	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "missing tweet URL")
		return
	}

	id, ok := domain.ParseTweetURL(req.URL)
	if !ok {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid tweet URL or ID format")
		return
	}

	existing, err := s.registry.GetMetadata(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	rec, err := s.registry.Submit(r.Context(), id, req.SubmittedBy)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	status := http.StatusOK
	if existing == nil {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{
		"success": true,
		"tweetId": rec.ID,
		"tweet":   rec.View(),
	})
}

// handleList returns all tweet IDs, newest first. When the store is
// unreachable it serves the configured static seed list so displays keep
// working; writes never get that fallback.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if secretFromRequest(r) != s.cfg.APISecret {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing API secret")
		return
	}

	ids, err := s.registry.List(r.Context())
	if err != nil {
		if errors.Is(err, domain.ErrStorageUnavailable) && len(s.cfg.SeedTweetIDs) > 0 {
			s.logger.Warn("storage unavailable, serving seed tweet list", "error", err)
			writeJSON(w, http.StatusOK, map[string]any{
				"success":  true,
				"tweetIds": s.cfg.SeedTweetIDs,
				"count":    len(s.cfg.SeedTweetIDs),
				"fallback": true,
			})
			return
		}
		s.writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"tweetIds": ids,
		"count":    len(ids),
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !domain.ValidTweetID(id) {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid tweet ID format")
		return
	}

	removed, err := s.registry.Remove(r.Context(), id)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "NotFound", "tweet not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tweetId": id,
	})
}

type seenRequest struct {
	Seen bool `json:"seen"`
}

func (s *Server) handleSetSeen(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !domain.ValidTweetID(id) {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid tweet ID format")
		return
	}

	var req seenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed JSON body")
		return
	}

	rec, err := s.registry.SetSeen(r.Context(), id, req.Seen)
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "NotFound", "tweet not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tweet":   rec.View(),
	})
}

// handleCheck is the cheap change poll: just the last mutation time.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	lastUpdated, err := s.registry.LastUpdated(r.Context())
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lastUpdated": lastUpdated,
		"timestamp":   time.Now().UnixMilli(),
	})
}

// handleCleanup runs the retention sweep (cron-triggered), or previews it
// with ?preview=true.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if !s.cronAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized", "invalid or missing secret")
		return
	}

	if r.URL.Query().Get("preview") == "true" {
		expired, err := s.registry.ExpiredPreview(r.Context())
		if err != nil {
			s.writeRegistryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"expiredTweets": expired,
			"count":         len(expired),
		})
		return
	}

	result, err := s.registry.CleanupExpired(r.Context())
	if err != nil {
		s.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"result":  result,
	})
}

func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidID):
		writeError(w, http.StatusBadRequest, "InvalidRequest", "invalid tweet ID format")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NotFound", "tweet not found")
	case errors.Is(err, domain.ErrStorageUnavailable):
		s.logger.Error("storage unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "StorageUnavailable", "storage is temporarily unavailable")
	default:
		s.logger.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "InternalError", "internal server error")
	}
}
