package warden

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"
)

// Router returns the warden HTTP API mounted under /api/v1. authHash is a
// bcrypt hash checked against the basic-auth password; empty disables auth
// (loopback-only deployments).
func (s *Service) Router(authHash string) http.Handler {
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		if authHash != "" {
			r.Use(basicAuth(authHash))
		}

		r.Get("/history", s.handleHistory)
		r.Delete("/history", s.handleClearHistory)
		r.Post("/history/{index}/restore", s.handleRestore)

		r.Post("/check", s.handleCheck)

		r.Get("/badge", s.handleBadge)
		r.Post("/badge/reset", s.handleBadgeReset)

		r.Get("/notifications", s.handleNotifications)
		r.Post("/notifications/{id}/undo", s.handleUndo)
		r.Post("/notifications/{id}/dismiss", s.handleDismiss)

		r.Post("/export", s.handleExport)
		r.Post("/test/{platform}", s.handleTest)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
	})

	return r
}

// basicAuth checks the basic-auth password against a bcrypt hash. The
// username is not significant; this is a single-user daemon.
func basicAuth(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, pass, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="tabwarden"`)
				writeErr(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.History(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	badge, err := s.Badge(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": hist, "badge": badge})
}

func (s *Service) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.ClearHistory(r.Context()); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleRestore(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	switch err := s.RestoreHistoryEntry(r.Context(), index); {
	case errors.Is(err, ErrBadIndex):
		writeErr(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleCheck starts a check without waiting for it; overlapping requests
// coalesce into the one in flight.
func (s *Service) handleCheck(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := s.RunCheck(s.ctx); err != nil {
			s.log.Error("requested check failed", "err", err)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "check started"})
}

func (s *Service) handleBadge(w http.ResponseWriter, r *http.Request) {
	n, err := s.Badge(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Service) handleBadgeReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ResetBadge(r.Context()); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := s.Notifications(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Service) handleUndo(w http.ResponseWriter, r *http.Request) {
	switch err := s.Undo(r.Context(), chi.URLParam(r, "id")); {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) handleDismiss(w http.ResponseWriter, r *http.Request) {
	switch err := s.Dismiss(r.Context(), chi.URLParam(r, "id")); {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeErr(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	if err := s.ExportNow(r.Context()); err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleTest(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	if platform != "email" && platform != "chat" {
		writeErr(w, http.StatusNotFound, "unknown platform")
		return
	}
	var body struct {
		Recipient string `json:"recipient"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	if err := s.SendTest(r.Context(), platform, body.Recipient); err != nil {
		writeErr(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.SettingsSnapshot())
}

func (s *Service) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var st Settings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid settings document")
		return
	}
	if err := s.UpdateSettings(r.Context(), st); err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.SettingsSnapshot())
}
