// Package web is the HTTP surface: the language catalog for client pickers,
// the preference-change inbox, caption history, and the live caption socket.
package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"babble.town/lang"
	"babble.town/room"
	"babble.town/store"
)

type Server struct {
	Session *room.Session
	Store   *store.Store
	Hub     *Hub
	Logger  *log.Logger
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/languages", s.handleLanguages)
	r.Get("/captions", s.handleCaptions)
	r.Post("/attributes", s.handleAttributes)
	if s.Hub != nil {
		r.Get("/captions/live", s.Hub.ServeWS)
	}

	return r
}

func (s *Server) ListenAndServe(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.Logger.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
	return http.ListenAndServe(addr, s.Routes())
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	payload, err := lang.MarshalCatalog()
	if err != nil {
		http.Error(w, "failed to serialize catalog", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func (s *Server) handleCaptions(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "caption history not configured", http.StatusServiceUnavailable)
		return
	}

	rows, err := s.Store.Recent(r.Context(), 100)
	if err != nil {
		s.Logger.Error("fetch captions", "error", err)
		http.Error(w, "failed to fetch captions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(rows); err != nil {
		s.Logger.Error("encode captions", "error", err)
	}
}

// attributeChange is the preference-change notification clients post when a
// participant picks a caption language.
type attributeChange struct {
	ParticipantIdentity string            `json:"participant_identity"`
	Attributes          map[string]string `json:"attributes"`
}

func (s *Server) handleAttributes(w http.ResponseWriter, r *http.Request) {
	if s.Session == nil {
		http.Error(w, "no active session", http.StatusServiceUnavailable)
		return
	}

	var change attributeChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		http.Error(w, "malformed attribute change", http.StatusBadRequest)
		return
	}
	if change.ParticipantIdentity == "" {
		http.Error(w, "participant_identity is required", http.StatusBadRequest)
		return
	}

	s.Session.HandleAttributesChanged(
		change.ParticipantIdentity,
		change.Attributes,
	)
	w.WriteHeader(http.StatusAccepted)
}
