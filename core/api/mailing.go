package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type mailingBody struct {
	Message string `json:"message"`
}

func (s *Server) startMailing(w http.ResponseWriter, r *http.Request) {
	botID, err := pathID(r, "bot_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in mailingBody
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	started, err := s.Mailing.Create(r.Context(), botID, in.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, started)
}

func (s *Server) mailingStatus(w http.ResponseWriter, r *http.Request) {
	m, err := s.Mailing.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) cancelMailing(w http.ResponseWriter, r *http.Request) {
	m, err := s.Mailing.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}
