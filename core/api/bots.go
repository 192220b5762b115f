package api

import (
	"net/http"

	"github.com/m3rciful/chainbot/core/bots"
)

func (s *Server) createBot(w http.ResponseWriter, r *http.Request) {
	var in bots.CreateInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Bots.Create(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) listBots(w http.ResponseWriter, r *http.Request) {
	list, err := s.Bots.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Bots.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) updateBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in bots.UpdateInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Bots.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Bots.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	noContent(w)
}

type welcomePatch struct {
	WelcomeMessage *string `json:"welcome_message"`
}

func (s *Server) getMenu(w http.ResponseWriter, r *http.Request) {
	botID, err := pathID(r, "bot_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.Bots.Menu(r.Context(), botID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) updateMenu(w http.ResponseWriter, r *http.Request) {
	botID, err := pathID(r, "bot_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in welcomePatch
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := s.Bots.UpdateWelcome(r.Context(), botID, in.WelcomeMessage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) createMenuButton(w http.ResponseWriter, r *http.Request) {
	var in bots.MenuButtonInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Bots.CreateMenuButton(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) getMenuButton(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Bots.GetMenuButton(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) updateMenuButton(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in bots.MenuButtonPatch
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Bots.UpdateMenuButton(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteMenuButton(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Bots.DeleteMenuButton(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	noContent(w)
}
