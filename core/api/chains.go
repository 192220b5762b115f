package api

import (
	"net/http"

	"github.com/m3rciful/chainbot/core/apperr"
	"github.com/m3rciful/chainbot/core/chains"
)

func (s *Server) createChain(w http.ResponseWriter, r *http.Request) {
	var in chains.CreateChainInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.Chains.CreateChain(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) listChains(w http.ResponseWriter, r *http.Request) {
	botID, err := queryInt(r, "bot_id", 0)
	if err != nil || botID <= 0 {
		writeError(w, r, apperr.Invalid("bot_id query parameter is required"))
		return
	}
	list, err := s.Chains.ListChains(r.Context(), int64(botID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getChain(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.Chains.GetChain(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateChain(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in chains.UpdateChainInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.Chains.UpdateChain(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteChain(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Chains.DeleteChain(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	noContent(w)
}

func (s *Server) chainDetail(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	tree, err := s.Chains.Detail(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (s *Server) chainResults(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	perPage, err := queryInt(r, "per_page", 10)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.Chains.Results(r.Context(), id, page, perPage)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) createStep(w http.ResponseWriter, r *http.Request) {
	var in chains.CreateStepInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.Chains.CreateStep(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) listSteps(w http.ResponseWriter, r *http.Request) {
	chainID, err := queryInt(r, "chain_id", 0)
	if err != nil || chainID <= 0 {
		writeError(w, r, apperr.Invalid("chain_id query parameter is required"))
		return
	}
	list, err := s.Chains.ListSteps(r.Context(), int64(chainID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getStep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.Chains.GetStep(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) updateStep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in chains.UpdateStepInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	st, err := s.Chains.UpdateStep(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) deleteStep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Chains.DeleteStep(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	noContent(w)
}

func (s *Server) createButton(w http.ResponseWriter, r *http.Request) {
	var in chains.CreateButtonInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Chains.CreateButton(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) listButtons(w http.ResponseWriter, r *http.Request) {
	stepID, err := queryInt(r, "step_id", 0)
	if err != nil || stepID <= 0 {
		writeError(w, r, apperr.Invalid("step_id query parameter is required"))
		return
	}
	list, err := s.Chains.ListButtons(r.Context(), int64(stepID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) getButton(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Chains.GetButton(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) updateButton(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in chains.UpdateButtonInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := s.Chains.UpdateButton(r.Context(), id, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteButton(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.Chains.DeleteButton(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	noContent(w)
}

type nextStepBody struct {
	NextStepID *int64 `json:"next_chain_step_id"`
}

func (s *Server) setNextStep(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var in nextStepBody
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	if in.NextStepID == nil {
		writeError(w, r, apperr.Invalid("next_chain_step_id is required"))
		return
	}
	b, err := s.Chains.SetNextStepForButton(r.Context(), id, *in.NextStepID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
