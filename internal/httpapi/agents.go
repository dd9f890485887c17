package httpapi

import (
	"net/http"

	"github.com/tealdrake/mantle/internal/store"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		storeError(w, err)
		return
	}
	respond(w, http.StatusOK, agents)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var def store.AgentDefinition
	if err := decodeJSON(r, &def); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := def.Validate(); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateAgent(r.Context(), &def); err != nil {
		storeError(w, err)
		return
	}
	respond(w, http.StatusCreated, def)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		storeError(w, err)
		return
	}
	if agent == nil {
		fail(w, http.StatusNotFound, "agent not found")
		return
	}
	respond(w, http.StatusOK, agent)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var def store.AgentDefinition
	if err := decodeJSON(r, &def); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	def.ID = r.PathValue("id")
	if err := def.Validate(); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateAgent(r.Context(), &def); err != nil {
		storeError(w, err)
		return
	}
	respond(w, http.StatusOK, def)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteAgent(r.Context(), r.PathValue("id")); err != nil {
		storeError(w, err)
		return
	}
	respondMsg(w, http.StatusOK, "agent deleted")
}
