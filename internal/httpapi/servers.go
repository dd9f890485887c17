package httpapi

import (
	"net/http"

	"github.com/tealdrake/mantle/internal/store"
)

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	servers, err := s.store.ListServers(r.Context(), activeOnly)
	if err != nil {
		storeError(w, err)
		return
	}
	respond(w, http.StatusOK, servers)
}

func (s *Server) handleCreateServer(w http.ResponseWriter, r *http.Request) {
	var def store.ServerDefinition
	if err := decodeJSON(r, &def); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := def.Validate(); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateServer(r.Context(), &def); err != nil {
		storeError(w, err)
		return
	}
	respond(w, http.StatusCreated, def)
}

func (s *Server) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	var def store.ServerDefinition
	if err := decodeJSON(r, &def); err != nil {
		fail(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	def.ID = r.PathValue("id")
	if err := def.Validate(); err != nil {
		fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateServer(r.Context(), &def); err != nil {
		storeError(w, err)
		return
	}
	respond(w, http.StatusOK, def)
}

func (s *Server) handleDeleteServer(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteServer(r.Context(), r.PathValue("id")); err != nil {
		storeError(w, err)
		return
	}
	respondMsg(w, http.StatusOK, "server deleted")
}

// serverTool is the wire shape for one discovered tool.
type serverTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// handleServerTools performs a live tool discovery for a single named server.
func (s *Server) handleServerTools(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	servers, err := s.store.ListServers(r.Context(), false)
	if err != nil {
		storeError(w, err)
		return
	}
	known := false
	for _, srv := range servers {
		if srv.Name == name {
			known = true
			break
		}
	}
	if !known {
		fail(w, http.StatusNotFound, "server not found")
		return
	}

	if err := s.registry.Refresh(r.Context()); err != nil {
		s.logger.Warn("registry refresh failed during tool listing", "server", name, "err", err)
	}
	descriptors, err := s.registry.ListTools(r.Context())
	if err != nil {
		fail(w, http.StatusBadGateway, "tool discovery failed: "+err.Error())
		return
	}

	tools := []serverTool{}
	for _, d := range descriptors {
		if d.Server != name {
			continue
		}
		tools = append(tools, serverTool{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	respond(w, http.StatusOK, tools)
}
