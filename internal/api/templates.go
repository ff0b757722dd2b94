package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/graph"
)

const maxTemplateBytes = 1 << 20

// readTemplate validates the request body against the template schema and
// decodes it.
func readTemplate(w http.ResponseWriter, r *http.Request) (*flow.WorkflowTemplate, bool) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxTemplateBytes))
	if err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "read body: "+err.Error())
		return nil, false
	}
	tpl, err := graph.DecodeJSON(data)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return tpl, true
}

// POST /api/templates
func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, ok := readTemplate(w, r)
	if !ok {
		return
	}
	created, err := s.templates.Create(r.Context(), tpl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request) {
	tpls, err := s.templates.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if tpls == nil {
		tpls = []*flow.WorkflowTemplate{}
	}
	writeJSON(w, http.StatusOK, tpls)
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.templates.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// updateTemplate replaces a template and bumps its version.
// PUT /api/templates/{name}
func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, ok := readTemplate(w, r)
	if !ok {
		return
	}
	updated, err := s.templates.Update(r.Context(), chi.URLParam(r, "name"), tpl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateTemplate checks a template without storing it and returns the
// compiled view: the template as stored, entry and exit nodes, and the
// inbound edges of every node for editors to draw.
// POST /api/templates/validate
func (s *Server) validateTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, ok := readTemplate(w, r)
	if !ok {
		return
	}
	g, err := s.templates.Validate(tpl)
	if err != nil {
		writeError(w, err)
		return
	}
	compiled := g.Template()
	parents := make(map[string][]string, len(compiled.Nodes))
	for _, n := range compiled.Nodes {
		if p := g.Parents(n.ID); len(p) > 0 {
			parents[n.ID] = p
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"start":    g.Start(),
		"ends":     g.Ends(),
		"parents":  parents,
		"template": compiled,
	})
}

// GET /api/templates/schema
func (s *Server) templateSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := graph.Schema()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.Write(schema)
}
