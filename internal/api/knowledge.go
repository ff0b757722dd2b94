package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/convograph/internal/flow/ports"
)

type ingestRequest struct {
	Documents []ports.Document `json:"documents"`
}

// ingestKnowledge embeds and stores documents in a collection.
// POST /api/knowledge/{collection}
func (s *Server) ingestKnowledge(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		writeErrorMessage(w, http.StatusBadRequest, "documents are required")
		return
	}
	for _, d := range req.Documents {
		if d.Content == "" {
			writeErrorMessage(w, http.StatusBadRequest, "document content is required")
			return
		}
	}
	ids, err := s.knowledge.Ingest(r.Context(), chi.URLParam(r, "collection"), req.Documents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}
