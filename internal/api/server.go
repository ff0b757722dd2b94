package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/convograph/internal/flow/ports"
	"github.com/soochol/convograph/internal/services"
	"github.com/soochol/convograph/internal/tools"
)

// KnowledgeIngester stores documents in a knowledge collection.
// *knowledge.Store satisfies this interface.
type KnowledgeIngester interface {
	Ingest(ctx context.Context, collection string, docs []ports.Document) ([]string, error)
}

type Server struct {
	conversations *services.ConversationService
	templates     *services.TemplateService
	toolReg       *tools.Registry
	events        *services.EventLog
	locker        *services.ThreadLocker
	approver      *Approver
	knowledge     KnowledgeIngester
}

func NewServer(conversations *services.ConversationService, templates *services.TemplateService, toolReg *tools.Registry) *Server {
	return &Server{
		conversations: conversations,
		templates:     templates,
		toolReg:       toolReg,
	}
}

// SetEventLog enables the thread event stream.
func (s *Server) SetEventLog(log *services.EventLog) {
	s.events = log
}

// SetThreadLocker exposes the locker's statistics.
func (s *Server) SetThreadLocker(locker *services.ThreadLocker) {
	s.locker = locker
}

// SetApprover makes resume require a signed approver token.
func (s *Server) SetApprover(a *Approver) {
	s.approver = a
}

// SetKnowledge enables document ingestion.
func (s *Server) SetKnowledge(k KnowledgeIngester) {
	s.knowledge = k
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Route("/threads", func(r chi.Router) {
			r.Post("/", s.createThread)
			r.Get("/", s.listThreads)
			r.Get("/{id}", s.getThread)
			r.Delete("/{id}", s.deleteThread)
			r.Post("/{id}/messages", s.sendMessage)
			r.Get("/{id}/messages", s.listMessages)
			r.Post("/{id}/step", s.stepThread)
			r.Post("/{id}/resume", s.resumeThread)
			r.Post("/{id}/cancel", s.cancelThread)
			r.Get("/{id}/events", s.streamThreadEvents)
		})
		r.Route("/templates", func(r chi.Router) {
			r.Post("/", s.createTemplate)
			r.Get("/", s.listTemplates)
			r.Post("/validate", s.validateTemplate)
			r.Get("/schema", s.templateSchema)
			r.Get("/{name}", s.getTemplate)
			r.Put("/{name}", s.updateTemplate)
			r.Delete("/{name}", s.deleteTemplate)
		})
		r.Get("/tools", s.listTools)
		r.Get("/stats", s.getStats)
		if s.knowledge != nil {
			r.Post("/knowledge/{collection}", s.ingestKnowledge)
		}
	})
	return r
}

// listTools returns every registered tool.
func (s *Server) listTools(w http.ResponseWriter, r *http.Request) {
	var result []tools.ToolInfo
	if s.toolReg != nil {
		result = s.toolReg.List()
	}
	if result == nil {
		result = []tools.ToolInfo{}
	}
	writeJSON(w, http.StatusOK, result)
}

// getStats returns current step concurrency.
// GET /api/stats
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if s.locker != nil {
		resp["concurrency"] = s.locker.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}
