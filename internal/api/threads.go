package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/convograph/internal/flow"
	"github.com/soochol/convograph/internal/services"
)

type createThreadRequest struct {
	Template string         `json:"template"`
	Context  map[string]any `json:"context"`
}

// createThread starts a workflow conversation, or a plain chat when no
// template is named.
// POST /api/threads
func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	var req createThreadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var (
		state *flow.ConversationState
		err   error
	)
	if req.Template == "" {
		state, err = s.conversations.StartChat(r.Context())
	} else {
		state, err = s.conversations.Start(r.Context(), req.Template, req.Context)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// listThreads returns threads, newest first.
// GET /api/threads?status=interrupted,active&template=x&limit=20&offset=0
func (s *Server) listThreads(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	f := flow.ThreadFilter{
		Template: r.URL.Query().Get("template"),
		Limit:    limit,
		Offset:   offset,
	}
	if v := r.URL.Query().Get("status"); v != "" {
		for _, st := range strings.Split(v, ",") {
			if st = strings.TrimSpace(st); st != "" {
				f.Statuses = append(f.Statuses, flow.Status(st))
			}
		}
	}

	threads, total, err := s.conversations.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if threads == nil {
		threads = []*flow.ConversationState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"threads": threads,
		"total":   total,
	})
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	state, err := s.conversations.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) deleteThread(w http.ResponseWriter, r *http.Request) {
	if err := s.conversations.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// sendMessage delivers a user message and drives the conversation until it
// waits for the user again.
// POST /api/threads/{id}/messages
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeErrorMessage(w, http.StatusBadRequest, "content is required")
		return
	}
	out, err := s.conversations.Send(r.Context(), chi.URLParam(r, "id"), req.Content)
	writeOutcome(w, out, err)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.conversations.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []flow.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

type stepRequest struct {
	Input string `json:"input"`
}

// stepThread performs exactly one engine step.
// POST /api/threads/{id}/step
func (s *Server) stepThread(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.conversations.Step(r.Context(), chi.URLParam(r, "id"), req.Input)
	writeOutcome(w, out, err)
}

type resumeRequest struct {
	Context map[string]any `json:"context"`
	Actor   string         `json:"actor"`
}

// resumeThread merges approver-supplied context into an interrupted
// conversation and continues it. With an approver configured the actor is
// the token subject.
// POST /api/threads/{id}/resume
func (s *Server) resumeThread(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	actor := req.Actor
	if s.approver != nil {
		subject, err := s.approver.Verify(r)
		if err != nil {
			writeErrorMessage(w, http.StatusUnauthorized, err.Error())
			return
		}
		actor = subject
	}
	if actor == "" {
		actor = "anonymous"
	}
	out, err := s.conversations.Resume(r.Context(), chi.URLParam(r, "id"), req.Context, actor)
	writeOutcome(w, out, err)
}

type cancelRequest struct {
	Reason string `json:"reason"`
	Actor  string `json:"actor"`
}

// POST /api/threads/{id}/cancel
func (s *Server) cancelThread(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !decodeBody(w, r, &req) {
		return
	}
	out, err := s.conversations.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason, req.Actor)
	writeOutcome(w, out, err)
}

func writeOutcome(w http.ResponseWriter, out *services.Outcome, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
