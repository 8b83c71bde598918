package lib

import (
	"errors"
	"net/http"

	"github.com/oldschoolag/Faivr/internal"
	"github.com/oldschoolag/Faivr/lib/support"
	"github.com/oldschoolag/Faivr/lib/support/learnings"
	"github.com/oldschoolag/Faivr/lib/support/llm"
)

type chatRequest struct {
	Message *string       `json:"message"`
	History []llm.Message `json:"history"`
}

type chatResponse struct {
	Reply   string       `json:"reply"`
	Mode    support.Mode `json:"mode"`
	MatchID string       `json:"matchId,omitempty"`
}

func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	ip := internal.ClientIP(r)
	if !s.limiter.AllowIP(ip) {
		lg.Debug("chat rate limited")
		s.respondWithStatus(w, r, "rate_limited", http.StatusTooManyRequests)
		return
	}

	var req chatRequest
	if !s.decodeJSON(w, r, lg, &req) {
		return
	}

	if req.Message == nil || *req.Message == "" {
		s.respondWithStatus(w, r, "message_required", http.StatusBadRequest)
		return
	}

	reply := s.responder.Reply(r.Context(), lg, *req.Message, req.History)

	writeJSON(w, http.StatusOK, chatResponse{
		Reply:   reply.Text,
		Mode:    reply.Mode,
		MatchID: reply.MatchID,
	})
}

type feedbackRequest struct {
	ID        string `json:"id"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Helpful   *bool  `json:"helpful"`
	SessionID string `json:"sessionId"`
}

type okResponse struct {
	OK bool                `json:"ok"`
	QA *learnings.CustomQA `json:"qa,omitempty"`
}

func (s *Server) LogFeedback(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req feedbackRequest
	if !s.decodeJSON(w, r, lg, &req) {
		return
	}

	if req.Helpful == nil {
		s.respondWithStatus(w, r, "invalid_feedback", http.StatusBadRequest)
		return
	}

	err := s.learnings.LogFeedback(r.Context(), learnings.FeedbackEntry{
		ID:        req.ID,
		Question:  req.Question,
		Answer:    req.Answer,
		Helpful:   *req.Helpful,
		SessionID: req.SessionID,
	})
	switch {
	case errors.Is(err, learnings.ErrInvalidFeedback):
		s.respondWithStatus(w, r, "invalid_feedback", http.StatusBadRequest)
		return
	case err != nil:
		lg.Error("can't log feedback", "err", err)
		s.respondWithError(w, r, "feedback_failed")
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type feedbackList struct {
	Entries []learnings.FeedbackEntry `json:"entries"`
}

func (s *Server) ListFeedback(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	entries, err := s.learnings.Feedback(r.Context())
	if err != nil {
		lg.Error("can't read feedback", "err", err)
		entries = []learnings.FeedbackEntry{}
	}

	writeJSON(w, http.StatusOK, feedbackList{Entries: entries})
}

type customQARequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

func (s *Server) AddCustomQA(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req customQARequest
	if !s.decodeJSON(w, r, lg, &req) {
		return
	}

	qa, err := s.learnings.AddCustomQA(r.Context(), req.Question, req.Answer)
	switch {
	case errors.Is(err, learnings.ErrInvalidQA):
		s.respondWithStatus(w, r, "question_and_answer_required", http.StatusBadRequest)
		return
	case err != nil:
		lg.Error("can't add custom question", "err", err)
		s.respondWithError(w, r, "custom_qa_failed")
		return
	}

	lg.Info("custom question added", "id", qa.ID)
	writeJSON(w, http.StatusOK, okResponse{OK: true, QA: qa})
}

type customQAList struct {
	QAs []learnings.CustomQA `json:"qas"`
}

func (s *Server) ListCustomQAs(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	qas, err := s.learnings.CustomQAs(r.Context())
	if err != nil {
		lg.Error("can't read custom questions", "err", err)
		s.respondWithError(w, r, "custom_qa_failed")
		return
	}

	writeJSON(w, http.StatusOK, customQAList{QAs: qas})
}
