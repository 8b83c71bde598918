package lib

import (
	"net/http"
	"time"

	"github.com/oldschoolag/Faivr/internal"
	"github.com/oldschoolag/Faivr/lib/localization"
	"github.com/oldschoolag/Faivr/lib/ratelimit"
	"github.com/oldschoolag/Faivr/lib/support"
	"github.com/oldschoolag/Faivr/lib/support/learnings"
	"github.com/oldschoolag/Faivr/lib/verify"
)

type Server struct {
	mux         *http.ServeMux
	verifier    *verify.Service
	responder   *support.Responder
	learnings   *learnings.FileStore
	limiter     *ratelimit.Limiter
	adminSecret []byte
	opts        Options
}

type issueRequest struct {
	AgentID AgentID `json:"agentId"`
	Domain  string  `json:"domain"`
	Method  string  `json:"method"`
}

type issueResponse struct {
	ChallengeToken string `json:"challengeToken"`
	Instructions   string `json:"instructions"`
}

func (s *Server) IssueChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)

	var req issueRequest
	if !s.decodeJSON(w, r, lg, &req) {
		return
	}

	iss, err := s.verifier.Issue(r.Context(), lg, verify.IssueRequest{
		AgentID: string(req.AgentID),
		Domain:  req.Domain,
		Method:  req.Method,
	})
	if err != nil {
		s.respondWithVerifyError(w, r, lg, err)
		return
	}

	writeJSON(w, http.StatusOK, issueResponse{
		ChallengeToken: iss.Token,
		Instructions:   iss.Instructions,
	})
}

type checkRequest struct {
	AgentID        AgentID `json:"agentId"`
	ChallengeToken string  `json:"challengeToken"`
	Method         string  `json:"method"`
}

type checkResponse struct {
	Verified bool   `json:"verified"`
	AgentID  string `json:"agentId,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Method   string `json:"method,omitempty"`
	Message  string `json:"message"`
}

func (s *Server) CheckChallenge(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)

	var req checkRequest
	if !s.decodeJSON(w, r, lg, &req) {
		return
	}

	res, err := s.verifier.Check(r.Context(), lg, verify.CheckRequest{
		AgentID: string(req.AgentID),
		Token:   req.ChallengeToken,
		Method:  req.Method,
	})
	if err != nil {
		s.respondWithVerifyError(w, r, lg, err)
		return
	}

	if !res.Verified {
		writeJSON(w, http.StatusOK, checkResponse{
			Verified: false,
			Message:  localizer.TData("verification_not_found", map[string]any{"Method": string(res.Method)}),
		})
		return
	}

	writeJSON(w, http.StatusOK, checkResponse{
		Verified: true,
		AgentID:  res.AgentID,
		Domain:   res.Domain,
		Method:   string(res.Method),
		Message:  localizer.T("verification_successful"),
	})
}

type statusResponse struct {
	AgentID    string     `json:"agentId"`
	Verified   bool       `json:"verified"`
	Domain     *string    `json:"domain"`
	Method     *string    `json:"method"`
	VerifiedAt *time.Time `json:"verifiedAt"`
	ExpiresAt  *time.Time `json:"expiresAt"`
	Message    string     `json:"message"`
}

func (s *Server) VerificationStatus(w http.ResponseWriter, r *http.Request) {
	lg := internal.GetRequestLogger(r)
	localizer := localization.GetLocalizer(r)

	st, err := s.verifier.Status(r.Context(), r.PathValue("agentId"))
	if err != nil {
		s.respondWithVerifyError(w, r, lg, err)
		return
	}

	resp := statusResponse{
		AgentID:    st.AgentID,
		Verified:   st.Verified,
		Domain:     st.Domain,
		VerifiedAt: st.VerifiedAt,
		ExpiresAt:  st.ExpiresAt,
		Message:    localizer.T("status_placeholder"),
	}

	if st.Method != nil {
		m := string(*st.Method)
		resp.Method = &m
	}

	writeJSON(w, http.StatusOK, resp)
}
