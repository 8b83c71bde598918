package lib

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/oldschoolag/Faivr/lib/localization"
	"github.com/oldschoolag/Faivr/lib/verify"
)

// maxBodySize caps JSON request bodies.
const maxBodySize = 64 << 10

// AgentID is an agent identifier sent either as a JSON string or as a
// positive JSON integer.
type AgentID string

func (a *AgentID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*a = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = AgentID(s)
		return nil
	}

	n, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil || n == 0 {
		return fmt.Errorf("agentId must be a string or a positive integer, got: %s", data)
	}

	*a = AgentID(data)
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) respondWithStatus(w http.ResponseWriter, r *http.Request, messageID string, status int) {
	localizer := localization.GetLocalizer(r)
	writeJSON(w, status, errorResponse{Error: localizer.T(messageID)})
}

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, messageID string) {
	s.respondWithStatus(w, r, messageID, http.StatusInternalServerError)
}

// respondWithVerifyError maps err onto its status and public message.
// Anything that is not a *verify.Error is a 500.
func (s *Server) respondWithVerifyError(w http.ResponseWriter, r *http.Request, lg *slog.Logger, err error) {
	var verr *verify.Error
	if !errors.As(err, &verr) {
		lg.Error("unexpected error", "err", err)
		s.respondWithError(w, r, "internal_server_error")
		return
	}

	if verr.StatusCode >= 500 {
		lg.Error("verification failed", "verb", verr.Verb, "err", verr.PrivateReason)
	} else {
		lg.Debug("verification rejected", "verb", verr.Verb, "err", verr.PrivateReason)
	}

	s.respondWithStatus(w, r, verr.PublicReason, verr.StatusCode)
}

// decodeJSON reads a JSON body into dst. A body that is not JSON at all is a
// 500; a well-formed body with a rejected field is a 400.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, lg *slog.Logger, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if malformedBody(err) {
			lg.Error("can't parse request body", "err", err)
			s.respondWithError(w, r, "internal_server_error")
			return false
		}

		lg.Debug("can't decode request body", "err", err)
		s.respondWithStatus(w, r, "invalid_request_body", http.StatusBadRequest)
		return false
	}

	return true
}

func malformedBody(err error) bool {
	var serr *json.SyntaxError
	return errors.As(err, &serr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
