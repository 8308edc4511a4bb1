package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mailgrant/mailgrant/internal/codec"
	"github.com/mailgrant/mailgrant/internal/upstream"
)

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	authURL, state, err := s.broker.BeginAuthorization(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"auth_url": authURL,
		"state":    state,
	})
}

type exchangeRequest struct {
	Code       string   `json:"code"`
	State      string   `json:"state"`
	AllowedIPs []string `json:"allowed_ips,omitempty"`
}

func (s *Server) handleExchangeCode(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "malformed JSON body")
		return
	}
	if req.Code == "" {
		writeInvalidRequest(w, "code is required")
		return
	}

	token, err := s.broker.ExchangeCode(r.Context(), req.Code, req.State, req.AllowedIPs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_token": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := s.broker.WhoAmI(r.Context(), principalFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]*upstream.Profile{"user": profile})
}

func (s *Server) handleSendEmail(w http.ResponseWriter, r *http.Request) {
	var draft codec.Draft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeInvalidRequest(w, "malformed JSON body")
		return
	}

	id, err := s.broker.Send(r.Context(), principalFrom(r.Context()), &draft)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id})
}

func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request) {
	opts := upstream.ListOptions{
		Query:     r.URL.Query().Get("query"),
		PageToken: r.URL.Query().Get("page_token"),
	}
	if raw := r.URL.Query().Get("max_results"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 1 {
			writeInvalidRequest(w, "max_results must be a positive integer")
			return
		}
		opts.MaxResults = n
	}

	page, err := s.broker.List(r.Context(), principalFrom(r.Context()), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetEmail(w http.ResponseWriter, r *http.Request) {
	msg, err := s.broker.GetRaw(r.Context(), principalFrom(r.Context()),
		chi.URLParam(r, "id"), r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleGetParsedEmail(w http.ResponseWriter, r *http.Request) {
	parsed, err := s.broker.GetParsed(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, parsed)
}

func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	attachmentID := chi.URLParam(r, "attachmentID")
	body, err := s.broker.GetAttachment(r.Context(), principalFrom(r.Context()),
		chi.URLParam(r, "messageID"), attachmentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attachment_id": attachmentID,
		"data":          body.Data,
		"size":          body.Size,
	})
}
