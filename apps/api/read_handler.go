package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type readRequest struct {
	MessageIDs []int64 `json:"message_ids"`
}

type readResponse struct {
	// MessageIDs lists the messages newly marked read; repeats are omitted.
	MessageIDs []int64 `json:"message_ids"`
}

func (s *server) markRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if err := decode(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	changed, err := s.svc.MarkRead(r.Context(), actor(r), chi.URLParam(r, "id"), req.MessageIDs)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if changed == nil {
		changed = []int64{}
	}
	writeJSON(w, http.StatusOK, readResponse{MessageIDs: changed})
}
