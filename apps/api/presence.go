package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

const queuePageSize = 100

type onlineResponse struct {
	ChannelID string   `json:"channel_id"`
	Users     []string `json:"users"`
}

func (s *server) onlineUsers(w http.ResponseWriter, r *http.Request) {
	ch, err := s.svc.GetChannel(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if s.online == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "unavailable", Error: "presence is not configured"})
		return
	}
	users, err := s.online.Users(r.Context(), ch.ID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if users == nil {
		users = []string{}
	}
	writeJSON(w, http.StatusOK, onlineResponse{ChannelID: ch.ID, Users: users})
}

type queueEntry struct {
	ChannelID string               `json:"channel_id"`
	Priority  model.TicketPriority `json:"priority"`
	Since     time.Time            `json:"since"`
}

// platformQueue lists channels waiting for platform support, most urgent
// first. Platform staff only.
func (s *server) platformQueue(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if a.Role != model.RoleSuperAdmin {
		s.writeErr(w, r, &support.AuthorizationError{ActorID: a.UserID, Role: a.Role, ChannelID: "queue", Action: support.ActionRead})
		return
	}
	if s.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Code: "unavailable", Error: "platform queue is not configured"})
		return
	}
	entries, err := s.queue.List(r.Context(), queuePageSize)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]queueEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, queueEntry{ChannelID: e.ChannelID, Priority: e.Priority, Since: e.Since})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}
