package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

func (s *server) createChannel(w http.ResponseWriter, r *http.Request) {
	var in support.CreateChannelInput
	if err := decode(r, &in); err != nil {
		s.writeErr(w, r, err)
		return
	}
	ch, err := s.svc.CreateChannel(r.Context(), actor(r), in)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ch)
}

// listChannels returns the caller's channels, most recently active first.
func (s *server) listChannels(w http.ResponseWriter, r *http.Request) {
	chs, err := s.svc.ListChannelsForUser(r.Context(), actor(r))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if chs == nil {
		chs = []*model.Channel{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": chs})
}

func (s *server) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := s.svc.GetChannel(r.Context(), actor(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

type transitionRequest struct {
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

// transitionHandler adapts one lifecycle operation to an HTTP handler.
func (s *server) transitionHandler(op func(r *http.Request, id string, req transitionRequest) (*model.Channel, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if err := decode(r, &req); err != nil {
			s.writeErr(w, r, err)
			return
		}
		ch, err := op(r, chi.URLParam(r, "id"), req)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ch)
	}
}

func (s *server) escalate(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(func(r *http.Request, id string, req transitionRequest) (*model.Channel, error) {
		return s.svc.Escalate(r.Context(), actor(r), id, req.Reason)
	})(w, r)
}

func (s *server) deescalate(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(func(r *http.Request, id string, _ transitionRequest) (*model.Channel, error) {
		return s.svc.Deescalate(r.Context(), actor(r), id)
	})(w, r)
}

func (s *server) resolve(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(func(r *http.Request, id string, req transitionRequest) (*model.Channel, error) {
		return s.svc.Resolve(r.Context(), actor(r), id, req.Note)
	})(w, r)
}

func (s *server) reopen(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(func(r *http.Request, id string, _ transitionRequest) (*model.Channel, error) {
		return s.svc.Reopen(r.Context(), actor(r), id)
	})(w, r)
}

func (s *server) archive(w http.ResponseWriter, r *http.Request) {
	s.transitionHandler(func(r *http.Request, id string, _ transitionRequest) (*model.Channel, error) {
		return s.svc.Archive(r.Context(), actor(r), id)
	})(w, r)
}

func (s *server) assign(w http.ResponseWriter, r *http.Request) {
	var in support.AssignInput
	if err := decode(r, &in); err != nil {
		s.writeErr(w, r, err)
		return
	}
	ch, err := s.svc.Assign(r.Context(), actor(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}
