package main

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mahaj/dupahar-support/pkg/model"
	"github.com/mahaj/dupahar-support/pkg/support"
)

type messagesResponse struct {
	Messages []model.Message `json:"messages"`
	// NextAfterSeq is the cursor for the following page.
	NextAfterSeq int64 `json:"next_after_seq"`
}

// listMessages pages through the channel log by seq:
// GET /channels/{id}/messages?after_seq=N&limit=M
func (s *server) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	afterSeq, err := queryInt(q.Get("after_seq"), "after_seq")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	limit, err := queryInt(q.Get("limit"), "limit")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	msgs, err := s.svc.ListMessages(r.Context(), actor(r), chi.URLParam(r, "id"), afterSeq, int(limit))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	resp := messagesResponse{Messages: msgs, NextAfterSeq: afterSeq}
	if len(msgs) > 0 {
		resp.NextAfterSeq = msgs[len(msgs)-1].Seq
	} else {
		resp.Messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func queryInt(v, field string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, &support.ValidationError{Field: field, Reason: strconv.Quote(v) + " is not an integer"}
	}
	return n, nil
}

type postMessageRequest struct {
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (s *server) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decode(r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	msg, err := s.svc.PostMessage(r.Context(), actor(r), support.PostMessageInput{
		ChannelID: chi.URLParam(r, "id"),
		Content:   req.Content,
		Metadata:  req.Metadata,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
